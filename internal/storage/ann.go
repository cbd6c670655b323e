package storage

import (
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"sync"

	"github.com/coder/hnsw"
)

// vectorRecord is the sidecar file's on-disk shape: we persist the raw
// (key, vector) pairs with encoding/gob rather than relying on the hnsw
// package's own graph serialization, so the sidecar format stays stable
// across hnsw library versions — on load we simply re-insert every pair
// into a fresh graph, which is also exactly the "rebuilt from
// transcript_segments on open" fallback path when the sidecar is missing or
// unreadable.
type vectorRecord struct {
	Key    string
	Vector []float32
}

// annIndex wraps an in-memory HNSW graph over transcript segment ids,
// mapping each transcript_segments.id to its semantic_embedding vector for
// approximate nearest-neighbor search.
type annIndex struct {
	mu          sync.RWMutex
	graph       *hnsw.Graph[string]
	vectors     map[string][]float32 // mirrors graph contents for exact enumeration at persist time
	dimensions  int
	sidecarPath string
}

func newANNIndex(dimensions int, sidecarPath string) (*annIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("storage: ann_dimensions must be positive")
	}
	return &annIndex{
		graph:       hnsw.NewGraph[string](),
		vectors:     make(map[string][]float32),
		dimensions:  dimensions,
		sidecarPath: sidecarPath,
	}, nil
}

// Add inserts or updates a vector under key.
func (a *annIndex) Add(key string, vector []float32) {
	if len(vector) != a.dimensions {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.graph.Add(hnsw.Node[string]{Key: key, Value: vector})
	a.vectors[key] = vector
}

// Remove deletes key from the index, if present.
func (a *annIndex) Remove(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.graph.Delete(key)
	delete(a.vectors, key)
}

// Search returns the k nearest segment ids to query.
func (a *annIndex) Search(query []float32, k int) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	nodes := a.graph.Search(query, k)
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Key
	}
	return out
}

// loadSidecar attempts to populate the graph from the sidecar file written
// by a prior persist call. A missing or corrupt sidecar is not an error —
// the caller falls back to rebuilding from transcript_segments.
func (a *annIndex) loadSidecar() (bool, error) {
	f, err := os.Open(a.sidecarPath)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer f.Close()

	var records []vectorRecord
	if err := gob.NewDecoder(f).Decode(&records); err != nil {
		return false, nil // treat a corrupt sidecar like a missing one
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range records {
		if len(r.Vector) == a.dimensions {
			a.graph.Add(hnsw.Node[string]{Key: r.Key, Value: r.Vector})
			a.vectors[r.Key] = r.Vector
		}
	}
	return true, nil
}

// persist writes the current graph contents to the sidecar file.
func (a *annIndex) persist() error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	tmp := a.sidecarPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	records := make([]vectorRecord, 0, len(a.vectors))
	for key, vec := range a.vectors {
		records = append(records, vectorRecord{Key: key, Vector: vec})
	}

	if err := gob.NewEncoder(f).Encode(records); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, a.sidecarPath)
}

// rebuildANN loads the sidecar if present, otherwise rebuilds the ANN index
// by scanning every transcript segment with a semantic embedding.
func (s *Store) rebuildANN(ctx context.Context) error {
	loaded, err := s.ann.loadSidecar()
	if err != nil {
		return err
	}
	if loaded {
		return nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, semantic_embedding FROM transcript_segments WHERE semantic_embedding IS NOT NULL`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return err
		}
		vec := bytesToFloat32(blob)
		if len(vec) == s.ann.dimensions {
			s.ann.Add(id, vec)
		}
	}
	return rows.Err()
}
