package silero

import "testing"

func TestNew_EmptyModelData(t *testing.T) {
	_, err := New(nil)
	if err == nil {
		t.Fatal("expected error for empty model data")
	}
}

func TestPcmToFloat32_EmptyInput(t *testing.T) {
	if out := pcmToFloat32(nil); out != nil {
		t.Fatalf("expected nil output for empty input, got %v", out)
	}
}

func TestPcmToFloat32_Conversion(t *testing.T) {
	// little-endian int16: 0, 16384, -32768
	buf := []byte{0, 0, 0, 64, 0, 128}
	out := pcmToFloat32(buf)
	if len(out) != 3 {
		t.Fatalf("len = %d, want 3", len(out))
	}
	if out[0] != 0 {
		t.Errorf("out[0] = %v, want 0", out[0])
	}
	if out[2] != -1.0 {
		t.Errorf("out[2] = %v, want -1.0", out[2])
	}
}

func TestClearFloat32Slice(t *testing.T) {
	s := []float32{1, 2, 3}
	clearFloat32Slice(s)
	for i, v := range s {
		if v != 0 {
			t.Errorf("s[%d] = %v, want 0", i, v)
		}
	}
}
