package storage

import "time"

func msToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func nsToDuration(ns int64) time.Duration {
	return time.Duration(ns)
}
