package domain

// OffsetRecord is the persisted progress of one tailed file.
// Offset counts the lines already consumed, so it is also the
// 0-based index of the next line to read.
type OffsetRecord struct {
	Path   string
	Offset int64
}

// NormalizeOffset maps the "not started" marker -1 (or any negative) to 0.
func NormalizeOffset(off int64) int64 {
	if off < 0 {
		return 0
	}
	return off
}
