package sequence

// MoveUp returns a copy of seq with the element at i swapped one slot
// towards the front. Index 0 and out-of-range indexes return an unchanged
// copy.
//
// The move never regroups. Callers only move unplanned entries, and only
// one slot at a time, which keeps day groups contiguous.
func MoveUp[T any](seq []T, i int) []T {
	out := make([]T, len(seq))
	copy(out, seq)
	if i <= 0 || i >= len(out) {
		return out
	}
	out[i-1], out[i] = out[i], out[i-1]
	return out
}

// MoveDown is MoveUp towards the back; the last index is a no-op.
func MoveDown[T any](seq []T, i int) []T {
	out := make([]T, len(seq))
	copy(out, seq)
	if i < 0 || i >= len(out)-1 {
		return out
	}
	out[i], out[i+1] = out[i+1], out[i]
	return out
}
