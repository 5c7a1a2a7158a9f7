package session

// splitBatches splits items into consecutive batches of at most size
// elements, preserving order. It is a pure function so the flush policy can
// be tested without a transport. size <= 0 is treated as 1.
func splitBatches[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = 1
	}
	var out [][]T
	for len(items) > size {
		out = append(out, items[:size:size])
		items = items[size:]
	}
	if len(items) > 0 {
		out = append(out, items)
	}
	return out
}
