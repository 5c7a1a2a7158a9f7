package session

import (
	"reflect"
	"testing"
)

func TestSplitBatches(t *testing.T) {
	tests := []struct {
		name  string
		items []int
		size  int
		want  [][]int
	}{
		{"empty", nil, 10, nil},
		{"under one batch", []int{1, 2, 3}, 10, [][]int{{1, 2, 3}}},
		{"exact multiple", []int{1, 2, 3, 4}, 2, [][]int{{1, 2}, {3, 4}}},
		{"remainder", []int{1, 2, 3, 4, 5}, 2, [][]int{{1, 2}, {3, 4}, {5}}},
		{"size one", []int{1, 2}, 1, [][]int{{1}, {2}}},
		{"non-positive size", []int{1, 2}, 0, [][]int{{1}, {2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitBatches(tt.items, tt.size)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("splitBatches(%v, %d) = %v, want %v", tt.items, tt.size, got, tt.want)
			}
		})
	}
}

func TestSplitBatchesPreservesOrderAcrossBatches(t *testing.T) {
	items := make([]int, 25)
	for i := range items {
		items[i] = i
	}
	next := 0
	for _, batch := range splitBatches(items, 10) {
		for _, v := range batch {
			if v != next {
				t.Fatalf("out of order: got %d, want %d", v, next)
			}
			next++
		}
	}
	if next != len(items) {
		t.Fatalf("lost items: saw %d of %d", next, len(items))
	}
}
