package processor

import (
	"testing"

	"workqueue/internal/queue"
)

func TestTruncateBatch(t *testing.T) {
	items := []*queue.SubItem{
		{ID: 1, Failed: true},
		{ID: 2},
		{ID: 3},
		{ID: 4},
	}
	tests := []struct {
		name     string
		items    []*queue.SubItem
		maxBatch int
		want     []int64
	}{
		{name: "unlimited", items: items, maxBatch: -1, want: []int64{1, 2, 3, 4}},
		{name: "fits", items: items, maxBatch: 4, want: []int64{1, 2, 3, 4}},
		{name: "skips failed when truncating", items: items, maxBatch: 2, want: []int64{2, 3}},
		{
			name:     "all failed returns everything",
			items:    []*queue.SubItem{{ID: 7, Failed: true}, {ID: 8, Failed: true}},
			maxBatch: 1,
			want:     []int64{7, 8},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncateBatch(tt.items, tt.maxBatch)
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i, item := range got {
				if item.ID != tt.want[i] {
					t.Fatalf("item %d = %d, want %d", i, item.ID, tt.want[i])
				}
			}
		})
	}
}
