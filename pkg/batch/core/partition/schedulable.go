package partition

import (
	"container/heap"
	"context"

	"golang.org/x/sync/errgroup"

	model "github.com/tigerroll/backfill/pkg/batch/core/domain/model"
)

// SchedulableOperations returns up to limit Operations that may be ticked now, oldest
// partition first and then by (created_at, id). Each attached partition is scanned
// concurrently and the per-partition results are merged.
func (m *Manager) SchedulableOperations(ctx context.Context, limit int) ([]*model.Operation, error) {
	if limit <= 0 {
		return nil, nil
	}
	parts, err := m.store.Partitions().ListAttached(ctx)
	if err != nil {
		return nil, err
	}
	now := m.clock.Now()

	results := make([][]*model.Operation, len(parts))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range parts {
		i, number := i, p.Number
		g.Go(func() error {
			ops, err := m.store.Operations().FindSchedulable(gctx, number, now, limit)
			if err != nil {
				return err
			}
			results[i] = ops
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return mergeSorted(results, limit), nil
}

// mergeSorted k-way merges lists already sorted by (partition, created_at, id).
func mergeSorted(lists [][]*model.Operation, limit int) []*model.Operation {
	h := make(cursorHeap, 0, len(lists))
	for _, l := range lists {
		if len(l) > 0 {
			h = append(h, &listCursor{list: l})
		}
	}
	heap.Init(&h)

	out := make([]*model.Operation, 0, limit)
	for h.Len() > 0 && len(out) < limit {
		c := h[0]
		out = append(out, c.list[c.pos])
		c.pos++
		if c.pos == len(c.list) {
			heap.Pop(&h)
		} else {
			heap.Fix(&h, 0)
		}
	}
	return out
}

type listCursor struct {
	list []*model.Operation
	pos  int
}

func (c *listCursor) head() *model.Operation {
	return c.list[c.pos]
}

type cursorHeap []*listCursor

func (h cursorHeap) Len() int { return len(h) }

func (h cursorHeap) Less(i, j int) bool {
	return scheduledBefore(h[i].head(), h[j].head())
}

func (h cursorHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *cursorHeap) Push(x interface{}) { *h = append(*h, x.(*listCursor)) }

func (h *cursorHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func scheduledBefore(a, b *model.Operation) bool {
	if a.Partition != b.Partition {
		return a.Partition < b.Partition
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
