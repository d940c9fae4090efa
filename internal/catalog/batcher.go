package catalog

import "context"

// Batcher accumulates records and flushes them in batches of at most size.
// Batching exists purely to bound peak memory while ingesting catalogs far
// larger than comfortable RAM; batch boundaries carry no semantic meaning.
type Batcher struct {
	size    int
	pending []SegmentRecord
	flush   func(ctx context.Context, batch []SegmentRecord) error
}

// NewBatcher creates a Batcher that calls flush for every full batch.
func NewBatcher(size int, flush func(ctx context.Context, batch []SegmentRecord) error) *Batcher {
	if size <= 0 {
		size = 1000
	}
	return &Batcher{
		size:    size,
		pending: make([]SegmentRecord, 0, size),
		flush:   flush,
	}
}

// Add appends records, flushing whenever a full batch accumulates.
func (b *Batcher) Add(ctx context.Context, records ...SegmentRecord) error {
	b.pending = append(b.pending, records...)
	for len(b.pending) >= b.size {
		batch := b.pending[:b.size]
		if err := b.flush(ctx, batch); err != nil {
			return err
		}
		b.pending = append(b.pending[:0:0], b.pending[b.size:]...)
	}
	return nil
}

// Pending reports how many records are buffered but not yet flushed.
func (b *Batcher) Pending() int {
	return len(b.pending)
}

// Flush drains any remaining partial batch.
func (b *Batcher) Flush(ctx context.Context) error {
	if len(b.pending) == 0 {
		return nil
	}
	batch := b.pending
	b.pending = make([]SegmentRecord, 0, b.size)
	return b.flush(ctx, batch)
}
