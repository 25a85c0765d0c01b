package plugins

import (
	"fmt"
	"iter"
	"sync"

	"github.com/amaumene/lapis/internal/models"
)

// Batch is a lazy, finite, single-use sequence of media produced by one fetch.
// Producers may record warnings while the sequence is consumed.
type Batch struct {
	// Header introduces the mirrored links in the reply, optional
	Header string

	seq      iter.Seq[models.MediaItem]
	once     sync.Once
	mu       sync.Mutex
	warnings []string
}

// NewBatch wraps a producer. The producer is called at most once.
func NewBatch(seq iter.Seq[models.MediaItem]) *Batch {
	return &Batch{seq: seq}
}

// BatchOf builds a batch from already resolved items
func BatchOf(items ...models.MediaItem) *Batch {
	return NewBatch(func(yield func(models.MediaItem) bool) {
		for _, item := range items {
			if !yield(item) {
				return
			}
		}
	})
}

// Items returns the sequence. Only the first call yields anything.
func (b *Batch) Items() iter.Seq[models.MediaItem] {
	return func(yield func(models.MediaItem) bool) {
		b.once.Do(func() {
			if b.seq != nil {
				b.seq(yield)
			}
		})
	}
}

// WithHeader sets the reply header and returns the batch
func (b *Batch) WithHeader(format string, args ...interface{}) *Batch {
	b.Header = fmt.Sprintf(format, args...)
	return b
}

// Warn records a problem that did not abort the fetch
func (b *Batch) Warn(format string, args ...interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.warnings = append(b.warnings, fmt.Sprintf(format, args...))
}

// Warnings returns the warnings recorded so far
func (b *Batch) Warnings() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.warnings...)
}
