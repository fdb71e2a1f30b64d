package storage

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/johnwmail/quickbin/models"
)

// MemoryStore implements SnippetStore in process memory.
//
// Records live in a map keyed by id. A min-heap ordered by ExpiresAt sits
// next to it so that ScanExpired only touches expired records: the walk
// starts at the heap root and never descends below a live node.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[string]*memEntry
	byExpiry expiryHeap
	closed   bool
}

type memEntry struct {
	snippet *models.Snippet
	index   int // position in byExpiry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*memEntry),
	}
}

// Put stores a copy of snippet.
func (m *MemoryStore) Put(_ context.Context, snippet *models.Snippet) error {
	if snippet == nil || snippet.ID == "" {
		return fmt.Errorf("put: snippet id must not be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if _, exists := m.records[snippet.ID]; exists {
		return ErrDuplicateID
	}

	e := &memEntry{snippet: snippet.Clone()}
	m.records[snippet.ID] = e
	heap.Push(&m.byExpiry, e)
	return nil
}

// Get returns a copy of the snippet if it is still live at now.
func (m *MemoryStore) Get(_ context.Context, id string, now time.Time) (*models.Snippet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	e, ok := m.records[id]
	if !ok || e.snippet.IsExpired(now) {
		return nil, nil
	}
	return e.snippet.Clone(), nil
}

// Delete removes id from the map and the expiry heap.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	e, ok := m.records[id]
	if !ok {
		return nil
	}
	heap.Remove(&m.byExpiry, e.index)
	delete(m.records, id)
	return nil
}

// ScanExpired returns expired ids in ascending expiry order. It performs a
// best-first walk of the expiry heap, so the cost is O(k log k) for k
// returned ids regardless of how many live records are stored.
func (m *MemoryStore) ScanExpired(_ context.Context, now time.Time, limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	var ids []string
	frontier := &heapFrontier{h: m.byExpiry}
	if len(m.byExpiry) > 0 {
		heap.Push(frontier, 0)
	}
	for frontier.Len() > 0 {
		if limit > 0 && len(ids) >= limit {
			break
		}
		i := heap.Pop(frontier).(int)
		e := m.byExpiry[i]
		if e.snippet.ExpiresAt.After(now) {
			// every node left in the frontier expires no earlier than this one
			break
		}
		ids = append(ids, e.snippet.ID)
		for _, child := range []int{2*i + 1, 2*i + 2} {
			if child < len(m.byExpiry) {
				heap.Push(frontier, child)
			}
		}
	}
	return ids, nil
}

// Count returns the number of records held, expired or not.
func (m *MemoryStore) Count(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrClosed
	}
	return int64(len(m.records)), nil
}

// Close drops all records. Further calls fail with ErrClosed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.records = nil
	m.byExpiry = nil
	return nil
}

// expiryHeap is a container/heap of entries ordered by ExpiresAt, ties
// broken by id so the order is total.
type expiryHeap []*memEntry

func (h expiryHeap) Len() int { return len(h) }

func (h expiryHeap) Less(i, j int) bool {
	return entryBefore(h[i], h[j])
}

func (h expiryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *expiryHeap) Push(x any) {
	e := x.(*memEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

func entryBefore(a, b *memEntry) bool {
	if a.snippet.ExpiresAt.Equal(b.snippet.ExpiresAt) {
		return a.snippet.ID < b.snippet.ID
	}
	return a.snippet.ExpiresAt.Before(b.snippet.ExpiresAt)
}

// heapFrontier holds positions of expiryHeap nodes still to visit during
// ScanExpired. It never mutates the underlying heap.
type heapFrontier struct {
	h     expiryHeap
	nodes []int
}

func (f *heapFrontier) Len() int { return len(f.nodes) }

func (f *heapFrontier) Less(i, j int) bool {
	return entryBefore(f.h[f.nodes[i]], f.h[f.nodes[j]])
}

func (f *heapFrontier) Swap(i, j int) { f.nodes[i], f.nodes[j] = f.nodes[j], f.nodes[i] }

func (f *heapFrontier) Push(x any) { f.nodes = append(f.nodes, x.(int)) }

func (f *heapFrontier) Pop() any {
	n := len(f.nodes)
	x := f.nodes[n-1]
	f.nodes = f.nodes[:n-1]
	return x
}
