package kvstore

import (
	"container/list"
	"context"
	"strconv"
	"sync"
	"time"
)

// Memory is an in-process Store with strict LRU eviction and per-entry
// TTL. A single mutex guards all state; no lock is held across I/O.
type Memory struct {
	mu      sync.Mutex
	maxSize int
	entries map[string]*list.Element
	order   *list.List
	now     func() time.Time
}

type memoryEntry struct {
	key       string
	value     string
	expiresAt time.Time
}

const defaultMaxSize = 4096

// NewMemory creates an in-process store bounded to maxSize entries.
// maxSize <= 0 selects the default bound.
func NewMemory(maxSize int) *Memory {
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}
	return &Memory{
		maxSize: maxSize,
		entries: make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

// locked; removes the entry when expired and reports whether it survives.
func (m *Memory) live(elem *list.Element) (*memoryEntry, bool) {
	ent := elem.Value.(*memoryEntry)
	if !ent.expiresAt.IsZero() && !m.now().Before(ent.expiresAt) {
		m.removeLocked(elem)
		return nil, false
	}
	return ent, true
}

func (m *Memory) removeLocked(elem *list.Element) {
	ent := elem.Value.(*memoryEntry)
	delete(m.entries, ent.key)
	m.order.Remove(elem)
}

func (m *Memory) setLocked(key, value string, ttl time.Duration) {
	var expires time.Time
	if ttl > 0 {
		expires = m.now().Add(ttl)
	}
	if elem, ok := m.entries[key]; ok {
		ent := elem.Value.(*memoryEntry)
		ent.value = value
		ent.expiresAt = expires
		m.order.MoveToFront(elem)
		return
	}
	if m.order.Len() >= m.maxSize {
		if oldest := m.order.Back(); oldest != nil {
			m.removeLocked(oldest)
		}
	}
	m.entries[key] = m.order.PushFront(&memoryEntry{key: key, value: value, expiresAt: expires})
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	elem, ok := m.entries[key]
	if !ok {
		return "", ErrNotFound
	}
	ent, ok := m.live(elem)
	if !ok {
		return "", ErrNotFound
	}
	m.order.MoveToFront(elem)
	return ent.value, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(key, value, ttl)
	return nil
}

func (m *Memory) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if elem, ok := m.entries[key]; ok {
		if _, alive := m.live(elem); alive {
			return false, nil
		}
	}
	m.setLocked(key, value, ttl)
	return true, nil
}

func (m *Memory) Incr(ctx context.Context, key string) (int64, error) {
	return m.IncrTTL(ctx, key, 0)
}

func (m *Memory) IncrTTL(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.entries[key]; ok {
		if ent, alive := m.live(elem); alive {
			n, err := strconv.ParseInt(ent.value, 10, 64)
			if err != nil {
				return 0, err
			}
			n++
			ent.value = strconv.FormatInt(n, 10)
			m.order.MoveToFront(elem)
			return n, nil
		}
	}
	m.setLocked(key, "1", ttl)
	return 1, nil
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	elem, ok := m.entries[key]
	if !ok {
		return ErrNotFound
	}
	ent, alive := m.live(elem)
	if !alive {
		return ErrNotFound
	}
	if ttl > 0 {
		ent.expiresAt = m.now().Add(ttl)
	} else {
		ent.expiresAt = time.Time{}
	}
	return nil
}

func (m *Memory) TTL(_ context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	elem, ok := m.entries[key]
	if !ok {
		return 0, ErrNotFound
	}
	ent, alive := m.live(elem)
	if !alive {
		return 0, ErrNotFound
	}
	if ent.expiresAt.IsZero() {
		return 0, nil
	}
	return ent.expiresAt.Sub(m.now()), nil
}

func (m *Memory) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if elem, ok := m.entries[key]; ok {
		m.removeLocked(elem)
	}
	return nil
}

// Sweep removes expired entries. Called by the periodic garbage collector.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for elem := m.order.Front(); elem != nil; {
		next := elem.Next()
		if _, alive := m.live(elem); !alive {
			removed++
		}
		elem = next
	}
	return removed
}

// Len reports the number of live and expired-but-unswept entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}
