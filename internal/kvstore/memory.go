package kvstore

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and local development
// without a Redis instance. TTLs are enforced lazily on read.
type MemoryStore struct {
	mu      sync.Mutex
	values  map[string]memEntry
	streams map[string]*memStream
}

type memEntry struct {
	value   string
	expires time.Time // zero means no expiry
}

type memStream struct {
	messages []StreamMessage
	seq      int
	groups   map[string]*memGroup
}

type memGroup struct {
	cursor  int // index into messages already delivered
	pending map[string]bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:  make(map[string]memEntry),
		streams: make(map[string]*memStream),
	}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.values[key]
	if !ok || s.expired(e) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (s *MemoryStore) expired(e memEntry) bool {
	return !e.expires.IsZero() && time.Now().After(e.expires)
}

func (s *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = s.makeEntry(value, ttl)
	return nil
}

func (s *MemoryStore) makeEntry(value string, ttl time.Duration) memEntry {
	e := memEntry{value: value}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
	}
	return e
}

func (s *MemoryStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.values[key]; ok && !s.expired(e) {
		return false, nil
	}
	s.values[key] = s.makeEntry(value, ttl)
	return true, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.values[key]; ok && e.value == value {
		delete(s.values, key)
	}
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) stream(name string) *memStream {
	st, ok := s.streams[name]
	if !ok {
		st = &memStream{groups: make(map[string]*memGroup)}
		s.streams[name] = st
	}
	return st
}

func (s *MemoryStore) StreamAppend(ctx context.Context, stream string, fields map[string]string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stream(stream)
	st.seq++
	id := idFromSeq(st.seq)
	st.messages = append(st.messages, StreamMessage{ID: id, Fields: cloneFields(fields)})
	return id, nil
}

func (s *MemoryStore) StreamEnsureGroup(ctx context.Context, stream, group string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stream(stream)
	if _, ok := st.groups[group]; !ok {
		st.groups[group] = &memGroup{pending: make(map[string]bool)}
	}
	return nil
}

func (s *MemoryStore) StreamReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]StreamMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stream(stream)
	g, ok := st.groups[group]
	if !ok {
		g = &memGroup{pending: make(map[string]bool)}
		st.groups[group] = g
	}

	var out []StreamMessage
	for g.cursor < len(st.messages) && int64(len(out)) < count {
		m := st.messages[g.cursor]
		g.cursor++
		g.pending[m.ID] = true
		out = append(out, m)
	}
	return out, nil
}

func (s *MemoryStore) StreamAck(ctx context.Context, stream, group string, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[stream]
	if !ok {
		return nil
	}
	g, ok := st.groups[group]
	if !ok {
		return nil
	}
	for _, id := range ids {
		delete(g.pending, id)
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func cloneFields(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func idFromSeq(seq int) string {
	digits := []byte{}
	n := seq
	if n == 0 {
		digits = append(digits, '0')
	}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits) + "-0"
}
