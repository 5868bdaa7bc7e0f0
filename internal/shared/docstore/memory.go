package docstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and local runs without Postgres
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]*memoryDoc
	seq  int64
	now  func() time.Time
}

type memoryDoc struct {
	Document
	seq int64
}

// NewMemoryStore returns an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]*memoryDoc),
		now:  time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, path string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.docs[path]
	if !ok {
		return nil, ErrNotFound
	}
	return d.snapshot(), nil
}

func (s *MemoryStore) Set(_ context.Context, path string, data any) error {
	if err := validatePath(path); err != nil {
		return err
	}
	obj, err := toObject(data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if d, ok := s.docs[path]; ok {
		d.Data = obj
		d.UpdatedAt = s.now()
		return nil
	}
	s.insert(path, obj)
	return nil
}

func (s *MemoryStore) Merge(_ context.Context, path string, fields map[string]any) error {
	if err := validatePath(path); err != nil {
		return err
	}
	obj, err := toObject(fields)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.docs[path]
	if !ok {
		s.insert(path, obj)
		return nil
	}
	for k, v := range obj {
		d.Data[k] = v
	}
	d.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) Create(_ context.Context, path string, data any) (*Document, bool, error) {
	if err := validatePath(path); err != nil {
		return nil, false, err
	}
	obj, err := toObject(data)
	if err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if d, ok := s.docs[path]; ok {
		return d.snapshot(), false, nil
	}
	return s.insert(path, obj).snapshot(), true, nil
}

func (s *MemoryStore) List(_ context.Context, parent string) ([]*Document, error) {
	return s.collect(func(path string) bool {
		p, _ := Split(path)
		return p == parent
	}), nil
}

func (s *MemoryStore) ListPrefix(_ context.Context, prefix string) ([]*Document, error) {
	return s.collect(func(path string) bool {
		return strings.HasPrefix(path, prefix)
	}), nil
}

func (s *MemoryStore) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[path]; !ok {
		return ErrNotFound
	}
	delete(s.docs, path)
	return nil
}

func (s *MemoryStore) insert(path string, obj map[string]any) *memoryDoc {
	now := s.now()
	s.seq++
	d := &memoryDoc{
		Document: Document{Path: path, Data: obj, CreatedAt: now, UpdatedAt: now},
		seq:      s.seq,
	}
	s.docs[path] = d
	return d
}

func (s *MemoryStore) collect(match func(path string) bool) []*Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found []*memoryDoc
	for path, d := range s.docs {
		if match(path) {
			found = append(found, d)
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].seq < found[j].seq })

	docs := make([]*Document, 0, len(found))
	for _, d := range found {
		docs = append(docs, d.snapshot())
	}
	return docs
}

func (d *memoryDoc) snapshot() *Document {
	data := make(map[string]any, len(d.Data))
	for k, v := range d.Data {
		data[k] = v
	}
	return &Document{Path: d.Path, Data: data, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt}
}
