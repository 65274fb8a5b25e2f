package sharded

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestSetLoadOrStore(t *testing.T) {
	s := NewSet(DefaultShards)
	id := "2021-07-21/022901"

	if s.Has(id) {
		t.Fatalf("expected %q to be absent", id)
	}
	if loaded := s.LoadOrStore(id); loaded {
		t.Error("expected first LoadOrStore to store, but it loaded")
	}
	if loaded := s.LoadOrStore(id); !loaded {
		t.Error("expected second LoadOrStore to load, but it stored")
	}
	if !s.Has(id) {
		t.Errorf("expected %q to be present", id)
	}
	if s.Count() != 1 {
		t.Errorf("expected count 1, but got %d", s.Count())
	}
}

func TestSetConcurrentDedup(t *testing.T) {
	s := NewSet(DefaultShards)
	const workers = 16
	const keys = 200

	var wg sync.WaitGroup
	var mu sync.Mutex
	stored := 0
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range keys {
				if !s.LoadOrStore(fmt.Sprintf("2021-07-21/%06d", i)) {
					mu.Lock()
					stored++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	if stored != keys {
		t.Errorf("expected each key to be stored exactly once (%d), but got %d", keys, stored)
	}
	sorted := s.SortedKeys()
	if len(sorted) != keys || sorted[0] != "2021-07-21/000000" || sorted[keys-1] != "2021-07-21/000199" {
		t.Errorf("expected %d sorted keys, but got %d (first=%q)", keys, len(sorted), sorted[0])
	}
}

func TestMap(t *testing.T) {
	m := NewMap[error](8)
	errBoom := errors.New("boom")

	m.Store("2021-07-20", errBoom)
	m.Store("2021-07-21", nil)

	if v, ok := m.Load("2021-07-20"); !ok || !errors.Is(v, errBoom) {
		t.Errorf("expected stored error, but got %v (ok=%v)", v, ok)
	}
	if _, ok := m.Load("2021-07-22"); ok {
		t.Error("expected missing key to report ok=false")
	}
	if m.Count() != 2 {
		t.Errorf("expected count 2, but got %d", m.Count())
	}
	if items := m.Items(); len(items) != 2 {
		t.Errorf("expected 2 items, but got %d", len(items))
	}
}

func TestNewPanicsOnBadShardCount(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected a panic for a non power of two shard count")
		}
	}()
	NewSet(12)
}
