package store

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/23skdu/longbow-moments/internal/table"
)

var datasetsStored = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "moments_datasets_stored",
	Help: "Number of datasets held by the in-memory store",
})

// DatasetStore defines a named store of uploaded datasets.
type DatasetStore interface {
	// Get retrieves a dataset by name.
	Get(name string) (*table.Dataset, bool)
	// Put stores a dataset, replacing any previous one of the same name.
	Put(name string, ds *table.Dataset)
	// Delete removes a dataset and reports whether it existed.
	Delete(name string) bool
	// Size returns the number of datasets in the store.
	Size() int
}

// MapStore is a simple in-memory implementation of DatasetStore.
// Stored datasets are shared, not copied: callers must not mutate a dataset
// after Put or one obtained from Get.
type MapStore struct {
	data map[string]*table.Dataset
	mu   sync.RWMutex
}

func NewMapStore() *MapStore {
	return &MapStore{
		data: make(map[string]*table.Dataset),
	}
}

func (s *MapStore) Get(name string) (*table.Dataset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ds, ok := s.data[name]
	return ds, ok
}

func (s *MapStore) Put(name string, ds *table.Dataset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[name] = ds
	datasetsStored.Set(float64(len(s.data)))
}

func (s *MapStore) Delete(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[name]
	delete(s.data, name)
	datasetsStored.Set(float64(len(s.data)))
	return ok
}

func (s *MapStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Names returns the stored dataset names in sorted order.
func (s *MapStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.data))
	for name := range s.data {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
