package store

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-moments/internal/table"
)

func TestMapStore(t *testing.T) {
	s := NewMapStore()
	var _ DatasetStore = s

	_, ok := s.Get("missing")
	assert.False(t, ok)

	ds := &table.Dataset{Matrix: table.NewDense(2, 1, []float64{1, 2}), Columns: []string{"x"}}
	s.Put("b", ds)
	s.Put("a", &table.Dataset{Matrix: table.NewDense(1, 1, []float64{3})})

	got, ok := s.Get("b")
	require.True(t, ok)
	assert.Same(t, ds, got)
	assert.Equal(t, 2, s.Size())
	assert.Equal(t, []string{"a", "b"}, s.Names())

	assert.True(t, s.Delete("a"))
	assert.False(t, s.Delete("a"))
	assert.Equal(t, 1, s.Size())
}

func TestMapStore_Concurrent(t *testing.T) {
	s := NewMapStore()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("ds-%d", i)
			s.Put(name, &table.Dataset{})
			_, ok := s.Get(name)
			assert.True(t, ok)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 16, s.Size())
}
