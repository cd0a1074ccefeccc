package bucketmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdd_AppendsAndCounts(t *testing.T) {
	m := New[int]()

	m.Add("step-a", []int{1, 2, 3})
	m.Add("step-a", []int{4})
	m.Add("step-b", []int{5})

	assert.Equal(t, []int{1, 2, 3, 4}, m.Get("step-a"))
	assert.Equal(t, []int{5}, m.Get("step-b"))
	assert.Equal(t, 5, m.TotalItemCount())
}

func TestAdd_EmptySliceIsNoop(t *testing.T) {
	m := New[string]()
	m.Add("step-a", nil)
	m.Add("step-a", []string{})

	assert.Equal(t, 0, m.TotalItemCount())
	assert.Empty(t, m.Keys())
}

func TestGet_MissingBucket(t *testing.T) {
	m := New[int]()
	assert.Nil(t, m.Get("absent"))
}

func TestDelete_SubtractsFromTotal(t *testing.T) {
	m := New[int]()
	m.Add("step-a", []int{1, 2})
	m.Add("step-b", []int{3})

	m.Delete("step-a")

	assert.Equal(t, 1, m.TotalItemCount())
	assert.Nil(t, m.Get("step-a"))

	// Deleting twice does not corrupt the total.
	m.Delete("step-a")
	assert.Equal(t, 1, m.TotalItemCount())
}

func TestKeys(t *testing.T) {
	m := New[int]()
	m.Add("a", []int{1})
	m.Add("b", []int{2})
	m.Add("c", []int{3})

	assert.ElementsMatch(t, []string{"a", "b", "c"}, m.Keys())
}

func TestInsertionOrderWithinBucket(t *testing.T) {
	m := New[int]()
	for i := 0; i < 100; i++ {
		m.Add("bucket", []int{i})
	}

	items := m.Get("bucket")
	for i, item := range items {
		assert.Equal(t, i, item)
	}
}
