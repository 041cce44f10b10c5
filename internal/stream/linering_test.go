package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineRingDropsOldest(t *testing.T) {
	r := NewLineRing(3)
	r.Append("a")
	r.Append("b")
	r.Append("c")
	r.Append("d")

	assert.Equal(t, []string{"b", "c", "d"}, r.LastN(10))
	assert.Equal(t, []string{"c", "d"}, r.LastN(2))
}

func TestLineRingWriteSplitsLines(t *testing.T) {
	r := NewLineRing(10)
	n, err := r.Write([]byte("one\ntwo\n"))
	assert.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, []string{"one", "two"}, r.LastN(10))
}

func TestLineRingEmpty(t *testing.T) {
	r := NewLineRing(0) // falls back to default capacity
	assert.Empty(t, r.LastN(5))
	r.Append("")
	assert.Empty(t, r.LastN(5))
}
