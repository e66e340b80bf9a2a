package pcgrand

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetStaysInRange(t *testing.T) {
	p := New(2)
	for i := 0; i < 10000; i++ {
		v := p.Get()
		assert.Less(t, v, uint32(4))
	}
}

func TestDeterministicAcrossInstances(t *testing.T) {
	a := New(2)
	b := New(2)
	for i := 0; i < 1000; i++ {
		assert.Equal(t, a.Get(), b.Get())
	}
}
