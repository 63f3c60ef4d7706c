package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type testBit uint16

const (
	bitA testBit = 1 << iota
	bitB
	bitC
)

func TestFlags(t *testing.T) {
	f := NewFlags(bitA, bitC)
	assert.True(t, f.Has(bitA))
	assert.False(t, f.Has(bitB))
	assert.True(t, f.Has(bitA|bitC))
	assert.False(t, f.Has(bitA|bitB))
	assert.True(t, f.HasAny(bitA|bitB))
	assert.Equal(t, 2, f.Count())

	f = f.With(bitB).Without(bitA)
	assert.Equal(t, bitB|bitC, f.Bits())

	var seen []testBit
	f.Each(func(b testBit) { seen = append(seen, b) })
	assert.Equal(t, []testBit{bitB, bitC}, seen)

	assert.Equal(t, bitB, f.And(NewFlags(bitA, bitB)).Bits())
	assert.Equal(t, bitA|bitB|bitC, f.Or(NewFlags(bitA)).Bits())
	assert.True(t, Flags[testBit]{}.IsEmpty())
}

func TestAlignUp(t *testing.T) {
	assert.Equal(t, uint32(64), AlignUp(uint32(33), 32))
	assert.Equal(t, uint32(32), AlignUp(uint32(32), 32))
	assert.Equal(t, uint64(0), AlignUp(uint64(0), 64))
	assert.Equal(t, 64, AlignUp(40, 64))
}
