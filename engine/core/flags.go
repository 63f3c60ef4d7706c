package core

import (
	"golang.org/x/exp/constraints"
)

// Flags is a typed set of bit values of enum type E. The enum constants are
// expected to be single bits (1 << n).
type Flags[E constraints.Unsigned] struct {
	bits E
}

func NewFlags[E constraints.Unsigned](values ...E) Flags[E] {
	var f Flags[E]
	for _, v := range values {
		f.bits |= v
	}
	return f
}

func (f Flags[E]) Bits() E {
	return f.bits
}

func (f Flags[E]) IsEmpty() bool {
	return f.bits == 0
}

// Has reports whether every bit of v is set.
func (f Flags[E]) Has(v E) bool {
	return hasBits(f.bits, v)
}

// HasAny reports whether at least one bit of v is set.
func (f Flags[E]) HasAny(v E) bool {
	return f.bits&v != 0
}

func (f Flags[E]) With(v E) Flags[E] {
	return Flags[E]{bits: f.bits | v}
}

func (f Flags[E]) Without(v E) Flags[E] {
	return Flags[E]{bits: f.bits &^ v}
}

func (f Flags[E]) Or(o Flags[E]) Flags[E] {
	return Flags[E]{bits: f.bits | o.bits}
}

func (f Flags[E]) And(o Flags[E]) Flags[E] {
	return Flags[E]{bits: f.bits & o.bits}
}

// Each calls fn for every set bit, lowest first.
func (f Flags[E]) Each(fn func(E)) {
	for b := f.bits; b != 0; b &= b - 1 {
		fn(b & -b)
	}
}

// Count returns the number of set bits.
func (f Flags[E]) Count() int {
	n := 0
	for b := f.bits; b != 0; b &= b - 1 {
		n++
	}
	return n
}

func hasBits[N constraints.Unsigned](t, want N) bool {
	return (t & want) == want
}

// AlignUp rounds x up to the next multiple of y. y must be a power of two.
func AlignUp[T constraints.Integer](x, y T) T {
	return (x + y - 1) &^ (y - 1)
}
