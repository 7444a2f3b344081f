// Package stepcache memoizes derived query results for the duration of a
// simulation step.
//
// A cache is rebuilt lazily the first time it is read with a stamp that
// differs from the one it was built for. Within one stamp every read sees the
// same contents, even if the underlying state changes in between; changes
// become visible at the next step or after Invalidate.
package stepcache

// Stamp identifies a step. Generation changes whenever the owner discards its
// derived state (objective switch, ruleset swap, explicit invalidation).
// Generation 0 means there is nothing to derive from.
type Stamp struct {
	Tick       uint64
	Generation uint64
}

// Empty is the stamp used while no objective is active.
var Empty = Stamp{}

func (s Stamp) IsEmpty() bool { return s.Generation == 0 }

// Index maps keys to the values that were added for them by the builder.
// Values keep builder order per key; keys keep first-seen order.
type Index[K comparable, V any] struct {
	build func(add func(K, V))

	built    Stamp
	valid    bool
	m        map[K][]V
	keys     []K
	rebuilds int
}

func NewIndex[K comparable, V any](build func(add func(K, V))) *Index[K, V] {
	return &Index[K, V]{build: build, m: map[K][]V{}}
}

func (x *Index[K, V]) at(s Stamp) {
	if x.valid && x.built == s {
		return
	}
	clear(x.m)
	x.keys = x.keys[:0]
	if !s.IsEmpty() && x.build != nil {
		x.build(func(k K, v V) {
			if _, ok := x.m[k]; !ok {
				x.keys = append(x.keys, k)
			}
			x.m[k] = append(x.m[k], v)
		})
	}
	x.built = s
	x.valid = true
	x.rebuilds++
}

// Get returns the values for k. The slice is shared; callers must not modify it.
func (x *Index[K, V]) Get(s Stamp, k K) []V {
	x.at(s)
	return x.m[k]
}

func (x *Index[K, V]) Contains(s Stamp, k K) bool {
	x.at(s)
	return len(x.m[k]) > 0
}

// First returns the first value added for k.
func (x *Index[K, V]) First(s Stamp, k K) (V, bool) {
	x.at(s)
	vs := x.m[k]
	if len(vs) == 0 {
		var zero V
		return zero, false
	}
	return vs[0], true
}

func (x *Index[K, V]) Any(s Stamp) bool {
	x.at(s)
	return len(x.keys) > 0
}

func (x *Index[K, V]) Keys(s Stamp) []K {
	x.at(s)
	return x.keys
}

// Invalidate forces the next read to rebuild regardless of stamp.
func (x *Index[K, V]) Invalidate() { x.valid = false }

// Rebuilds counts builder runs.
func (x *Index[K, V]) Rebuilds() int { return x.rebuilds }

// Value memoizes a single derived value.
type Value[T any] struct {
	build func() T

	built    Stamp
	valid    bool
	v        T
	rebuilds int
}

func NewValue[T any](build func() T) *Value[T] {
	return &Value[T]{build: build}
}

// Get returns the memoized value, or the zero value for an empty stamp.
func (c *Value[T]) Get(s Stamp) T {
	if c.valid && c.built == s {
		return c.v
	}
	var zero T
	c.v = zero
	if !s.IsEmpty() && c.build != nil {
		c.v = c.build()
	}
	c.built = s
	c.valid = true
	c.rebuilds++
	return c.v
}

func (c *Value[T]) Invalidate() { c.valid = false }

func (c *Value[T]) Rebuilds() int { return c.rebuilds }
