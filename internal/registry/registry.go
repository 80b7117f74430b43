// Package registry provides a concurrent, name-keyed store.
package registry

import "github.com/alphadose/haxmap"

// Registry maps names to values and is safe for concurrent use.
type Registry[T any] interface {
	Get(name string) (T, bool)
	Add(name string, value T)
	// AddIfAbsent stores value unless name is taken; it reports whether the
	// value was stored.
	AddIfAbsent(name string, value T) bool
	// Take removes and returns the value stored under name.
	Take(name string) (T, bool)
	Del(name string)
	Len() int
	Each(fn func(name string, value T) bool)
}

type registry[T any] struct {
	values *haxmap.Map[string, T]
}

// New returns an empty Registry.
func New[T any]() Registry[T] {
	return &registry[T]{
		values: haxmap.New[string, T](),
	}
}

func (r *registry[T]) Get(name string) (T, bool) {
	return r.values.Get(name)
}

func (r *registry[T]) Add(name string, value T) {
	r.values.Set(name, value)
}

func (r *registry[T]) AddIfAbsent(name string, value T) bool {
	_, loaded := r.values.GetOrSet(name, value)
	return !loaded
}

func (r *registry[T]) Take(name string) (T, bool) {
	return r.values.GetAndDel(name)
}

func (r *registry[T]) Del(name string) {
	r.values.Del(name)
}

func (r *registry[T]) Len() int {
	return int(r.values.Len())
}

func (r *registry[T]) Each(fn func(name string, value T) bool) {
	r.values.ForEach(fn)
}
