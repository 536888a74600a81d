package index

// signal is a typed subscription registry for one notification name.
// Emission is synchronous and runs handlers in registration order, so a
// handler observing the cache sees exactly what was committed before the
// emitting call returned. Handlers must be registered during setup, before
// the index starts mutating.
type signal[T any] struct {
	handlers []func(T)
}

func (s *signal[T]) connect(fn func(T)) {
	s.handlers = append(s.handlers, fn)
}

func (s *signal[T]) emit(v T) {
	for _, fn := range s.handlers {
		fn(v)
	}
}
