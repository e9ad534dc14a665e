package repository

// Option applies a configuration option to a Store.
type Option[V any] func(*Store[V])

// WithSecondaryKey adds a secondary unique index computed by fn.
// Two rows mapping to the same secondary key overwrite each other;
// the most recently written row wins.
func WithSecondaryKey[V any](fn func(V) string) Option[V] {
	return func(s *Store[V]) {
		s.secondary = fn
	}
}
