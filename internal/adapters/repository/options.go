package repository

import "strings"

// RedisOption applies a configuration option to the RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix namespaces every key the store writes.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if p := strings.Trim(prefix, ": "); p != "" {
			s.prefix = p
		}
	}
}

// PostgresOption applies a configuration option to the PostgresStore.
type PostgresOption func(*PostgresStore)

// WithTablePrefix prefixes the three table names, e.g. "tm_" gives
// tm_pending, tm_jobs and tm_results.
func WithTablePrefix(prefix string) PostgresOption {
	return func(s *PostgresStore) {
		if prefix != "" && validIdent(prefix) {
			s.prefix = prefix
		}
	}
}

func validIdent(s string) bool {
	for _, r := range s {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}
