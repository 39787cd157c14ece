package cache

// ScopedKeyer wraps a Keyer with a prefix to isolate callers that must not
// share entries, such as clients authenticated with different tokens.
//
// Example usage:
//
//	// Private code host content is scoped to the token that fetched it
//	keyer := NewScopedKeyer(NewDefaultKeyer(), "token:"+Hash([]byte(token))[:12]+":")
type ScopedKeyer struct {
	inner  Keyer
	prefix string
}

// NewScopedKeyer creates a keyer with a prefix.
// The prefix is prepended to all generated keys.
func NewScopedKeyer(inner Keyer, prefix string) Keyer {
	if inner == nil {
		inner = NewDefaultKeyer()
	}
	return &ScopedKeyer{
		inner:  inner,
		prefix: prefix,
	}
}

// HTTPKey generates a prefixed key for HTTP response caching.
func (k *ScopedKeyer) HTTPKey(namespace, key string) string {
	return k.prefix + k.inner.HTTPKey(namespace, key)
}
