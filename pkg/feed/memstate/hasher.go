package memstate

import "hash/fnv"

// Hasher is the pluggable record hashing strategy for set membership within
// a typed record set.
type Hasher interface {
	Hash(typeName, key string) uint64
}

// fnvHasher is the default strategy: FNV-1a over type name and key.
type fnvHasher struct{}

// DefaultHasher returns the FNV-1a based default strategy.
func DefaultHasher() Hasher { return fnvHasher{} }

func (fnvHasher) Hash(typeName, key string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(typeName))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(key))
	return h.Sum64()
}
