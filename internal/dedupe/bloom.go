package dedupe

import (
	"hash/fnv"
	"math"
)

// bloomFilter is a cheap negative-lookup front for the reference key
// sets: most rows in a fresh list are not in the CRM, and the filter
// answers "definitely absent" without touching the map.
type bloomFilter struct {
	bits   []uint64
	nbits  uint64
	hashes int
}

// newBloomFilter sizes the filter for n expected keys at roughly a 1%
// false-positive rate.
func newBloomFilter(n int) *bloomFilter {
	if n < 1 {
		n = 1
	}
	const fpRate = 0.01
	nbits := uint64(math.Ceil(-float64(n) * math.Log(fpRate) / (math.Ln2 * math.Ln2)))
	if nbits < 64 {
		nbits = 64
	}
	hashes := int(math.Round(float64(nbits) / float64(n) * math.Ln2))
	if hashes < 1 {
		hashes = 1
	}
	if hashes > 16 {
		hashes = 16
	}
	return &bloomFilter{
		bits:   make([]uint64, (nbits+63)/64),
		nbits:  nbits,
		hashes: hashes,
	}
}

// indexes derives k bit positions via double hashing of two FNV-1a
// variants.
func (b *bloomFilter) indexes(key string) (uint64, uint64) {
	h1 := fnv.New64a()
	h1.Write([]byte(key))
	a := h1.Sum64()

	h2 := fnv.New64()
	h2.Write([]byte(key))
	c := h2.Sum64() | 1 // odd step so all positions are reachable

	return a, c
}

func (b *bloomFilter) Add(key string) {
	a, c := b.indexes(key)
	for i := 0; i < b.hashes; i++ {
		pos := (a + uint64(i)*c) % b.nbits
		b.bits[pos/64] |= 1 << (pos % 64)
	}
}

// MayContain returns false only when the key is definitely absent.
func (b *bloomFilter) MayContain(key string) bool {
	a, c := b.indexes(key)
	for i := 0; i < b.hashes; i++ {
		pos := (a + uint64(i)*c) % b.nbits
		if b.bits[pos/64]&(1<<(pos%64)) == 0 {
			return false
		}
	}
	return true
}
