package util

import (
	"crypto/rand"
	"encoding/binary"
	"time"

	"github.com/dchest/siphash"
)

// --------------------------------------------------------------------------
// Seeds
// --------------------------------------------------------------------------

// GenerateSeed returns a random 64-bit seed. If the system source of randomness
// fails, the current time is used instead.
func GenerateSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}

// GenerateHashKey returns a random 128-bit key (e.g. for siphash) as two words.
func GenerateHashKey() [2]uint64 {
	return [2]uint64{GenerateSeed(), GenerateSeed()}
}

// --------------------------------------------------------------------------
// Integer Mixing
// --------------------------------------------------------------------------

// MixID scrambles a sequential object id so that neighbouring ids land on different shards.
// It is the finalizer of splitmix64 and therefore a bijection on uint64.
func MixID(id uint64) uint64 {
	id ^= id >> 30
	id *= 0xbf58476d1ce4e5b9
	id ^= id >> 27
	id *= 0x94d049bb133111eb
	id ^= id >> 31
	return id
}

// Fold32 folds a 64-bit hash into 32 bits, keeping entropy from both halves.
func Fold32(h uint64) uint32 {
	return uint32(h) ^ uint32(h>>32)
}

// Spread32 is a secondary hash applied to 32-bit hashes before their high
// bits are used as an index. It protects against hash functions whose
// entropy sits mostly in the low bits.
func Spread32(h uint32) uint32 {
	h += ^(h << 9)
	h ^= h >> 14
	h += h << 4
	h ^= h >> 10
	return h
}

// ShardIndex returns the shard a (mixed) key belongs to.
//
// Thread-safety: This function is pure and can be called concurrently.
func ShardIndex(mixed uint64, numShards int) int {
	// use the higher bits, the low bits of small ids carry little entropy
	return int((mixed >> 7) % uint64(numShards))
}

// HashString maps a name (e.g. a replica name) to a stable non-zero id.
func HashString(s string) uint64 {
	if h := siphash.Hash(0, 0, []byte(s)); h != 0 {
		return h
	}
	return 1
}
