package shm

import (
	"math/bits"

	"github.com/ValentinKolb/scoll/lib/codec"
	"github.com/cockroachdb/errors"
)

const (
	defaultLeafCapacity   = 128
	defaultSplitThreshold = 98
	defaultDirectorySize  = 32
	defaultMinConcurrency = 1

	// maxTableSize bounds leaf capacity, directory size and minimum concurrency
	maxTableSize = 1 << 16
)

// Option configures a map on creation (New) or when it is opened (Open).
// The structural options (capacity, threshold, directory size, concurrency) are stored
// with the map and ignored by Open.
type Option func(*options)

type options struct {
	minConcurrency int
	leafCapacity   int
	splitThreshold int
	directorySize  int
	hasher         any // func(K) uint32 of the map's key type
	keyCodec       codec.IValueCodec
	valueCodec     codec.IValueCodec
}

func defaultOptions() options {
	return options{
		minConcurrency: defaultMinConcurrency,
		leafCapacity:   defaultLeafCapacity,
		splitThreshold: defaultSplitThreshold,
		directorySize:  defaultDirectorySize,
		keyCodec:       codec.Default(),
		valueCodec:     codec.Default(),
	}
}

// WithMinConcurrency pre-splits a new map into at least n leaves, so that up to n
// transactions can insert without touching the same node
func WithMinConcurrency(n int) Option {
	return func(o *options) {
		o.minConcurrency = n
	}
}

// WithLeafCapacity sets the number of buckets per leaf (power of two, default 128)
func WithLeafCapacity(n int) Option {
	return func(o *options) {
		o.leafCapacity = n
	}
}

// WithSplitThreshold sets the number of entries above which a leaf splits (default 98)
func WithSplitThreshold(n int) Option {
	return func(o *options) {
		o.splitThreshold = n
	}
}

// WithDirectorySize sets the number of slots per directory (power of two, default 32)
func WithDirectorySize(n int) Option {
	return func(o *options) {
		o.directorySize = n
	}
}

// WithHasher replaces the default siphash of the encoded key.
// The hasher must be deterministic across processes and must match the key type of the map.
func WithHasher[K comparable](hasher func(K) uint32) Option {
	return func(o *options) {
		o.hasher = hasher
	}
}

// WithKeyCodec sets the codec used to encode keys (default CBOR).
// The codec must produce one canonical encoding per key, keys are compared by their encoding.
func WithKeyCodec(c codec.IValueCodec) Option {
	return func(o *options) {
		o.keyCodec = c
	}
}

// WithValueCodec sets the codec used to encode values (default CBOR)
func WithValueCodec(c codec.IValueCodec) Option {
	return func(o *options) {
		o.valueCodec = c
	}
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// validate checks the structural options of a new map
func (o *options) validate() error {
	switch {
	case !isPowerOfTwo(o.leafCapacity) || o.leafCapacity < 2 || o.leafCapacity > maxTableSize:
		return errors.Wrapf(ErrIllegalArgument, "leaf capacity %d must be a power of two in [2, %d]", o.leafCapacity, maxTableSize)
	case o.splitThreshold <= 0 || o.splitThreshold >= o.leafCapacity:
		return errors.Wrapf(ErrIllegalArgument, "split threshold %d must be in [1, %d)", o.splitThreshold, o.leafCapacity)
	case !isPowerOfTwo(o.directorySize) || o.directorySize < 2 || o.directorySize > maxTableSize:
		return errors.Wrapf(ErrIllegalArgument, "directory size %d must be a power of two in [2, %d]", o.directorySize, maxTableSize)
	case o.minConcurrency <= 0 || o.minConcurrency > maxTableSize:
		return errors.Wrapf(ErrIllegalArgument, "minimum concurrency %d must be in [1, %d]", o.minConcurrency, maxTableSize)
	}
	return o.validateCodecs()
}

func (o *options) validateCodecs() error {
	if o.keyCodec == nil || o.valueCodec == nil {
		return errors.Wrap(ErrIllegalArgument, "key and value codec must not be nil")
	}
	return nil
}

// minDepth returns the depth all leaves of a new map start at: ceil(log2(minConcurrency))
func (o *options) minDepth() uint32 {
	if o.minConcurrency <= 1 {
		return 0
	}
	return uint32(bits.Len(uint(o.minConcurrency - 1)))
}

// log2 of a power of two
func log2(n uint32) uint32 {
	return uint32(bits.TrailingZeros32(n))
}
