// Package codec provides the value codecs used to store plain Go keys and values inside
// box objects of the transactional collections. It defines a common interface and
// multiple implementations with different characteristics.
//
// Key Components:
//
//   - IValueCodec: Core interface that all codec implementations must satisfy.
//
//   - cborCodecImpl: Core deterministic CBOR (RFC 8949). Equal values always encode to equal
//     bytes, which makes it the default for keys: the hash of a key is computed from its
//     encoding.
//
//   - gobCodecImpl: Go's gob encoding. Compatible with most Go types but larger payloads,
//     and map keys are not sorted.
//
//   - jsonCodecImpl: JSON encoding, human readable. Numbers decoded into an interface
//     become float64.
//
// Errors:
//
//	Encode and Decode failures wrap ErrUnsupportedValue and can be tested
//	with errors.Is (github.com/cockroachdb/errors or the standard library).
//
// Thread Safety:
//
//	All codec implementations are stateless and safe for concurrent use.
//
// Usage:
//
//	c, err := codec.ByName("cbor")
//	data, err := c.Encode(value)
//	var out T
//	err = c.Decode(data, &out)
package codec
