package codec

import (
	"sort"

	"github.com/cockroachdb/errors"
)

// ErrUnsupportedValue is returned (wrapped) when a value cannot be encoded or decoded by a codec.
var ErrUnsupportedValue = errors.New("unsupported value")

// IValueCodec is the interface for all value codecs.
// A codec turns keys and values of a collection into the bytes of a box object and back.
type IValueCodec interface {
	// Name returns the registry name of the codec
	Name() string
	// Encode encodes a value into a byte array.
	// Encodings of equal values must be equal if the codec is used for keys.
	Encode(v any) ([]byte, error)
	// Decode decodes a byte array into the value ptr points to
	Decode(data []byte, ptr any) error
}

// unsupported wraps ErrUnsupportedValue with the message of the codec error
func unsupported(err error, codec string, op string) error {
	return errors.Wrapf(ErrUnsupportedValue, "%s: %s: %v", codec, op, err)
}

// --------------------------------------------------------------------------
// Registry
// --------------------------------------------------------------------------

var registry = map[string]func() IValueCodec{
	"cbor": NewCBORCodec,
	"gob":  NewGOBCodec,
	"json": NewJSONCodec,
}

// Default returns the default codec (deterministic CBOR)
func Default() IValueCodec {
	return NewCBORCodec()
}

// ByName returns a new codec for the given registry name
func ByName(name string) (IValueCodec, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, errors.Newf("unknown codec %q (available: %v)", name, Names())
	}
	return factory(), nil
}

// Names returns the names of all registered codecs in sorted order
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
