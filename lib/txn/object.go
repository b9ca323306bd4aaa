package txn

import (
	"encoding"

	"github.com/cockroachdb/errors"
	"github.com/puzpuzpuz/xsync/v3"
)

// ObjectID identifies a persisted object. The zero ID is the nil reference.
// IDs are handed out by the backend in increasing order and are never reused.
type ObjectID uint64

// Kind tags the encoding of an object so it can be decoded without knowing its type.
type Kind uint8

// Reserved kinds. Packages register their own kinds starting at KindUser.
const (
	KindBox  Kind = 1
	KindUser Kind = 16
)

// Object is a persisted unit of optimistic concurrency control.
// Implementations must be pointer types, a transaction keeps exactly one instance per id.
type Object interface {
	Kind() Kind
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

var kinds = xsync.NewMapOf[Kind, func() Object]()

// RegisterKind registers the factory for an object kind.
// It panics if the kind is already registered, kinds are registered from init functions.
func RegisterKind(kind Kind, factory func() Object) {
	if _, loaded := kinds.LoadOrStore(kind, factory); loaded {
		panic(errors.AssertionFailedf("object kind %d registered twice", kind))
	}
}

// encodeObject returns the stored form of an object: one kind byte followed by the payload
func encodeObject(obj Object) ([]byte, error) {
	payload, err := obj.MarshalBinary()
	if err != nil {
		return nil, errors.Wrapf(err, "encode object of kind %d", obj.Kind())
	}
	data := make([]byte, 0, 1+len(payload))
	data = append(data, byte(obj.Kind()))
	return append(data, payload...), nil
}

func decodeObject(data []byte) (Object, error) {
	if len(data) == 0 {
		return nil, errors.AssertionFailedf("empty object record")
	}
	factory, ok := kinds.Load(Kind(data[0]))
	if !ok {
		return nil, errors.Wrapf(ErrUnknownKind, "kind %d", data[0])
	}
	obj := factory()
	if err := obj.UnmarshalBinary(data[1:]); err != nil {
		return nil, errors.Wrapf(err, "decode object of kind %d", data[0])
	}
	return obj, nil
}
