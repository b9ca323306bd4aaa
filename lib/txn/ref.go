package txn

import (
	"github.com/cockroachdb/errors"
)

// Ref is a typed reference to a persisted object
type Ref[T Object] struct {
	ID ObjectID
}

// NewRef returns a reference to the object id
func NewRef[T Object](id ObjectID) Ref[T] {
	return Ref[T]{ID: id}
}

// CreateRef stores obj as a new object and returns a reference to it
func CreateRef[T Object](tx *Txn, obj T) (Ref[T], error) {
	id, err := tx.Create(obj)
	if err != nil {
		return Ref[T]{}, err
	}
	return Ref[T]{ID: id}, nil
}

// IsNil reports whether the reference points nowhere
func (r Ref[T]) IsNil() bool {
	return r.ID == 0
}

// Get dereferences r in tx
func (r Ref[T]) Get(tx *Txn) (T, error) {
	obj, err := tx.Get(r.ID)
	if err != nil {
		var zero T
		return zero, err
	}
	return cast[T](r.ID, obj)
}

// GetForUpdate dereferences r in tx and marks the object as modified
func (r Ref[T]) GetForUpdate(tx *Txn) (T, error) {
	obj, err := tx.GetForUpdate(r.ID)
	if err != nil {
		var zero T
		return zero, err
	}
	return cast[T](r.ID, obj)
}

func cast[T Object](id ObjectID, obj Object) (T, error) {
	typed, ok := obj.(T)
	if !ok {
		var zero T
		return zero, errors.AssertionFailedf("object %d has type %T, expected %T", id, obj, zero)
	}
	return typed, nil
}
