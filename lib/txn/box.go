package txn

import (
	"github.com/ValentinKolb/scoll/lib/codec"
)

func init() {
	RegisterKind(KindBox, func() Object { return &Box{} })
}

// Box is an object holding one encoded value.
// A value that contains references (Ref) stores only their ids, removing the box
// never removes the referenced objects.
type Box struct {
	Data []byte
}

func (b *Box) Kind() Kind {
	return KindBox
}

func (b *Box) MarshalBinary() ([]byte, error) {
	return b.Data, nil
}

func (b *Box) UnmarshalBinary(data []byte) error {
	b.Data = append([]byte(nil), data...)
	return nil
}

// BoxValue encodes v with c and stores it in a new box.
// Encoding errors are marked with codec.ErrUnsupportedValue, nothing is created in that case.
func BoxValue(tx *Txn, c codec.IValueCodec, v any) (ObjectID, error) {
	data, err := c.Encode(v)
	if err != nil {
		return 0, err
	}
	return tx.Create(&Box{Data: data})
}

// UnboxValue decodes the value of the box id into ptr
func UnboxValue(tx *Txn, c codec.IValueCodec, id ObjectID, ptr any) error {
	box, err := NewRef[*Box](id).Get(tx)
	if err != nil {
		return err
	}
	return c.Decode(box.Data, ptr)
}

// UpdateBox replaces the value of the box id with v
func UpdateBox(tx *Txn, c codec.IValueCodec, id ObjectID, v any) error {
	data, err := c.Encode(v)
	if err != nil {
		return err
	}
	box, err := NewRef[*Box](id).GetForUpdate(tx)
	if err != nil {
		return err
	}
	box.Data = data
	return nil
}
