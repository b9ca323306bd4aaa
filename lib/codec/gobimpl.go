package codec

import (
	"bytes"
	"encoding/gob"
)

// NewGOBCodec creates a new codec using Go's binary gob format.
// Gob does not sort map keys, values containing maps should not be used as keys with this codec.
func NewGOBCodec() IValueCodec {
	return &gobCodecImpl{}
}

// gobCodecImpl implements the IValueCodec interface using gob encoding
type gobCodecImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.IValueCodec)
// --------------------------------------------------------------------------

func (g gobCodecImpl) Name() string {
	return "gob"
}

func (g gobCodecImpl) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(v); err != nil {
		return nil, unsupported(err, g.Name(), "encode")
	}
	return buf.Bytes(), nil
}

func (g gobCodecImpl) Decode(data []byte, ptr any) error {
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(ptr); err != nil {
		return unsupported(err, g.Name(), "decode")
	}
	return nil
}
