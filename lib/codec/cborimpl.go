package codec

import (
	"github.com/fxamacker/cbor/v2"
)

var (
	// Core deterministic encoding: sorted map keys and shortest integer forms,
	// equal values always produce equal bytes.
	cborEncMode, _ = cbor.CoreDetEncOptions().EncMode()
	cborDecMode, _ = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
)

// NewCBORCodec creates a new codec using deterministic CBOR encoding
func NewCBORCodec() IValueCodec {
	return &cborCodecImpl{}
}

// cborCodecImpl implements the IValueCodec interface using cbor encoding
type cborCodecImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.IValueCodec)
// --------------------------------------------------------------------------

func (c cborCodecImpl) Name() string {
	return "cbor"
}

func (c cborCodecImpl) Encode(v any) ([]byte, error) {
	b, err := cborEncMode.Marshal(v)
	if err != nil {
		return nil, unsupported(err, c.Name(), "encode")
	}
	return b, nil
}

func (c cborCodecImpl) Decode(data []byte, ptr any) error {
	if err := cborDecMode.Unmarshal(data, ptr); err != nil {
		return unsupported(err, c.Name(), "decode")
	}
	return nil
}
