package codec

import (
	"encoding/json"
)

// NewJSONCodec creates a new codec using json encoding
func NewJSONCodec() IValueCodec {
	return &jsonCodecImpl{}
}

// jsonCodecImpl implements the IValueCodec interface using json encoding
type jsonCodecImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.IValueCodec)
// --------------------------------------------------------------------------

func (j jsonCodecImpl) Name() string {
	return "json"
}

func (j jsonCodecImpl) Encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, unsupported(err, j.Name(), "encode")
	}
	return b, nil
}

func (j jsonCodecImpl) Decode(data []byte, ptr any) error {
	if err := json.Unmarshal(data, ptr); err != nil {
		return unsupported(err, j.Name(), "decode")
	}
	return nil
}
