package messaging

import (
	"fmt"

	"github.com/goccy/go-json"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bardlex/promine/pkg/errors"
)

// Encoding selects the wire format of published events
type Encoding string

const (
	// EncodingJSON writes events as JSON documents
	EncodingJSON Encoding = "json"
	// EncodingProto writes events as a protobuf Struct
	EncodingProto Encoding = "proto"
)

// ParseEncoding validates an encoding name
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(s) {
	case EncodingJSON, EncodingProto:
		return Encoding(s), nil
	default:
		return "", fmt.Errorf("unknown event encoding %q", s)
	}
}

// Encode serialises e. Decoding the result yields the same envelope with the
// payload as a generic map.
func Encode(e *Event, enc Encoding) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "encode_event",
			"failed to marshal event").WithContext("kind", string(e.Kind))
	}
	if enc != EncodingProto {
		return data, nil
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "encode_event",
			"failed to flatten event").WithContext("kind", string(e.Kind))
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "encode_event",
			"event is not representable as a protobuf struct").WithContext("kind", string(e.Kind))
	}
	out, err := proto.Marshal(s)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "protobuf_marshal",
			"failed to marshal protobuf message").WithContext("kind", string(e.Kind))
	}
	return out, nil
}

// Decode parses an event written by Encode
func Decode(data []byte, enc Encoding) (*Event, error) {
	if enc == EncodingProto {
		s := &structpb.Struct{}
		if err := proto.Unmarshal(data, s); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeValidation, "protobuf_unmarshal",
				"failed to unmarshal protobuf message").WithContext("message_size", len(data))
		}
		var err error
		if data, err = json.Marshal(s.AsMap()); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeValidation, "decode_event", "failed to re-encode event")
		}
	}

	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "decode_event",
			"failed to unmarshal event").WithContext("message_size", len(data))
	}
	return &e, nil
}
