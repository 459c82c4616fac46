package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/valyala/fastjson"
)

var (
	// ErrMalformed is returned for payloads that are not a well-formed envelope.
	ErrMalformed = errors.New("malformed message")
	// ErrUnknownType is returned for well-formed envelopes with an unsupported type.
	ErrUnknownType = errors.New("unknown message type")
)

var parserPool fastjson.ParserPool

// cborDec decodes untyped CBOR maps as map[string]any so they can be
// re-encoded as JSON.
var cborDec cbor.DecMode

func init() {
	var err error
	cborDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("protocol: CBOR decoder initialization failed: " + err.Error())
	}
}

// Decode validates a JSON producer envelope and decodes its entry.
//
// The envelope shape is checked with a pooled fastjson parser before any
// typed decoding: the payload must be an object, its type must be known,
// and data must be an object carrying a non-empty string id. Any origin
// sent by the producer is discarded.
func Decode(data []byte) (*Inbound, error) {
	p := parserPool.Get()
	defer parserPool.Put(p)

	v, err := p.ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if v.Type() != fastjson.TypeObject {
		return nil, fmt.Errorf("%w: envelope is %s, not an object", ErrMalformed, v.Type())
	}

	typ := string(v.GetStringBytes("type"))
	switch typ {
	case TypeConsoleLog, TypeNetworkRequest:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}

	body := v.Get("data")
	if body == nil || body.Type() != fastjson.TypeObject {
		return nil, fmt.Errorf("%w: %s data must be an object", ErrMalformed, typ)
	}
	id := body.Get("id")
	if id == nil || id.Type() != fastjson.TypeString || len(id.GetStringBytes()) == 0 {
		return nil, fmt.Errorf("%w: %s data.id must be a non-empty string", ErrMalformed, typ)
	}

	msg := &Inbound{
		Type:      typ,
		SessionID: string(v.GetStringBytes("sessionId")),
	}
	raw := body.MarshalTo(nil)

	switch typ {
	case TypeConsoleLog:
		var entry LogEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil, fmt.Errorf("%w: console_log data: %v", ErrMalformed, err)
		}
		if !entry.Level.Valid() {
			return nil, fmt.Errorf("%w: console_log level %q", ErrMalformed, entry.Level)
		}
		if entry.Args == nil {
			entry.Args = []json.RawMessage{}
		}
		entry.Origin = ""
		msg.Entry = entry
	case TypeNetworkRequest:
		var entry NetworkEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil, fmt.Errorf("%w: network_request data: %v", ErrMalformed, err)
		}
		if entry.URL == "" {
			return nil, fmt.Errorf("%w: network_request url is required", ErrMalformed)
		}
		if entry.Method == "" {
			entry.Method = "GET"
		}
		if entry.Headers == nil {
			entry.Headers = map[string]string{}
		}
		entry.Origin = ""
		msg.Entry = entry
	}

	return msg, nil
}

// DecodeBinary decodes a CBOR producer envelope. It carries the same shape
// as the JSON form and goes through the same validation.
func DecodeBinary(data []byte) (*Inbound, error) {
	var v any
	if err := cborDec.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: cbor: %v", ErrMalformed, err)
	}
	asJSON, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: cbor to json: %v", ErrMalformed, err)
	}
	return Decode(asJSON)
}

// Encode serializes an outbound message.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}
