package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrMalformedFrame is returned for payloads that are not a JSON object
	// with a string "type" field, or whose required fields are absent or null.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrUnknownType is returned for well-formed frames whose type is not
	// part of the protocol direction being decoded.
	ErrUnknownType = errors.New("unknown message type")
)

type frameDecoder[M any] struct {
	required []string
	decode   func(raw []byte) (M, error)
}

func decodeInto[T any, M any](raw []byte) (M, error) {
	var msg T
	var zero M
	if err := json.Unmarshal(raw, &msg); err != nil {
		return zero, err
	}
	if v, ok := any(msg).(interface{ validate() error }); ok {
		if err := v.validate(); err != nil {
			return zero, err
		}
	}
	out, ok := any(msg).(M)
	if !ok {
		return zero, fmt.Errorf("%T does not satisfy %T", msg, zero)
	}
	return out, nil
}

func intent[T Intent](required ...string) frameDecoder[Intent] {
	return frameDecoder[Intent]{required: required, decode: decodeInto[T, Intent]}
}

func server[T Message](required ...string) frameDecoder[Message] {
	return frameDecoder[Message]{required: required, decode: decodeInto[T, Message]}
}

var intentDecoders = map[Type]frameDecoder[Intent]{
	TypeClientConnected:     intent[ClientConnected]("role"),
	TypeRequestSession:      intent[RequestSession](),
	TypeViewportChange:      intent[ViewportChange]("viewport"),
	TypeTableSize:           intent[TableSize]("size"),
	TypeTableViewportChange: intent[TableViewportChange]("viewport"),
	TypeGridUpdate:          intent[GridUpdate]("grid"),
	TypeMapChange:           intent[MapChange]("map"),
	TypeArtworkDisplay:      intent[ArtworkDisplay](),
	TypeLockViewport:        intent[LockViewport]("locked"),
	TypePing:                intent[Ping]("timestamp"),
}

var serverDecoders = map[Type]frameDecoder[Message]{
	TypeWelcome:             server[Welcome]("role"),
	TypeSessionState:        server[SessionState]("session"),
	TypeClientConnected:     server[ClientConnected]("role"),
	TypeViewportChange:      server[ViewportChange]("viewport"),
	TypeTableSize:           server[TableSize]("size"),
	TypeTableViewportChange: server[TableViewportChange]("viewport"),
	TypeGridUpdate:          server[GridUpdate]("grid"),
	TypeMapChange:           server[MapChange]("map"),
	TypeArtworkDisplay:      server[ArtworkDisplay](),
	TypeLockViewport:        server[LockViewport]("locked"),
	TypePong:                server[Pong]("timestamp"),
}

// PeekType returns the discriminator of raw without decoding the payload
func PeekType(raw []byte) (Type, error) {
	t, _, err := envelope(raw)
	return t, err
}

func envelope(raw []byte) (Type, map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if fields == nil {
		return "", nil, fmt.Errorf("%w: not an object", ErrMalformedFrame)
	}
	rawType, ok := fields["type"]
	if !ok {
		return "", nil, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	var t string
	if err := json.Unmarshal(rawType, &t); err != nil {
		return "", nil, fmt.Errorf("%w: type is not a string", ErrMalformedFrame)
	}
	return Type(t), fields, nil
}

func decodeFrame[M any](raw []byte, table map[Type]frameDecoder[M]) (M, error) {
	var zero M
	t, fields, err := envelope(raw)
	if err != nil {
		return zero, err
	}
	dec, ok := table[t]
	if !ok {
		return zero, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	for _, key := range dec.required {
		if v, ok := fields[key]; !ok || isNull(v) {
			return zero, fmt.Errorf("%w: %s missing %q", ErrMalformedFrame, t, key)
		}
	}
	msg, err := dec.decode(raw)
	if err != nil {
		return zero, fmt.Errorf("%w: %s: %v", ErrMalformedFrame, t, err)
	}
	return msg, nil
}

func isNull(v json.RawMessage) bool {
	return string(bytes.TrimSpace(v)) == "null"
}

// DecodeIntent parses a client to hub frame
func DecodeIntent(raw []byte) (Intent, error) {
	return decodeFrame(raw, intentDecoders)
}

// DecodeServerMessage parses a hub to client frame
func DecodeServerMessage(raw []byte) (Message, error) {
	return decodeFrame(raw, serverDecoders)
}

// IntentTypes lists every type accepted by DecodeIntent
func IntentTypes() []Type {
	return sortedKeys(intentDecoders)
}

// ServerMessageTypes lists every type accepted by DecodeServerMessage
func ServerMessageTypes() []Type {
	return sortedKeys(serverDecoders)
}

func sortedKeys[M any](table map[Type]frameDecoder[M]) []Type {
	out := make([]Type, 0, len(table))
	for t := range table {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Encode serializes msg as a single JSON text frame
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.MessageType(), err)
	}
	return data, nil
}

func (m ClientConnected) validate() error {
	if !m.Role.Valid() {
		return fmt.Errorf("invalid role %q", m.Role)
	}
	return nil
}

func (m Welcome) validate() error {
	if !m.Role.Valid() {
		return fmt.Errorf("invalid role %q", m.Role)
	}
	return nil
}

func (m MapChange) validate() error {
	if m.Map.ID == "" {
		return errors.New("map without id")
	}
	return nil
}
