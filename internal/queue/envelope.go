package queue

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Envelope field names on the wire
const (
	FieldPayload  = "payload"
	FieldAttempts = "attempts"
	FieldDetail   = "detail"
)

// Envelope is the wire unit carried on a stream
type Envelope struct {
	Payload  map[string]any
	Attempts int
	Detail   string
}

// Fields encodes the envelope as flat string fields: payload as a JSON
// string, attempts as a decimal string, detail only when set
func (e Envelope) Fields() (map[string]any, error) {
	payload := e.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	fields := map[string]any{
		FieldPayload:  string(raw),
		FieldAttempts: strconv.Itoa(e.Attempts),
	}
	if e.Detail != "" {
		fields[FieldDetail] = e.Detail
	}
	return fields, nil
}

// Marshal encodes the fields as a JSON object, used as the message body by
// backends without native field support
func (e Envelope) Marshal() ([]byte, error) {
	fields, err := e.Fields()
	if err != nil {
		return nil, err
	}
	return json.Marshal(fields)
}

// DecodeFields is lenient: an unparsable payload becomes an empty map and an
// unparsable attempts count becomes 0, so the worker can reject the message.
func DecodeFields(fields map[string]any) Envelope {
	env := Envelope{Payload: map[string]any{}}

	if raw, ok := fields[FieldPayload].(string); ok {
		var payload map[string]any
		if err := json.Unmarshal([]byte(raw), &payload); err == nil && payload != nil {
			env.Payload = payload
		}
	}

	switch v := fields[FieldAttempts].(type) {
	case string:
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			env.Attempts = n
		}
	case float64:
		if v >= 0 {
			env.Attempts = int(v)
		}
	}

	if detail, ok := fields[FieldDetail].(string); ok {
		env.Detail = detail
	}
	return env
}

// Unmarshal decodes a JSON message body produced by Marshal
func Unmarshal(body []byte) Envelope {
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return Envelope{Payload: map[string]any{}}
	}
	return DecodeFields(fields)
}
