// Package protocol implements the lenient JSON message envelope exchanged
// over both transport modes.
package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Action is the envelope's verb.
type Action string

const (
	ActionGet      Action = "GET"
	ActionPost     Action = "POST"
	ActionResponse Action = "RESPONSE"
	ActionNotify   Action = "NOTIFY"
)

// Message is the envelope defined by the appliance wire protocol.
type Message struct {
	Resource string
	Action   Action
	SID      *int64
	MsgID    *int64
	Version  *int32
	Data     []json.RawMessage
	Code     *int32
}

// wireMessage is the literal JSON shape, used only by Parse so the lenient
// coercion rules stay in one place.
type wireMessage struct {
	Resource string          `json:"resource"`
	Action   json.RawMessage `json:"action,omitempty"`
	SID      json.RawMessage `json:"sID,omitempty"`
	MsgID    json.RawMessage `json:"msgID,omitempty"`
	Version  json.RawMessage `json:"version,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Code     json.RawMessage `json:"code,omitempty"`
}

// Marshal serializes a Message per the wire rules: action is always
// upper-case, data is omitted when empty, and optional numeric fields are
// omitted when nil.
func (m Message) Marshal() ([]byte, error) {
	action := m.Action
	if action == "" {
		action = ActionGet
	}
	out := map[string]any{
		"resource": m.Resource,
		"action":   strings.ToUpper(string(action)),
	}
	if m.SID != nil {
		out["sID"] = *m.SID
	}
	if m.MsgID != nil {
		out["msgID"] = *m.MsgID
	}
	if m.Version != nil {
		out["version"] = *m.Version
	}
	if len(m.Data) > 0 {
		out["data"] = m.Data
	}
	if m.Code != nil {
		out["code"] = *m.Code
	}
	return json.Marshal(out)
}

// Parse decodes a wire payload leniently per the envelope spec:
//   - unknown fields are ignored
//   - a non-array data field is wrapped into a single-element slice
//   - numeric envelope fields accept int, float-with-zero-fraction, or
//     numeric string; anything else (bool, non-numeric string, non-zero
//     fractional float) makes the field absent
//   - the action is upper-cased before matching; an unrecognized action
//     defaults to GET
func Parse(raw []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return Message{}, fmt.Errorf("protocol: parse envelope: %w", err)
	}

	m := Message{
		Resource: w.Resource,
		Action:   parseAction(w.Action),
	}
	m.SID = parseOptionalInt64(w.SID)
	m.MsgID = parseOptionalInt64(w.MsgID)
	if v := parseOptionalInt64(w.Version); v != nil {
		v32 := int32(*v)
		m.Version = &v32
	}
	m.Code = parseOptionalInt32(w.Code)
	m.Data = parseData(w.Data)
	return m, nil
}

func parseAction(raw json.RawMessage) Action {
	if len(raw) == 0 {
		return ActionGet
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ActionGet
	}
	switch strings.ToUpper(s) {
	case string(ActionGet):
		return ActionGet
	case string(ActionPost):
		return ActionPost
	case string(ActionResponse):
		return ActionResponse
	case string(ActionNotify):
		return ActionNotify
	default:
		return ActionGet
	}
}

func parseData(raw json.RawMessage) []json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil {
		return arr
	}
	// Non-array data is wrapped into a single-element sequence.
	return []json.RawMessage{raw}
}

// parseOptionalInt64 implements the lenient numeric coercion rule shared by
// sID, msgID, and version: accept an integer, a float whose fractional part
// is zero, or a numeric string; anything else yields nil (field absent).
func parseOptionalInt64(raw json.RawMessage) *int64 {
	if len(raw) == 0 {
		return nil
	}
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "null" {
		return nil
	}

	// Numeric string form: `"123"`.
	if len(trimmed) >= 2 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		return int64FromFloat(f)
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		// Not a bare number (e.g. a bool or object); reject.
		return nil
	}
	return int64FromFloat(f)
}

func int64FromFloat(f float64) *int64 {
	i := int64(f)
	if float64(i) != f {
		// Non-zero fractional part: the value is not representable losslessly.
		return nil
	}
	return &i
}

func parseOptionalInt32(raw json.RawMessage) *int32 {
	v := parseOptionalInt64(raw)
	if v == nil {
		return nil
	}
	v32 := int32(*v)
	return &v32
}

// ServiceOf returns the two-character service prefix of a resource path
// (e.g. "/ci/services" -> "ci"), or "" if the resource is too short.
func ServiceOf(resource string) string {
	r := strings.TrimPrefix(resource, "/")
	if len(r) < 2 {
		return ""
	}
	return r[:2]
}
