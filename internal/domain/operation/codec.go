package operation

import (
	"encoding/json"
	"fmt"
)

type wireOperation struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	UserID    string         `json:"user_id"`
	UserName  string         `json:"user_name"`
	Type      Type           `json:"type"`
	TargetID  string         `json:"target_id"`
	Data      map[string]any `json:"data"`
	Timestamp float64        `json:"timestamp"`
	Applied   bool           `json:"applied"`
	Conflicts []string       `json:"conflicts"`
}

// MarshalJSON writes the operation in its open wire form.
func (o Operation) MarshalJSON() ([]byte, error) {
	conflicts := o.Conflicts
	if conflicts == nil {
		conflicts = []string{}
	}
	return json.Marshal(wireOperation{
		ID:        o.ID,
		SessionID: o.SessionID,
		UserID:    o.UserID,
		UserName:  o.UserName,
		Type:      o.Type(),
		TargetID:  o.TargetID,
		Data:      o.Data(),
		Timestamp: o.Timestamp,
		Applied:   o.Applied,
		Conflicts: conflicts,
	})
}

// UnmarshalJSON reads the wire form and validates the payload against its type.
func (o *Operation) UnmarshalJSON(b []byte) error {
	var w wireOperation
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	if !w.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownType, w.Type)
	}
	payload, err := Decode(w.Type, w.Data)
	if err != nil {
		return err
	}
	*o = Operation{
		ID:        w.ID,
		SessionID: w.SessionID,
		UserID:    w.UserID,
		UserName:  w.UserName,
		TargetID:  w.TargetID,
		Payload:   payload,
		Timestamp: w.Timestamp,
		Applied:   w.Applied,
		Conflicts: w.Conflicts,
	}
	return nil
}

// AsNumber reports whether v is numeric and returns it as float64.
// Booleans are not numbers.
func AsNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// CloneMap deep-copies a key/value document. A nil map yields an empty one.
func CloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies maps and slices nested in v. Scalars are returned as is.
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = CloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
