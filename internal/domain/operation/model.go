package operation

import "fmt"

// Type identifies the kind of edit an operation carries.
type Type string

const (
	TypeCreate          Type = "create"
	TypeUpdate          Type = "update"
	TypeDelete          Type = "delete"
	TypeMove            Type = "move"
	TypeStyleChange     Type = "style_change"
	TypeParameterChange Type = "parameter_change"
	TypeMediaUpload     Type = "media_upload"
	TypeComment         Type = "comment"
	TypeCursorMove      Type = "cursor_move"
	TypeSelection       Type = "selection"
)

// Types lists every supported operation type.
var Types = []Type{
	TypeCreate,
	TypeUpdate,
	TypeDelete,
	TypeMove,
	TypeStyleChange,
	TypeParameterChange,
	TypeMediaUpload,
	TypeComment,
	TypeCursorMove,
	TypeSelection,
}

// Valid reports whether t is a supported operation type.
func (t Type) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// ParseType converts a wire value into a Type.
func ParseType(value string) (Type, error) {
	t := Type(value)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, value)
	}
	return t, nil
}

// Well-known targets.
const (
	TargetTheme  = "theme"
	TargetCursor = "cursor"
)

// Point is a 2-D position on the shared canvas.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Operation is a single edit submitted by a session participant.
// Once Applied is set the operation is never mutated again.
type Operation struct {
	ID        string
	SessionID string
	UserID    string
	UserName  string
	TargetID  string
	Payload   Payload
	Timestamp float64
	Applied   bool
	Conflicts []string
}

// Type returns the operation type derived from its payload.
func (o *Operation) Type() Type {
	if o.Payload == nil {
		return ""
	}
	return o.Payload.Type()
}

// Data returns a copy of the payload as an open key/value document.
func (o *Operation) Data() map[string]any {
	if o.Payload == nil {
		return map[string]any{}
	}
	return o.Payload.Data()
}

// Clone returns a deep copy safe to hand outside the engine.
func (o *Operation) Clone() *Operation {
	if o == nil {
		return nil
	}
	cp := *o
	if o.Payload != nil {
		cp.Payload = o.Payload.clone()
	}
	if o.Conflicts != nil {
		cp.Conflicts = append([]string(nil), o.Conflicts...)
	}
	return &cp
}
