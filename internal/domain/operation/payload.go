package operation

import (
	"fmt"
	"strings"
)

// Payload is the typed body of an operation. Each operation type has exactly
// one payload struct; the set is closed to this package.
type Payload interface {
	Type() Type
	Data() map[string]any
	clone() Payload
}

// Create adds a new entity addressed by the operation target.
type Create struct {
	Fields map[string]any
}

// Update changes fields of an existing entity. An update on the theme target
// carries the new theme under the "value" field.
type Update struct {
	Fields map[string]any
}

// Delete removes the target. Later edits of the same target are discarded.
type Delete struct{}

// Move repositions the target.
type Move struct {
	Position Point
}

// StyleChange alters presentation attributes of the target.
type StyleChange struct {
	Fields map[string]any
}

// ParameterChange merges generation parameters into the shared state.
type ParameterChange struct {
	Params map[string]any
}

// MediaUpload references an uploaded asset; the target is the asset id.
type MediaUpload struct {
	MediaType string
	URL       string
}

// Comment attaches text to the target.
type Comment struct {
	Text string
}

// CursorMove records the author's cursor position.
type CursorMove struct {
	Position Point
}

// Selection records the author's current selection. An empty selection clears it.
type Selection struct {
	Fields map[string]any
}

func (Create) Type() Type          { return TypeCreate }
func (Update) Type() Type          { return TypeUpdate }
func (Delete) Type() Type          { return TypeDelete }
func (Move) Type() Type            { return TypeMove }
func (StyleChange) Type() Type     { return TypeStyleChange }
func (ParameterChange) Type() Type { return TypeParameterChange }
func (MediaUpload) Type() Type     { return TypeMediaUpload }
func (Comment) Type() Type         { return TypeComment }
func (CursorMove) Type() Type      { return TypeCursorMove }
func (Selection) Type() Type       { return TypeSelection }

func (p Create) Data() map[string]any          { return CloneMap(p.Fields) }
func (p Update) Data() map[string]any          { return CloneMap(p.Fields) }
func (Delete) Data() map[string]any            { return map[string]any{} }
func (p StyleChange) Data() map[string]any     { return CloneMap(p.Fields) }
func (p ParameterChange) Data() map[string]any { return CloneMap(p.Params) }
func (p Selection) Data() map[string]any       { return CloneMap(p.Fields) }

func (p Move) Data() map[string]any {
	return map[string]any{"position": p.Position.toMap()}
}

func (p MediaUpload) Data() map[string]any {
	return map[string]any{"type": p.MediaType, "url": p.URL}
}

func (p Comment) Data() map[string]any {
	return map[string]any{"text": p.Text}
}

func (p CursorMove) Data() map[string]any {
	return p.Position.toMap()
}

func (p Create) clone() Payload          { return Create{Fields: CloneMap(p.Fields)} }
func (p Update) clone() Payload          { return Update{Fields: CloneMap(p.Fields)} }
func (p Delete) clone() Payload          { return p }
func (p Move) clone() Payload            { return p }
func (p StyleChange) clone() Payload     { return StyleChange{Fields: CloneMap(p.Fields)} }
func (p ParameterChange) clone() Payload { return ParameterChange{Params: CloneMap(p.Params)} }
func (p MediaUpload) clone() Payload     { return p }
func (p Comment) clone() Payload         { return p }
func (p CursorMove) clone() Payload      { return p }
func (p Selection) clone() Payload       { return Selection{Fields: CloneMap(p.Fields)} }

func (p Point) toMap() map[string]any {
	return map[string]any{"x": p.X, "y": p.Y}
}

// Decode validates an open key/value payload against its operation type and
// returns the typed payload. This is the only way loosely typed input enters
// the engine.
func Decode(t Type, data map[string]any) (Payload, error) {
	switch t {
	case TypeCreate:
		return Create{Fields: CloneMap(data)}, nil
	case TypeUpdate:
		if len(data) == 0 {
			return nil, fmt.Errorf("%w: update requires at least one field", ErrInvalidPayload)
		}
		return Update{Fields: CloneMap(data)}, nil
	case TypeDelete:
		return Delete{}, nil
	case TypeMove:
		raw, ok := data["position"]
		if !ok {
			return nil, fmt.Errorf("%w: move requires position", ErrInvalidPayload)
		}
		pos, err := parsePoint(raw)
		if err != nil {
			return nil, err
		}
		return Move{Position: pos}, nil
	case TypeStyleChange:
		if len(data) == 0 {
			return nil, fmt.Errorf("%w: style change requires at least one field", ErrInvalidPayload)
		}
		return StyleChange{Fields: CloneMap(data)}, nil
	case TypeParameterChange:
		if len(data) == 0 {
			return nil, fmt.Errorf("%w: parameter change requires at least one parameter", ErrInvalidPayload)
		}
		return ParameterChange{Params: CloneMap(data)}, nil
	case TypeMediaUpload:
		url, _ := data["url"].(string)
		if strings.TrimSpace(url) == "" {
			return nil, fmt.Errorf("%w: media upload requires url", ErrInvalidPayload)
		}
		mediaType, _ := data["type"].(string)
		return MediaUpload{MediaType: mediaType, URL: url}, nil
	case TypeComment:
		text, _ := data["text"].(string)
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("%w: comment requires text", ErrInvalidPayload)
		}
		return Comment{Text: text}, nil
	case TypeCursorMove:
		pos, err := parsePoint(data)
		if err != nil {
			return nil, err
		}
		return CursorMove{Position: pos}, nil
	case TypeSelection:
		return Selection{Fields: CloneMap(data)}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
}

func parsePoint(raw any) (Point, error) {
	switch v := raw.(type) {
	case Point:
		return v, nil
	case *Point:
		if v != nil {
			return *v, nil
		}
	case map[string]float64:
		x, okX := v["x"]
		y, okY := v["y"]
		if okX && okY {
			return Point{X: x, Y: y}, nil
		}
	case map[string]any:
		x, okX := AsNumber(v["x"])
		y, okY := AsNumber(v["y"])
		if okX && okY {
			return Point{X: x, Y: y}, nil
		}
	}
	return Point{}, fmt.Errorf("%w: position requires numeric x and y", ErrInvalidPayload)
}
