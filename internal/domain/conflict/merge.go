package conflict

import (
	"math"
	"unicode/utf8"

	"github.com/rpggio/atelier/internal/domain/operation"
)

// SpreadThreshold is the per-axis distance under which two moves collide.
const SpreadThreshold = 10.0

// SpreadOffset is added to the earlier move's coordinate on a colliding axis.
const SpreadOffset = 15.0

// MergeFields merges two update documents. Keys present on one side pass
// through. For keys present on both: two numbers average, two strings keep
// the longer one (ties keep incoming), anything else keeps incoming.
func MergeFields(existing, incoming map[string]any) map[string]any {
	out := operation.CloneMap(existing)
	for key, in := range incoming {
		prev, ok := out[key]
		if !ok {
			out[key] = operation.CloneValue(in)
			continue
		}
		out[key] = mergeValue(prev, in)
	}
	return out
}

func mergeValue(existing, incoming any) any {
	if a, ok := operation.AsNumber(existing); ok {
		if b, ok := operation.AsNumber(incoming); ok {
			return (a + b) / 2
		}
	}
	if a, ok := existing.(string); ok {
		if b, ok := incoming.(string); ok {
			if utf8.RuneCountInString(a) > utf8.RuneCountInString(b) {
				return a
			}
			return b
		}
	}
	return operation.CloneValue(incoming)
}

// Spread moves incoming away from existing on every axis where the two are
// closer than SpreadThreshold.
func Spread(existing, incoming operation.Point) operation.Point {
	out := incoming
	if math.Abs(incoming.X-existing.X) < SpreadThreshold {
		out.X = existing.X + SpreadOffset
	}
	if math.Abs(incoming.Y-existing.Y) < SpreadThreshold {
		out.Y = existing.Y + SpreadOffset
	}
	return out
}
