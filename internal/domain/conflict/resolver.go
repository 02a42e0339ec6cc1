package conflict

import (
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rpggio/atelier/internal/domain/operation"
)

// DefaultWindow is the time distance, in seconds, under which two operations
// on the same target are considered concurrent.
const DefaultWindow = 1.0

// Options configures a Resolver.
type Options struct {
	// Window in seconds. Zero or negative means DefaultWindow.
	Window float64
	// NewID generates ids for rewritten operations. Defaults to uuid v4.
	NewID func() string
	// Logger receives debug records for every transformation.
	Logger *slog.Logger
}

// Resolver turns a batch of pending operations into a conflict-free ordered
// batch. It keeps no state between calls.
type Resolver struct {
	window float64
	newID  func() string
	logger *slog.Logger
}

// Result is the outcome of one resolution pass.
type Result struct {
	// Resolved holds the operations to apply, in application order.
	Resolved []*operation.Operation
	// Dropped holds the pending operations discarded by a delete.
	Dropped []*operation.Operation
	// Rewritten maps an original pending id to the operation that replaced it.
	Rewritten map[string]*operation.Operation
}

// New creates a resolver.
func New(opts Options) *Resolver {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{window: opts.Window, newID: opts.NewID, logger: opts.Logger}
}

// Window returns the configured conflict window in seconds.
func (r *Resolver) Window() float64 {
	return r.window
}

// Resolve orders pending by timestamp and checks each operation against the
// prior context and the operations resolved before it in this pass. Prior
// operations are never returned. stamp supplies timestamps for rewritten
// operations; nil means the wall clock.
//
// Inputs are not modified.
func (r *Resolver) Resolve(prior, pending []*operation.Operation, stamp func() float64) Result {
	if stamp == nil {
		stamp = wallClock
	}

	ordered := make([]*operation.Operation, 0, len(pending))
	for _, op := range pending {
		if op != nil {
			ordered = append(ordered, op)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp < ordered[j].Timestamp
	})

	res := Result{
		Resolved:  make([]*operation.Operation, 0, len(ordered)),
		Rewritten: map[string]*operation.Operation{},
	}
	seen := make([]*operation.Operation, 0, len(prior)+len(ordered))
	for _, op := range prior {
		if op != nil {
			seen = append(seen, op)
		}
	}

	for _, candidate := range ordered {
		conflicts := r.detect(candidate, seen)
		if len(conflicts) == 0 {
			res.Resolved = append(res.Resolved, candidate)
			seen = append(seen, candidate)
			continue
		}

		rewritten, ok := r.transform(candidate, conflicts, stamp)
		if !ok {
			r.logger.Debug("operation dropped by delete",
				"operation_id", candidate.ID,
				"target_id", candidate.TargetID,
				"conflicts", conflictIDs(conflicts))
			res.Dropped = append(res.Dropped, candidate)
			continue
		}

		r.logger.Debug("conflict resolved",
			"operation_id", candidate.ID,
			"rewritten_id", rewritten.ID,
			"conflicts", rewritten.Conflicts)
		res.Rewritten[candidate.ID] = rewritten
		res.Resolved = append(res.Resolved, rewritten)
		seen = append(seen, rewritten)
	}

	return res
}

// Conflicts reports whether prior conflicts with candidate.
func (r *Resolver) Conflicts(candidate, prior *operation.Operation) bool {
	if candidate == nil || prior == nil || candidate.TargetID != prior.TargetID {
		return false
	}
	if prior.Type() == operation.TypeDelete {
		return true
	}
	return math.Abs(candidate.Timestamp-prior.Timestamp) < r.window
}

func (r *Resolver) detect(candidate *operation.Operation, seen []*operation.Operation) []*operation.Operation {
	var out []*operation.Operation
	for _, prior := range seen {
		if r.Conflicts(candidate, prior) {
			out = append(out, prior)
		}
	}
	return out
}

func (r *Resolver) transform(candidate *operation.Operation, conflicts []*operation.Operation, stamp func() float64) (*operation.Operation, bool) {
	for _, c := range conflicts {
		if c.Type() == operation.TypeDelete {
			return nil, false
		}
	}

	payload := candidate.Payload
	changed := false
	for _, c := range conflicts {
		switch current := payload.(type) {
		case operation.Update:
			if other, ok := c.Payload.(operation.Update); ok {
				payload = operation.Update{Fields: MergeFields(other.Fields, current.Fields)}
				changed = true
			}
		case operation.Move:
			if other, ok := c.Payload.(operation.Move); ok {
				payload = operation.Move{Position: Spread(other.Position, current.Position)}
				changed = true
			}
		}
	}

	out := candidate.Clone()
	if changed {
		out.Payload = payload
	}
	out.ID = r.newID()
	out.Timestamp = stamp()
	out.Applied = false
	out.Conflicts = conflictIDs(conflicts)
	return out, true
}

func conflictIDs(ops []*operation.Operation) []string {
	ids := make([]string, 0, len(ops))
	for _, op := range ops {
		ids = append(ids, op.ID)
	}
	return ids
}

func wallClock() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
