// FILE: lixenwraith/funnel/record.go
package funnel

import (
	"time"

	"github.com/google/uuid"
)

// Origin identifies the process that emitted a record
type Origin struct {
	Kind     string `json:"kind"`
	Instance string `json:"instance,omitempty"`
}

// Variables carries environment-derived context (user data directory,
// application name, session identifiers) resolved at the authoritative
// process and consumed by path resolvers
type Variables map[string]string

// Record is the immutable unit carried through the pipeline.
// TimeStamp and Origin are set once at creation; downstream components
// treat a Record as read-only.
type Record struct {
	TimeStamp time.Time `json:"time"`
	Level     int64     `json:"level"`
	Origin    Origin    `json:"origin"`
	Scope     string    `json:"scope,omitempty"`
	Payload   []any     `json:"payload"`
	Variables Variables `json:"-"`
}

// shouldEmit is the level gate: true iff the record's level reaches the
// transport's minimum under the severity ordering
func shouldEmit(level, transportMinLevel int64) bool {
	return level >= transportMinLevel
}

// newInstanceID generates a process-unique origin instance identifier
func newInstanceID() string {
	return uuid.NewString()
}

// merged overlays per-record variables on top of the engine's
func (v Variables) merged(over Variables) Variables {
	if len(over) == 0 {
		return v
	}
	if len(v) == 0 {
		return over
	}
	out := make(Variables, len(v)+len(over))
	for k, val := range v {
		out[k] = val
	}
	for k, val := range over {
		out[k] = val
	}
	return out
}
