// FILE: lixenwraith/funnel/router/wire.go
package router

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/lixenwraith/funnel"
)

// wireRecord is the frame carried between processes: one JSON object per
// line. Payload values survive as JSON scalars/objects; the authoritative
// formatter renders whatever arrives.
type wireRecord struct {
	Time           time.Time `json:"time"`
	Level          int64     `json:"level"`
	OriginKind     string    `json:"origin_kind"`
	OriginInstance string    `json:"origin_instance,omitempty"`
	Scope          string    `json:"scope,omitempty"`
	Payload        []any     `json:"payload,omitempty"`
}

// encodeRecord marshals a record into a newline-terminated frame
func encodeRecord(r *funnel.Record) ([]byte, error) {
	frame := wireRecord{
		Time:           r.TimeStamp,
		Level:          r.Level,
		OriginKind:     r.Origin.Kind,
		OriginInstance: r.Origin.Instance,
		Scope:          r.Scope,
		Payload:        r.Payload,
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// decodeRecord unmarshals one frame back into a record
func decodeRecord(line []byte) (*funnel.Record, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, errEmptyFrame
	}
	var frame wireRecord
	if err := json.Unmarshal(line, &frame); err != nil {
		return nil, err
	}
	return &funnel.Record{
		TimeStamp: frame.Time,
		Level:     frame.Level,
		Origin: funnel.Origin{
			Kind:     frame.OriginKind,
			Instance: frame.OriginInstance,
		},
		Scope:   frame.Scope,
		Payload: frame.Payload,
	}, nil
}
