// FILE: lixenwraith/funnel/format.go
package funnel

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/davecgh/go-spew/spew"
)

const hexChars = "0123456789abcdef"

// serializer manages buffered rendering of records. A serializer instance
// is single-owner: the writer goroutine and the console path each hold
// their own.
type serializer struct {
	buf             []byte
	timestampFormat string
}

func newSerializer() *serializer {
	return &serializer{
		buf:             make([]byte, 0, 4096),
		timestampFormat: time.RFC3339Nano,
	}
}

func (s *serializer) reset() {
	s.buf = s.buf[:0]
}

func (s *serializer) setTimestampFormat(format string) {
	if format == "" {
		format = time.RFC3339Nano
	}
	s.timestampFormat = format
}

// formatSpec is one transport's formatter selection: the kind, the token
// layout for the template kind, and the optional custom hook for the
// structured kind
type formatSpec struct {
	kind     string
	template string
	custom   func(*Record) any
}

// serialize renders a record per the given formatter selection.
// A custom formatter that panics or produces unmarshalable output
// degrades to a fallback line carrying the error and the payload's
// string form; the fallback is returned like any other rendering so it
// flows through rotation accounting.
func (s *serializer) serialize(spec formatSpec, r *Record) []byte {
	s.reset()

	if spec.kind == "json" {
		if spec.custom != nil {
			return s.serializeCustom(spec.custom, r)
		}
		return s.serializeJSON(r)
	}
	return s.serializeTemplate(spec.template, r)
}

// serializeTemplate interpolates the fixed token layout.
// Recognized tokens: {y} {m} {d} {h} {i} {s} {ms} {iso} {level} {origin}
// {scope} {text}. Unknown tokens are emitted literally.
func (s *serializer) serializeTemplate(template string, r *Record) []byte {
	ts := r.TimeStamp
	for i := 0; i < len(template); {
		c := template[i]
		if c != '{' {
			s.buf = append(s.buf, c)
			i++
			continue
		}
		end := strings.IndexByte(template[i:], '}')
		if end < 0 {
			s.buf = append(s.buf, template[i:]...)
			break
		}
		token := template[i+1 : i+end]
		switch token {
		case "y":
			s.buf = appendPadded(s.buf, ts.Year(), 4)
		case "m":
			s.buf = appendPadded(s.buf, int(ts.Month()), 2)
		case "d":
			s.buf = appendPadded(s.buf, ts.Day(), 2)
		case "h":
			s.buf = appendPadded(s.buf, ts.Hour(), 2)
		case "i":
			s.buf = appendPadded(s.buf, ts.Minute(), 2)
		case "s":
			s.buf = appendPadded(s.buf, ts.Second(), 2)
		case "ms":
			s.buf = appendPadded(s.buf, ts.Nanosecond()/1e6, 3)
		case "iso":
			s.buf = ts.AppendFormat(s.buf, s.timestampFormat)
		case "level":
			s.buf = append(s.buf, levelToString(r.Level)...)
		case "origin":
			s.buf = append(s.buf, originLabel(r.Origin)...)
		case "scope":
			if r.Scope != "" {
				s.buf = append(s.buf, ' ', '(')
				s.buf = append(s.buf, r.Scope...)
				s.buf = append(s.buf, ')')
			}
		case "text":
			s.writePayload(r.Payload)
		default:
			s.buf = append(s.buf, template[i:i+end+1]...)
		}
		i += end + 1
	}
	s.buf = append(s.buf, '\n')
	return s.buf
}

// originLabel renders an origin as kind or kind#instance-prefix
func originLabel(o Origin) string {
	if o.Instance == "" {
		return o.Kind
	}
	inst := o.Instance
	if len(inst) > 8 {
		inst = inst[:8]
	}
	return o.Kind + "#" + inst
}

// writePayload joins payload values space-separated
func (s *serializer) writePayload(payload []any) {
	for i, v := range payload {
		if i > 0 {
			s.buf = append(s.buf, ' ')
		}
		s.writeValue(v)
	}
}

// writeValue converts any value to its text representation.
// Types without explicit support are delegated to spew for a compact,
// deterministic dump.
func (s *serializer) writeValue(v any) {
	switch val := v.(type) {
	case string:
		s.buf = append(s.buf, val...)
	case int:
		s.buf = strconv.AppendInt(s.buf, int64(val), 10)
	case int64:
		s.buf = strconv.AppendInt(s.buf, val, 10)
	case uint:
		s.buf = strconv.AppendUint(s.buf, uint64(val), 10)
	case uint64:
		s.buf = strconv.AppendUint(s.buf, val, 10)
	case float32:
		s.buf = strconv.AppendFloat(s.buf, float64(val), 'f', -1, 32)
	case float64:
		s.buf = strconv.AppendFloat(s.buf, val, 'f', -1, 64)
	case bool:
		s.buf = strconv.AppendBool(s.buf, val)
	case nil:
		s.buf = append(s.buf, "null"...)
	case time.Time:
		s.buf = val.AppendFormat(s.buf, s.timestampFormat)
	case error:
		s.buf = append(s.buf, val.Error()...)
	case fmt.Stringer:
		s.buf = append(s.buf, val.String()...)
	default:
		var b bytes.Buffer
		dumper := &spew.ConfigState{
			Indent:                  " ",
			MaxDepth:                10,
			DisablePointerAddresses: true,
			DisableCapacities:       true,
			SortKeys:                true,
		}
		dumper.Fdump(&b, val)
		s.buf = append(s.buf, bytes.TrimSpace(b.Bytes())...)
	}
}

// serializeJSON renders the built-in structured format
func (s *serializer) serializeJSON(r *Record) []byte {
	s.buf = append(s.buf, `{"time":"`...)
	s.buf = r.TimeStamp.AppendFormat(s.buf, s.timestampFormat)
	s.buf = append(s.buf, `","level":"`...)
	s.buf = append(s.buf, levelToString(r.Level)...)
	s.buf = append(s.buf, `","origin":{"kind":"`...)
	s.writeString(r.Origin.Kind)
	s.buf = append(s.buf, '"')
	if r.Origin.Instance != "" {
		s.buf = append(s.buf, `,"instance":"`...)
		s.writeString(r.Origin.Instance)
		s.buf = append(s.buf, '"')
	}
	s.buf = append(s.buf, '}')

	if r.Scope != "" {
		s.buf = append(s.buf, `,"scope":"`...)
		s.writeString(r.Scope)
		s.buf = append(s.buf, '"')
	}

	if len(r.Payload) > 0 {
		s.buf = append(s.buf, `,"payload":[`...)
		for i, v := range r.Payload {
			if i > 0 {
				s.buf = append(s.buf, ',')
			}
			s.writeJSONValue(v)
		}
		s.buf = append(s.buf, ']')
	}

	s.buf = append(s.buf, '}', '\n')
	return s.buf
}

// writeJSONValue converts any value to its JSON representation
func (s *serializer) writeJSONValue(v any) {
	switch val := v.(type) {
	case string:
		s.buf = append(s.buf, '"')
		s.writeString(val)
		s.buf = append(s.buf, '"')
	case int:
		s.buf = strconv.AppendInt(s.buf, int64(val), 10)
	case int64:
		s.buf = strconv.AppendInt(s.buf, val, 10)
	case uint:
		s.buf = strconv.AppendUint(s.buf, uint64(val), 10)
	case uint64:
		s.buf = strconv.AppendUint(s.buf, val, 10)
	case float32:
		s.buf = strconv.AppendFloat(s.buf, float64(val), 'f', -1, 32)
	case float64:
		s.buf = strconv.AppendFloat(s.buf, val, 'f', -1, 64)
	case bool:
		s.buf = strconv.AppendBool(s.buf, val)
	case nil:
		s.buf = append(s.buf, "null"...)
	case time.Time:
		s.buf = append(s.buf, '"')
		s.buf = val.AppendFormat(s.buf, s.timestampFormat)
		s.buf = append(s.buf, '"')
	case error:
		s.buf = append(s.buf, '"')
		s.writeString(val.Error())
		s.buf = append(s.buf, '"')
	default:
		// Structured values go through encoding/json to stay queryable
		marshaled, err := json.Marshal(val)
		if err != nil {
			s.buf = append(s.buf, '"')
			s.writeString(fmt.Sprintf("%+v", val))
			s.buf = append(s.buf, '"')
		} else {
			s.buf = append(s.buf, marshaled...)
		}
	}
}

// serializeCustom invokes the user formatter and serializes its result.
// Must not throw: panics and marshal errors degrade to the fallback line.
func (s *serializer) serializeCustom(custom func(*Record) any, r *Record) []byte {
	v, err := invokeCustom(custom, r)
	if err != nil {
		return s.fallbackLine(r, err)
	}
	marshaled, err := json.Marshal(v)
	if err != nil {
		return s.fallbackLine(r, err)
	}
	s.buf = append(s.buf, marshaled...)
	s.buf = append(s.buf, '\n')
	return s.buf
}

// invokeCustom calls the formatter hook with panic containment
func invokeCustom(custom func(*Record) any, r *Record) (v any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			v = nil
			err = fmtErrorf("custom formatter panicked: %v", rec)
		}
	}()
	return custom(r), nil
}

// fallbackLine renders the formatter-failure line: the error plus the
// original payload's string form
func (s *serializer) fallbackLine(r *Record, cause error) []byte {
	s.reset()
	s.buf = r.TimeStamp.AppendFormat(s.buf, s.timestampFormat)
	s.buf = append(s.buf, " FORMAT-ERROR "...)
	s.buf = append(s.buf, cause.Error()...)
	s.buf = append(s.buf, ' ')
	s.writePayload(r.Payload)
	s.buf = append(s.buf, '\n')
	return s.buf
}

// writeString appends a string to the buffer, escaping JSON special characters
func (s *serializer) writeString(str string) {
	lenStr := len(str)
	for i := 0; i < lenStr; {
		if c := str[i]; c < ' ' || c == '"' || c == '\\' {
			switch c {
			case '\\', '"':
				s.buf = append(s.buf, '\\', c)
			case '\n':
				s.buf = append(s.buf, '\\', 'n')
			case '\r':
				s.buf = append(s.buf, '\\', 'r')
			case '\t':
				s.buf = append(s.buf, '\\', 't')
			case '\b':
				s.buf = append(s.buf, '\\', 'b')
			case '\f':
				s.buf = append(s.buf, '\\', 'f')
			default:
				s.buf = append(s.buf, `\u00`...)
				s.buf = append(s.buf, hexChars[c>>4], hexChars[c&0xF])
			}
			i++
		} else {
			start := i
			for i < lenStr && str[i] >= ' ' && str[i] != '"' && str[i] != '\\' {
				i++
			}
			s.buf = append(s.buf, str[start:i]...)
		}
	}
}

// appendPadded appends n zero-padded to the given width
func appendPadded(buf []byte, n, width int) []byte {
	digits := 1
	for p := 10; n >= p && digits < width; p *= 10 {
		digits++
	}
	for ; digits < width; digits++ {
		buf = append(buf, '0')
	}
	return strconv.AppendInt(buf, int64(n), 10)
}
