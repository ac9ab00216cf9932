package entity

import (
	"bytes"

	"kvmesh/internal/model"
)

const canonicalTimeStampKey = `"TimeStamp"`

// InjectTimestamp normalises raw on insert: it writes ts into the
// TimeStamp field, creating the field if absent (spec §4.2,
// "Normalise-on-insert"). Position indices are recomputed for the
// returned buffer by re-scanning it. A zero ts is written as JSON null.
//
// raw must already have passed Scan successfully; fields is that
// Scan's result.
func InjectTimestamp(raw []byte, fields *Fields, ts model.Timestamp) ([]byte, *Fields, error) {
	newValue := "null"
	if !ts.IsZero() {
		newValue = `"` + ts.String() + `"`
	}

	var newRaw []byte
	switch {
	case fields.HasTimeStamp && fields.TimeStamp.Value.Len() >= len(newValue):
		newRaw = overwriteTimestampInPlace(raw, fields.TimeStamp, newValue)
	case fields.HasTimeStamp:
		newRaw = spliceField(raw, fields.TimeStamp.Key.Start, fields.TimeStamp.Value.End, canonicalTimeStampKey+":"+newValue)
	default:
		newRaw = insertBeforeClose(raw, ","+canonicalTimeStampKey+":"+newValue)
	}

	newFields, err := Scan(newRaw)
	if err != nil {
		return nil, nil, err
	}
	return newRaw, newFields, nil
}

// overwriteTimestampInPlace rewrites the value bytes and (if the key
// spelling differs, e.g. "timestamp") the key bytes without changing
// the buffer's length, padding any leftover width in the value with
// spaces. Readers must tolerate trailing spaces inside string scalars
// (spec §9, open question (b)).
func overwriteTimestampInPlace(raw []byte, field Field, newValue string) []byte {
	out := append([]byte(nil), raw...)
	copy(out[field.Value.Start:field.Value.Start+len(newValue)], newValue)
	for i := field.Value.Start + len(newValue); i < field.Value.End; i++ {
		out[i] = ' '
	}
	if field.Key.Len() == len(canonicalTimeStampKey) {
		copy(out[field.Key.Start:field.Key.End], canonicalTimeStampKey)
	}
	return out
}

// spliceField truncates raw at keyStart, writes replacement, then
// appends whatever followed valueEnd in the original buffer.
func spliceField(raw []byte, keyStart, valueEnd int, replacement string) []byte {
	var b bytes.Buffer
	b.Grow(len(raw) + len(replacement))
	b.Write(raw[:keyStart])
	b.WriteString(replacement)
	b.Write(raw[valueEnd:])
	return b.Bytes()
}

// insertBeforeClose appends text immediately before raw's closing '}'.
func insertBeforeClose(raw []byte, text string) []byte {
	idx := closingBraceIndex(raw)
	var b bytes.Buffer
	b.Grow(len(raw) + len(text))
	b.Write(raw[:idx])
	b.WriteString(text)
	b.Write(raw[idx:])
	return b.Bytes()
}

func closingBraceIndex(raw []byte) int {
	i := len(raw)
	for i > 0 && isASCIIWhitespace(raw[i-1]) {
		i--
	}
	if i > 0 && raw[i-1] == '}' {
		return i - 1
	}
	return len(raw)
}

func isASCIIWhitespace(b byte) bool { return b <= 32 }

// RewriteExpiration produces the serialized form of a row given its
// current (possibly stale relative to raw) expires value, per spec
// §4.2 "Rewrite expiration". It never mutates fields or raw; it
// returns a fresh buffer (or raw itself, unmodified, in the no-op
// case).
func RewriteExpiration(raw []byte, fields *Fields, expiresValue model.Timestamp) []byte {
	switch {
	case expiresValue.IsZero() && fields.Expires == nil:
		return raw
	case expiresValue.IsZero():
		return removeField(raw, *fields.Expires)
	case fields.Expires != nil:
		newValue := `"` + expiresValue.Expires19() + `"`
		return spliceField(raw, fields.Expires.Value.Start, fields.Expires.Value.End, newValue)
	default:
		newValue := `"` + expiresValue.Expires19() + `"`
		return insertBeforeClose(raw, `,"Expires":`+newValue)
	}
}

// removeField splices field out of raw, consuming exactly one
// neighbouring comma: the one before the key if present, else the one
// after the value, else neither (spec §4.2's comma-neighbour search,
// which must skip ASCII whitespace).
func removeField(raw []byte, field Field) []byte {
	start, end := field.Key.Start, field.Value.End

	if i := skipWSBackward(raw, start); i > 0 && raw[i-1] == ',' {
		start = i - 1
	} else if j := skipWSForward(raw, end); j < len(raw) && raw[j] == ',' {
		end = j + 1
	}

	var b bytes.Buffer
	b.Grow(len(raw))
	b.Write(raw[:start])
	b.Write(raw[end:])
	return b.Bytes()
}

func skipWSBackward(raw []byte, from int) int {
	for from > 0 && isASCIIWhitespace(raw[from-1]) {
		from--
	}
	return from
}

func skipWSForward(raw []byte, from int) int {
	for from < len(raw) && isASCIIWhitespace(raw[from]) {
		from++
	}
	return from
}
