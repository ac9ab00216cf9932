package entity

import "kvmesh/internal/model"

// ParseAndCompile validates raw, injects now as its TimeStamp field
// (creating or overwriting it per InjectTimestamp), and builds the
// resulting Row. This is the path used on every insert (spec §4.2,
// "Normalise-on-insert").
func ParseAndCompile(raw []byte, now model.Timestamp) (*model.Row, error) {
	fields, err := Scan(raw)
	if err != nil {
		return nil, err
	}
	newRaw, newFields, err := InjectTimestamp(raw, fields, now)
	if err != nil {
		return nil, err
	}
	return buildRow(newRaw, newFields, now)
}

// ParseExisting validates raw and builds a Row from whatever TimeStamp
// it already carries, without injecting one. Used when loading a
// buffer that has already been normalised (e.g. replayed from a
// snapshot or received over the wire).
func ParseExisting(raw []byte) (*model.Row, error) {
	fields, err := Scan(raw)
	if err != nil {
		return nil, err
	}
	ts := model.ZeroTimestamp
	if fields.HasTimeStamp {
		s, err := GetStrValue(raw, fields.TimeStamp)
		if err != nil {
			return nil, err
		}
		ts = model.ParseTimestamp(s)
	}
	return buildRow(raw, fields, ts)
}

func buildRow(raw []byte, fields *Fields, ts model.Timestamp) (*model.Row, error) {
	pk, err := GetStrValue(raw, fields.PartitionKey)
	if err != nil {
		return nil, err
	}
	rk, err := GetStrValue(raw, fields.RowKey)
	if err != nil {
		return nil, err
	}

	var expiresPos *model.FieldRange
	expiresValue := model.ZeroTimestamp
	if fields.Expires != nil {
		r := model.FieldRange{Key: fields.Expires.Key, Value: fields.Expires.Value}
		expiresPos = &r
		if !fields.Expires.IsNull {
			s, err := GetStrValue(raw, *fields.Expires)
			if err != nil {
				return nil, err
			}
			expiresValue = model.ParseTimestamp(s)
		}
	}

	return model.NewRow(
		raw, pk, rk,
		model.ByteRange(fields.PartitionKey.Value),
		model.ByteRange(fields.RowKey.Value),
		model.ByteRange(fields.TimeStamp.Value),
		ts, expiresPos, expiresValue,
	), nil
}

// Serialize renders row's current state (honouring its live
// Expires() value, which may have diverged from raw since
// construction) into a self-contained JSON object buffer, per spec
// §4.2 "Rewrite expiration".
func Serialize(row *model.Row) []byte {
	expiresPos := row.ExpiresRange()
	var fields Fields
	fields.PartitionKey.Value = row.PartitionKeyRange()
	fields.RowKey.Value = row.RowKeyRange()
	if expiresPos != nil {
		f := Field{Key: expiresPos.Key, Value: expiresPos.Value}
		fields.Expires = &f
	}
	return RewriteExpiration(row.Raw(), &fields, row.Expires())
}
