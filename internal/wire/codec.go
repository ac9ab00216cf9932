package wire

import (
	"bytes"
	"encoding/binary"
	"io"
)

// maxFrameLen bounds any single pascal string / byte array so a
// corrupt length prefix can't make Decode try to allocate gigabytes.
const maxFrameLen = 64 << 20

// Encode writes f's wire representation to w: one packet-id byte
// followed by its payload, per the table in spec §4.9.
func Encode(w io.Writer, f Frame) error {
	var buf bytes.Buffer
	buf.WriteByte(byte(f.PacketID()))

	switch v := f.(type) {
	case Ping, Pong:
		// no payload
	case Greeting:
		writePascalString(&buf, v.Name)
	case Subscribe:
		writePascalString(&buf, v.Table)
	case InitTable:
		writePascalString(&buf, v.Table)
		writeByteArray(&buf, v.Data)
	case InitPartition:
		writePascalString(&buf, v.Table)
		writePascalString(&buf, v.PartitionKey)
		writeByteArray(&buf, v.Data)
	case UpdateRows:
		writePascalString(&buf, v.Table)
		writeByteArray(&buf, v.Data)
	case DeleteRows:
		writePascalString(&buf, v.Table)
		writeI32(&buf, int32(len(v.Rows)))
		for _, ref := range v.Rows {
			writePascalString(&buf, ref.PartitionKey)
			writePascalString(&buf, ref.RowKey)
		}
	case Error:
		writeU8(&buf, v.Version)
		writePascalString(&buf, v.Message)
	case GreetingFromNode:
		writeU8(&buf, v.Version)
		writePascalString(&buf, v.Location)
		writePascalString(&buf, v.NodeVersion)
		if v.Version >= 1 {
			compress := uint8(0)
			if v.Compress != nil {
				compress = *v.Compress
			}
			writeU8(&buf, compress)
		}
	case SubscribeAsNode:
		writeU8(&buf, v.Version)
		writePascalString(&buf, v.Table)
	case Unsubscribe:
		writeU8(&buf, v.Version)
		writePascalString(&buf, v.Table)
	case TableNotFound:
		writeU8(&buf, v.Version)
		writePascalString(&buf, v.Table)
	case CompressedPayload:
		writeByteArray(&buf, v.Data)
	case UpdatePartitionsLastReadTime:
		writeU8(&buf, v.Version)
		writeI64(&buf, v.ConfirmationID)
		writePascalString(&buf, v.Table)
		writeStringList(&buf, v.PartitionKeys)
	case UpdateRowsLastReadTime:
		writeU8(&buf, v.Version)
		writeI64(&buf, v.ConfirmationID)
		writePascalString(&buf, v.Table)
		writePascalString(&buf, v.PartitionKey)
		writeStringList(&buf, v.RowKeys)
	case UpdatePartitionsExpirationTime:
		writeU8(&buf, v.Version)
		writeI64(&buf, v.ConfirmationID)
		writePascalString(&buf, v.Table)
		writeI32(&buf, int32(len(v.Entries)))
		for _, e := range v.Entries {
			writePascalString(&buf, e.PartitionKey)
			writeI64(&buf, e.Expiration)
		}
	case UpdateRowsExpirationTime:
		writeU8(&buf, v.Version)
		writeI64(&buf, v.ConfirmationID)
		writePascalString(&buf, v.Table)
		writePascalString(&buf, v.PartitionKey)
		writeStringList(&buf, v.RowKeys)
		writeI64(&buf, v.Expiration)
	case Confirmation:
		writeU8(&buf, v.Version)
		writeI64(&buf, v.ConfirmationID)
	default:
		return newProtocolError(f.PacketID(), "unknown frame type for encode")
	}

	_, err := w.Write(buf.Bytes())
	return err
}

// Decode reads one frame from r. CompressedPayload frames are
// transparently decompressed and decoded recursively exactly once; a
// nested CompressedPayload is a protocol error.
func Decode(r io.Reader) (Frame, error) {
	return decode(r, false)
}

func decode(r io.Reader, insideCompressed bool) (Frame, error) {
	idByte, err := readU8(r)
	if err != nil {
		return nil, err
	}
	id := PacketID(idByte)

	switch id {
	case PacketPing:
		return Ping{}, nil
	case PacketPong:
		return Pong{}, nil
	case PacketGreeting:
		name, err := readPascalString(r, id)
		if err != nil {
			return nil, err
		}
		return Greeting{Name: name}, nil
	case PacketSubscribe:
		table, err := readPascalString(r, id)
		if err != nil {
			return nil, err
		}
		return Subscribe{Table: table}, nil
	case PacketInitTable:
		table, err := readPascalString(r, id)
		if err != nil {
			return nil, err
		}
		data, err := readByteArray(r, id)
		if err != nil {
			return nil, err
		}
		return InitTable{Table: table, Data: data}, nil
	case PacketInitPartition:
		table, err := readPascalString(r, id)
		if err != nil {
			return nil, err
		}
		pk, err := readPascalString(r, id)
		if err != nil {
			return nil, err
		}
		data, err := readByteArray(r, id)
		if err != nil {
			return nil, err
		}
		return InitPartition{Table: table, PartitionKey: pk, Data: data}, nil
	case PacketUpdateRows:
		table, err := readPascalString(r, id)
		if err != nil {
			return nil, err
		}
		data, err := readByteArray(r, id)
		if err != nil {
			return nil, err
		}
		return UpdateRows{Table: table, Data: data}, nil
	case PacketDeleteRows:
		return decodeDeleteRows(r, id)
	case PacketError:
		version, err := readU8(r)
		if err != nil {
			return nil, err
		}
		msg, err := readPascalString(r, id)
		if err != nil {
			return nil, err
		}
		return Error{Version: version, Message: msg}, nil
	case PacketGreetingFromNode:
		return decodeGreetingFromNode(r, id)
	case PacketSubscribeAsNode:
		return decodeVersionedTable(r, id, func(v uint8, t string) Frame { return SubscribeAsNode{Version: v, Table: t} })
	case PacketUnsubscribe:
		return decodeVersionedTable(r, id, func(v uint8, t string) Frame { return Unsubscribe{Version: v, Table: t} })
	case PacketTableNotFound:
		return decodeVersionedTable(r, id, func(v uint8, t string) Frame { return TableNotFound{Version: v, Table: t} })
	case PacketCompressedPayload:
		if insideCompressed {
			return nil, newProtocolError(id, "compressed frame may not nest another compressed frame")
		}
		return decodeCompressedPayload(r, id)
	case PacketUpdatePartitionsLastReadTime:
		return decodeUpdatePartitionsLastReadTime(r, id)
	case PacketUpdateRowsLastReadTime:
		return decodeUpdateRowsLastReadTime(r, id)
	case PacketUpdatePartitionsExpirationTime:
		return decodeUpdatePartitionsExpirationTime(r, id)
	case PacketUpdateRowsExpirationTime:
		return decodeUpdateRowsExpirationTime(r, id)
	case PacketConfirmation:
		version, err := readU8(r)
		if err != nil {
			return nil, err
		}
		confID, err := readI64(r)
		if err != nil {
			return nil, err
		}
		return Confirmation{Version: version, ConfirmationID: confID}, nil
	default:
		return nil, newProtocolError(id, "unknown packet id")
	}
}

func decodeDeleteRows(r io.Reader, id PacketID) (Frame, error) {
	table, err := readPascalString(r, id)
	if err != nil {
		return nil, err
	}
	n, err := readI32(r, id)
	if err != nil {
		return nil, err
	}
	rows := make([]RowKeyRef, 0, n)
	for i := int32(0); i < n; i++ {
		pk, err := readPascalString(r, id)
		if err != nil {
			return nil, err
		}
		rk, err := readPascalString(r, id)
		if err != nil {
			return nil, err
		}
		rows = append(rows, RowKeyRef{PartitionKey: pk, RowKey: rk})
	}
	return DeleteRows{Table: table, Rows: rows}, nil
}

func decodeGreetingFromNode(r io.Reader, id PacketID) (Frame, error) {
	version, err := readU8(r)
	if err != nil {
		return nil, err
	}
	location, err := readPascalString(r, id)
	if err != nil {
		return nil, err
	}
	nodeVersion, err := readPascalString(r, id)
	if err != nil {
		return nil, err
	}
	f := GreetingFromNode{Version: version, Location: location, NodeVersion: nodeVersion}
	if version >= 1 {
		compress, err := readU8(r)
		if err != nil {
			return nil, err
		}
		f.Compress = &compress
	}
	return f, nil
}

func decodeVersionedTable(r io.Reader, id PacketID, build func(version uint8, table string) Frame) (Frame, error) {
	version, err := readU8(r)
	if err != nil {
		return nil, err
	}
	table, err := readPascalString(r, id)
	if err != nil {
		return nil, err
	}
	return build(version, table), nil
}

func decodeCompressedPayload(r io.Reader, id PacketID) (Frame, error) {
	data, err := readByteArray(r, id)
	if err != nil {
		return nil, err
	}
	inner, err := Decompress(data)
	if err != nil {
		return nil, newProtocolError(id, err.Error())
	}
	return decode(bytes.NewReader(inner), true)
}

func decodeUpdatePartitionsLastReadTime(r io.Reader, id PacketID) (Frame, error) {
	version, err := readU8(r)
	if err != nil {
		return nil, err
	}
	confID, err := readI64(r)
	if err != nil {
		return nil, err
	}
	table, err := readPascalString(r, id)
	if err != nil {
		return nil, err
	}
	keys, err := readStringList(r, id)
	if err != nil {
		return nil, err
	}
	return UpdatePartitionsLastReadTime{Version: version, ConfirmationID: confID, Table: table, PartitionKeys: keys}, nil
}

func decodeUpdateRowsLastReadTime(r io.Reader, id PacketID) (Frame, error) {
	version, err := readU8(r)
	if err != nil {
		return nil, err
	}
	confID, err := readI64(r)
	if err != nil {
		return nil, err
	}
	table, err := readPascalString(r, id)
	if err != nil {
		return nil, err
	}
	pk, err := readPascalString(r, id)
	if err != nil {
		return nil, err
	}
	keys, err := readStringList(r, id)
	if err != nil {
		return nil, err
	}
	return UpdateRowsLastReadTime{Version: version, ConfirmationID: confID, Table: table, PartitionKey: pk, RowKeys: keys}, nil
}

func decodeUpdatePartitionsExpirationTime(r io.Reader, id PacketID) (Frame, error) {
	version, err := readU8(r)
	if err != nil {
		return nil, err
	}
	confID, err := readI64(r)
	if err != nil {
		return nil, err
	}
	table, err := readPascalString(r, id)
	if err != nil {
		return nil, err
	}
	n, err := readI32(r, id)
	if err != nil {
		return nil, err
	}
	entries := make([]PartitionExpirationEntry, 0, n)
	for i := int32(0); i < n; i++ {
		pk, err := readPascalString(r, id)
		if err != nil {
			return nil, err
		}
		exp, err := readI64(r)
		if err != nil {
			return nil, err
		}
		entries = append(entries, PartitionExpirationEntry{PartitionKey: pk, Expiration: exp})
	}
	return UpdatePartitionsExpirationTime{Version: version, ConfirmationID: confID, Table: table, Entries: entries}, nil
}

func decodeUpdateRowsExpirationTime(r io.Reader, id PacketID) (Frame, error) {
	version, err := readU8(r)
	if err != nil {
		return nil, err
	}
	confID, err := readI64(r)
	if err != nil {
		return nil, err
	}
	table, err := readPascalString(r, id)
	if err != nil {
		return nil, err
	}
	pk, err := readPascalString(r, id)
	if err != nil {
		return nil, err
	}
	keys, err := readStringList(r, id)
	if err != nil {
		return nil, err
	}
	exp, err := readI64(r)
	if err != nil {
		return nil, err
	}
	return UpdateRowsExpirationTime{Version: version, ConfirmationID: confID, Table: table, PartitionKey: pk, RowKeys: keys, Expiration: exp}, nil
}

// --- low-level read/write helpers ---

func writeU8(buf *bytes.Buffer, v uint8) { buf.WriteByte(v) }

func writeI32(buf *bytes.Buffer, v int32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(v))
	buf.Write(tmp[:])
}

func writeI64(buf *bytes.Buffer, v int64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(v))
	buf.Write(tmp[:])
}

func writePascalString(buf *bytes.Buffer, s string) {
	writeI32(buf, int32(len(s)))
	buf.WriteString(s)
}

func writeByteArray(buf *bytes.Buffer, b []byte) {
	writeI32(buf, int32(len(b)))
	buf.Write(b)
}

func writeStringList(buf *bytes.Buffer, list []string) {
	writeI32(buf, int32(len(list)))
	for _, s := range list {
		writePascalString(buf, s)
	}
}

func readU8(r io.Reader) (uint8, error) {
	var tmp [1]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return tmp[0], nil
}

func readI32(r io.Reader, id PacketID) (int32, error) {
	var tmp [4]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}
	v := int32(binary.LittleEndian.Uint32(tmp[:]))
	if v < 0 {
		return 0, newProtocolError(id, "negative length prefix")
	}
	return v, nil
}

func readI64(r io.Reader) (int64, error) {
	var tmp [8]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(tmp[:])), nil
}

func readPascalString(r io.Reader, id PacketID) (string, error) {
	n, err := readI32(r, id)
	if err != nil {
		return "", err
	}
	if n > maxFrameLen {
		return "", newProtocolError(id, "pascal string length exceeds limit")
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", newProtocolError(id, "truncated pascal string")
	}
	return string(buf), nil
}

func readByteArray(r io.Reader, id PacketID) ([]byte, error) {
	n, err := readI32(r, id)
	if err != nil {
		return nil, err
	}
	if n > maxFrameLen {
		return nil, newProtocolError(id, "byte array length exceeds limit")
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, newProtocolError(id, "truncated byte array")
	}
	return buf, nil
}

func readStringList(r io.Reader, id PacketID) ([]string, error) {
	n, err := readI32(r, id)
	if err != nil {
		return nil, err
	}
	list := make([]string, 0, n)
	for i := int32(0); i < n; i++ {
		s, err := readPascalString(r, id)
		if err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, nil
}
