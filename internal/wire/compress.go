package wire

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// compressWorthwhileMargin is the byte saving a payload must exceed
// before it is wrapped in CompressedPayload: per spec §4.9, compression
// is only applied when compressed.len+10 < uncompressed.len, so a tiny
// or already-dense payload is sent raw.
const compressWorthwhileMargin = 10

// MaybeCompress encodes f to its raw frame bytes and, if compressing
// that payload saves more than compressWorthwhileMargin bytes, wraps it
// in a CompressedPayload frame instead. It returns the frame that
// should actually be put on the wire.
func MaybeCompress(f Frame) (Frame, error) {
	var raw bytes.Buffer
	if err := Encode(&raw, f); err != nil {
		return nil, err
	}

	compressed, err := deflate(raw.Bytes())
	if err != nil {
		return nil, err
	}
	if len(compressed)+compressWorthwhileMargin >= raw.Len() {
		return f, nil
	}
	return CompressedPayload{Data: compressed}, nil
}

func deflate(data []byte) ([]byte, error) {
	var out bytes.Buffer
	fw, err := flate.NewWriter(&out, flate.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("wire: deflate init: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return nil, fmt.Errorf("wire: deflate write: %w", err)
	}
	if err := fw.Close(); err != nil {
		return nil, fmt.Errorf("wire: deflate close: %w", err)
	}
	return out.Bytes(), nil
}

// Decompress inflates a CompressedPayload's raw data back into the
// encoded bytes of the frame it wraps.
func Decompress(data []byte) ([]byte, error) {
	fr := flate.NewReader(bytes.NewReader(data))
	defer fr.Close()

	out, err := io.ReadAll(fr)
	if err != nil {
		return nil, fmt.Errorf("wire: inflate: %w", err)
	}
	return out, nil
}
