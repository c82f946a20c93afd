package transport

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/vmihailenco/msgpack/v4"

	"tmcp-go/pkg/record"
)

// Protocol selects the wire encoding for one direction of one channel
// (spec.md §4.3).
type Protocol int

const (
	ProtocolNDJSON Protocol = iota
	ProtocolMsgPack
)

// ParseProtocol parses the --in-protocol/--out-protocol values.
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ndjson":
		return ProtocolNDJSON, nil
	case "msgpack":
		return ProtocolMsgPack, nil
	default:
		return ProtocolNDJSON, fmt.Errorf("transport: unknown protocol %q", s)
	}
}

// decoder reads successive raw values off r and hands each to decode,
// which turns it into a normalized record.Record. A decoder is
// single-direction and single-channel; it is not safe for concurrent use.
type decoder interface {
	// next reads one wire unit. It returns io.EOF when the stream is
	// exhausted cleanly. A malformed unit is reported via a non-nil
	// malformed so the caller can skip it and continue.
	next() (value interface{}, malformed error, err error)
}

// ndjsonDecoder reads one JSON document per line, tolerating a partial
// final line at EOF (spec.md §4.3).
type ndjsonDecoder struct {
	r *bufio.Reader
}

func newNDJSONDecoder(r io.Reader) *ndjsonDecoder {
	return &ndjsonDecoder{r: bufio.NewReaderSize(r, 64*1024)}
}

func (d *ndjsonDecoder) next() (interface{}, error, error) {
	line, err := d.r.ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, nil, err
	}
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		if err == io.EOF {
			return nil, nil, io.EOF
		}
		return nil, nil, nil
	}

	var v interface{}
	if decodeErr := json.Unmarshal([]byte(trimmed), &v); decodeErr != nil {
		if err == io.EOF {
			return nil, decodeErr, io.EOF
		}
		return nil, decodeErr, nil
	}
	if err == io.EOF {
		return v, nil, io.EOF
	}
	return v, nil, nil
}

// msgpackDecoder streams concatenated self-delimiting MessagePack values.
type msgpackDecoder struct {
	dec *msgpack.Decoder
}

func newMsgPackDecoder(r io.Reader) *msgpackDecoder {
	return &msgpackDecoder{dec: msgpack.NewDecoder(r)}
}

func (d *msgpackDecoder) next() (interface{}, error, error) {
	var v interface{}
	err := d.dec.Decode(&v)
	if err == io.EOF {
		return nil, nil, io.EOF
	}
	if err != nil {
		return nil, err, nil
	}
	return v, nil, nil
}

func newDecoder(p Protocol, r io.Reader) decoder {
	if p == ProtocolMsgPack {
		return newMsgPackDecoder(r)
	}
	return newNDJSONDecoder(r)
}

// encoder writes one normalized record.Record at a time to w.
type encoder interface {
	encode(rec record.Record) error
}

type ndjsonEncoder struct {
	w *bufio.Writer
}

func newNDJSONEncoder(w io.Writer) *ndjsonEncoder {
	return &ndjsonEncoder{w: bufio.NewWriter(w)}
}

func (e *ndjsonEncoder) encode(rec record.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := e.w.Write(body); err != nil {
		return err
	}
	if err := e.w.WriteByte('\n'); err != nil {
		return err
	}
	return e.w.Flush()
}

type msgpackEncoder struct {
	enc *msgpack.Encoder
}

func newMsgPackEncoder(w io.Writer) *msgpackEncoder {
	return &msgpackEncoder{enc: msgpack.NewEncoder(w)}
}

func (e *msgpackEncoder) encode(rec record.Record) error {
	return e.enc.Encode(rec)
}

func newEncoder(p Protocol, w io.Writer) encoder {
	if p == ProtocolMsgPack {
		return newMsgPackEncoder(w)
	}
	return newNDJSONEncoder(w)
}
