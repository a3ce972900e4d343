// Package fastcgi implements a FastCGI client for the PHP-FPM path
// (spec.md §4.6): BEGIN_REQUEST / PARAMS / STDIN / STDOUT framing over a
// TCP connection, one connection per request. Grounded on Caddy's
// reverseproxy/fastcgi transport (record types, environment construction,
// header-name mangling), reworked into a single-shot client instead of a
// pooled http.RoundTripper since Gruxi dials fresh per request.
package fastcgi

import (
	"encoding/binary"
	"errors"
	"io"
)

const (
	version1 = 1

	typeBeginRequest = 1
	typeEndRequest   = 3
	typeParams       = 4
	typeStdin        = 5
	typeStdout       = 6
	typeStderr       = 7

	roleResponder = 1

	maxRecordBody = 65535
	headerLen     = 8
)

// header is the fixed 8-byte FastCGI record header.
type header struct {
	Version       uint8
	Type          uint8
	RequestID     uint16
	ContentLength uint16
	PaddingLength uint8
	Reserved      uint8
}

func (h *header) bytes() []byte {
	buf := make([]byte, headerLen)
	buf[0] = h.Version
	buf[1] = h.Type
	binary.BigEndian.PutUint16(buf[2:4], h.RequestID)
	binary.BigEndian.PutUint16(buf[4:6], h.ContentLength)
	buf[6] = h.PaddingLength
	buf[7] = h.Reserved
	return buf
}

func readHeader(r io.Reader) (header, error) {
	buf := make([]byte, headerLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return header{}, err
	}
	return header{
		Version:       buf[0],
		Type:          buf[1],
		RequestID:     binary.BigEndian.Uint16(buf[2:4]),
		ContentLength: binary.BigEndian.Uint16(buf[4:6]),
		PaddingLength: buf[6],
		Reserved:      buf[7],
	}, nil
}

func writeRecord(w io.Writer, recType uint8, reqID uint16, content []byte) error {
	for len(content) > 0 || recType == typeParams && content == nil {
		chunk := content
		if len(chunk) > maxRecordBody {
			chunk = chunk[:maxRecordBody]
		}
		h := header{Version: version1, Type: recType, RequestID: reqID, ContentLength: uint16(len(chunk))}
		if _, err := w.Write(h.bytes()); err != nil {
			return err
		}
		if len(chunk) > 0 {
			if _, err := w.Write(chunk); err != nil {
				return err
			}
		}
		content = content[len(chunk):]
		if len(content) == 0 {
			break
		}
	}
	return nil
}

// writeEmptyRecord writes a zero-length record, used to terminate PARAMS/STDIN streams.
func writeEmptyRecord(w io.Writer, recType uint8, reqID uint16) error {
	h := header{Version: version1, Type: recType, RequestID: reqID, ContentLength: 0}
	_, err := w.Write(h.bytes())
	return err
}

func writeBeginRequest(w io.Writer, reqID uint16) error {
	body := make([]byte, 8)
	binary.BigEndian.PutUint16(body[0:2], roleResponder)
	// flags left at 0: keep-conn = 0, per spec.md §4.6.
	h := header{Version: version1, Type: typeBeginRequest, RequestID: reqID, ContentLength: uint16(len(body))}
	if _, err := w.Write(h.bytes()); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// encodeNameValuePairs builds the PARAMS record body from an environment map.
func encodeNameValuePairs(env map[string]string) []byte {
	var out []byte
	for k, v := range env {
		out = append(out, encodeLength(len(k))...)
		out = append(out, encodeLength(len(v))...)
		out = append(out, k...)
		out = append(out, v...)
	}
	return out
}

func encodeLength(n int) []byte {
	if n <= 127 {
		return []byte{byte(n)}
	}
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(n)|(1<<31))
	return buf
}

// errProtocol is returned for malformed FastCGI responses.
var errProtocol = errors.New("fastcgi: protocol error")
