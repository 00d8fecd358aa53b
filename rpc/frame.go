package rpc

import (
	"encoding/binary"
	"math"
)

// Wire layout of one rpc frame, carried inside dgram framing:
//
//	request:  kind(1) | id(8) | nameLen(2) | name | body
//	response: kind(1) | id(8) | status(1) | body
//
// Integers are big-endian. Id 0 marks a notification, which gets no response.
const (
	kindRequest  byte = 1
	kindResponse byte = 2

	statusOK       byte = 0
	statusError    byte = 1
	statusNotFound byte = 2

	headerSize = 1 + 8
)

type frame struct {
	kind   byte
	id     uint64
	method string
	status byte
	body   []byte
}

func appendRequest(dst []byte, id uint64, method string, body []byte) ([]byte, error) {
	if method == "" || len(method) > math.MaxUint16 {
		return dst, ErrInvalidMethod
	}
	dst = append(dst, kindRequest)
	dst = binary.BigEndian.AppendUint64(dst, id)
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(method)))
	dst = append(dst, method...)
	return append(dst, body...), nil
}

func appendResponse(dst []byte, id uint64, status byte, body []byte) []byte {
	dst = append(dst, kindResponse)
	dst = binary.BigEndian.AppendUint64(dst, id)
	dst = append(dst, status)
	return append(dst, body...)
}

// parseFrame decodes b. The body aliases b.
func parseFrame(b []byte) (frame, error) {
	var f frame
	if len(b) < headerSize {
		return f, ErrMalformedFrame
	}
	f.kind = b[0]
	f.id = binary.BigEndian.Uint64(b[1:headerSize])
	rest := b[headerSize:]

	switch f.kind {
	case kindRequest:
		if len(rest) < 2 {
			return f, ErrMalformedFrame
		}
		n := int(binary.BigEndian.Uint16(rest))
		rest = rest[2:]
		if n == 0 || len(rest) < n {
			return f, ErrMalformedFrame
		}
		f.method = string(rest[:n])
		f.body = rest[n:]
	case kindResponse:
		if f.id == 0 || len(rest) < 1 {
			return f, ErrMalformedFrame
		}
		f.status = rest[0]
		f.body = rest[1:]
	default:
		return f, ErrMalformedFrame
	}
	return f, nil
}
