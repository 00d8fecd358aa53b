package asio2

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// LENGTHSIZE is the header size used by Write and Read.
	LENGTHSIZE = 2

	// DefaultMaxFrameSize bounds a single message when a framer has no MaxSize.
	DefaultMaxFrameSize = 8 << 20

	// dgram header markers.
	dgramMark16 = 254
	dgramMark64 = 255
)

// ErrInvalidMsgLength indicates a message length header is invalid.
var ErrInvalidMsgLength = errors.New("invalid message length")

// ErrMaxLenExceeded indicates the message length exceeds the maximum allowed.
var ErrMaxLenExceeded = errors.New("maximum message length exceeded")

// ErrInvalidHeaderSize indicates an unsupported length header width.
var ErrInvalidHeaderSize = errors.New("invalid length header size")

// Framer splits a byte stream into messages and frames outgoing messages.
//
// Split follows the bufio.SplitFunc contract; the returned token is the
// message handed to receive callbacks. Frame appends the wire form of payload
// to dst.
type Framer interface {
	Split(data []byte, atEOF bool) (advance int, token []byte, err error)
	Frame(dst, payload []byte) ([]byte, error)
}

func maxSize(n int) int {
	if n <= 0 {
		return DefaultMaxFrameSize
	}
	return n
}

// RawFramer delivers whatever bytes are available as one message and sends
// payloads unchanged.
type RawFramer struct{}

func (RawFramer) Split(data []byte, _ bool) (int, []byte, error) {
	if len(data) == 0 {
		return 0, nil, nil
	}
	return len(data), data, nil
}

func (RawFramer) Frame(dst, payload []byte) ([]byte, error) {
	return append(dst, payload...), nil
}

// DelimiterFramer ends every message with Delim. The delimiter is kept in
// the delivered message. Frame appends Delim unless payload already ends with it.
type DelimiterFramer struct {
	Delim   []byte
	MaxSize int
}

// NewDelimiterFramer returns a DelimiterFramer for a string delimiter.
func NewDelimiterFramer(delim string) DelimiterFramer {
	return DelimiterFramer{Delim: []byte(delim)}
}

func (f DelimiterFramer) Split(data []byte, _ bool) (int, []byte, error) {
	if len(f.Delim) == 0 {
		return 0, nil, fmt.Errorf("delimiter framer: %w", ErrInvalidHeaderSize)
	}
	if i := bytes.Index(data, f.Delim); i >= 0 {
		end := i + len(f.Delim)
		if end > maxSize(f.MaxSize) {
			return 0, nil, ErrMaxLenExceeded
		}
		return end, data[:end], nil
	}
	if len(data) > maxSize(f.MaxSize) {
		return 0, nil, ErrMaxLenExceeded
	}
	return 0, nil, nil
}

func (f DelimiterFramer) Frame(dst, payload []byte) ([]byte, error) {
	size := len(payload)
	if !bytes.HasSuffix(payload, f.Delim) {
		size += len(f.Delim)
	}
	if size > maxSize(f.MaxSize) {
		return dst, ErrMaxLenExceeded
	}
	dst = append(dst, payload...)
	if !bytes.HasSuffix(payload, f.Delim) {
		dst = append(dst, f.Delim...)
	}
	return dst, nil
}

// LengthPrefixFramer prefixes each message with a big-endian length header of
// HeaderSize bytes (1, 2, 4 or 8; zero means LENGTHSIZE). The header is
// stripped from delivered messages.
type LengthPrefixFramer struct {
	HeaderSize int
	MaxSize    int
}

func (f LengthPrefixFramer) headerSize() int {
	if f.HeaderSize == 0 {
		return LENGTHSIZE
	}
	return f.HeaderSize
}

func (f LengthPrefixFramer) limit() (uint64, error) {
	var headerMax uint64
	switch f.headerSize() {
	case 1, 2, 4:
		headerMax = uint64(1)<<(8*f.headerSize()) - 1
	case 8:
		headerMax = ^uint64(0)
	default:
		return 0, ErrInvalidHeaderSize
	}
	return min(headerMax, uint64(maxSize(f.MaxSize))), nil
}

func (f LengthPrefixFramer) Split(data []byte, _ bool) (int, []byte, error) {
	limit, err := f.limit()
	if err != nil {
		return 0, nil, err
	}
	h := f.headerSize()
	if len(data) < h {
		return 0, nil, nil
	}
	n := readUint(data[:h])
	if n > limit {
		return 0, nil, ErrMaxLenExceeded
	}
	if uint64(len(data)-h) < n {
		return 0, nil, nil
	}
	end := h + int(n)
	return end, data[h:end], nil
}

func (f LengthPrefixFramer) Frame(dst, payload []byte) ([]byte, error) {
	limit, err := f.limit()
	if err != nil {
		return dst, err
	}
	if uint64(len(payload)) > limit {
		return dst, ErrMaxLenExceeded
	}
	dst = appendUint(dst, f.headerSize(), uint64(len(payload)))
	return append(dst, payload...), nil
}

// DgramFramer uses a variable width header: payloads shorter than 254 bytes
// carry a single length byte; up to 65535 bytes the marker 254 is followed by
// a big-endian uint16; anything longer uses the marker 255 and a big-endian
// uint64. The header is stripped from delivered messages. A header that uses
// a wider form than its length needs is rejected with ErrInvalidMsgLength.
type DgramFramer struct {
	MaxSize int
}

func (f DgramFramer) Split(data []byte, _ bool) (int, []byte, error) {
	if len(data) == 0 {
		return 0, nil, nil
	}
	var h int
	var n uint64
	switch data[0] {
	case dgramMark16:
		h = 3
		if len(data) < h {
			return 0, nil, nil
		}
		n = uint64(binary.BigEndian.Uint16(data[1:3]))
		if n < dgramMark16 {
			return 0, nil, ErrInvalidMsgLength
		}
	case dgramMark64:
		h = 9
		if len(data) < h {
			return 0, nil, nil
		}
		n = binary.BigEndian.Uint64(data[1:9])
		if n <= 0xFFFF {
			return 0, nil, ErrInvalidMsgLength
		}
	default:
		h = 1
		n = uint64(data[0])
	}
	if n > uint64(maxSize(f.MaxSize)) {
		return 0, nil, ErrMaxLenExceeded
	}
	if uint64(len(data)-h) < n {
		return 0, nil, nil
	}
	end := h + int(n)
	return end, data[h:end], nil
}

func (f DgramFramer) Frame(dst, payload []byte) ([]byte, error) {
	n := len(payload)
	if n > maxSize(f.MaxSize) {
		return dst, ErrMaxLenExceeded
	}
	switch {
	case n < dgramMark16:
		dst = append(dst, byte(n))
	case n <= 0xFFFF:
		dst = append(dst, dgramMark16)
		dst = binary.BigEndian.AppendUint16(dst, uint16(n))
	default:
		dst = append(dst, dgramMark64)
		dst = binary.BigEndian.AppendUint64(dst, uint64(n))
	}
	return append(dst, payload...), nil
}

// SplitFramer adapts a user match condition. Payloads are sent unchanged.
type SplitFramer struct {
	SplitFunc bufio.SplitFunc
}

func (f SplitFramer) Split(data []byte, atEOF bool) (int, []byte, error) {
	return f.SplitFunc(data, atEOF)
}

func (f SplitFramer) Frame(dst, payload []byte) ([]byte, error) {
	return append(dst, payload...), nil
}

// NewScanner returns a bufio.Scanner reading messages from r with f.
// bufSize is the initial buffer size; limit bounds a single message.
func NewScanner(r io.Reader, f Framer, bufSize, limit int) *bufio.Scanner {
	if bufSize <= 0 {
		bufSize = 4096
	}
	limit = maxSize(limit)
	if bufSize > limit {
		bufSize = limit
	}
	sc := bufio.NewScanner(r)
	// Headers sit in front of a limit sized payload.
	sc.Buffer(make([]byte, bufSize), limit+16)
	sc.Split(f.Split)
	return sc
}

// Write writes data prefixed with a big-endian length header of LENGTHSIZE bytes.
func Write(w io.Writer, in []byte) error {
	out, err := LengthPrefixFramer{HeaderSize: LENGTHSIZE}.Frame(nil, in)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

// Read reads data prefixed with a big-endian length header of LENGTHSIZE bytes.
func Read(r io.Reader) ([]byte, error) {
	var header [LENGTHSIZE]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	message := make([]byte, int(readUint(header[:])))
	if _, err := io.ReadFull(r, message); err != nil {
		return nil, err
	}
	return message, nil
}

func readUint(b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.BigEndian.Uint16(b))
	case 4:
		return uint64(binary.BigEndian.Uint32(b))
	default:
		return binary.BigEndian.Uint64(b)
	}
}

func appendUint(dst []byte, size int, v uint64) []byte {
	switch size {
	case 1:
		return append(dst, byte(v))
	case 2:
		return binary.BigEndian.AppendUint16(dst, uint16(v))
	case 4:
		return binary.BigEndian.AppendUint32(dst, uint32(v))
	default:
		return binary.BigEndian.AppendUint64(dst, v)
	}
}
