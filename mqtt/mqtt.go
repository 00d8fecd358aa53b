// Package mqtt frames MQTT control packets on a byte stream. It only knows
// the fixed header: packet type, flags and the variable byte integer that
// carries the remaining length. Variable headers and payloads are left to
// the caller.
package mqtt

import (
	"errors"
	"fmt"
	"io"
)

// PacketType is the high nibble of the first fixed header byte.
type PacketType byte

const (
	CONNECT     PacketType = 1
	CONNACK     PacketType = 2
	PUBLISH     PacketType = 3
	PUBACK      PacketType = 4
	PUBREC      PacketType = 5
	PUBREL      PacketType = 6
	PUBCOMP     PacketType = 7
	SUBSCRIBE   PacketType = 8
	SUBACK      PacketType = 9
	UNSUBSCRIBE PacketType = 10
	UNSUBACK    PacketType = 11
	PINGREQ     PacketType = 12
	PINGRESP    PacketType = 13
	DISCONNECT  PacketType = 14
	AUTH        PacketType = 15
)

var typeNames = [...]string{
	"RESERVED", "CONNECT", "CONNACK", "PUBLISH", "PUBACK", "PUBREC", "PUBREL", "PUBCOMP",
	"SUBSCRIBE", "SUBACK", "UNSUBSCRIBE", "UNSUBACK", "PINGREQ", "PINGRESP", "DISCONNECT", "AUTH",
}

func (t PacketType) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("PacketType(%d)", byte(t))
}

// MaxRemainingLength is the largest value a four byte variable integer holds.
const MaxRemainingLength = 268435455

var (
	// ErrMalformedLength indicates a variable byte integer longer than four bytes.
	ErrMalformedLength = errors.New("mqtt: malformed remaining length")

	// ErrLengthOutOfRange indicates a remaining length above MaxRemainingLength.
	ErrLengthOutOfRange = errors.New("mqtt: remaining length out of range")

	// ErrInvalidType indicates the reserved packet type 0.
	ErrInvalidType = errors.New("mqtt: invalid packet type")

	// ErrInvalidFlags indicates fixed header flags not allowed for the packet type.
	ErrInvalidFlags = errors.New("mqtt: invalid fixed header flags")

	// ErrPacketTooLarge indicates a packet above the configured maximum.
	ErrPacketTooLarge = errors.New("mqtt: packet too large")
)

// FixedHeader is the decoded first part of every control packet.
type FixedHeader struct {
	Type            PacketType
	Flags           byte
	RemainingLength int
	// HeaderLen is the size of the fixed header on the wire, 2 to 5 bytes.
	HeaderLen int
}

// PacketLen returns the total size of the packet on the wire.
func (h FixedHeader) PacketLen() int { return h.HeaderLen + h.RemainingLength }

// QoS returns the delivery level of a PUBLISH packet.
func (h FixedHeader) QoS() byte { return (h.Flags >> 1) & 0x03 }

// Dup reports the DUP flag of a PUBLISH packet.
func (h FixedHeader) Dup() bool { return h.Flags&0x08 != 0 }

// Retain reports the RETAIN flag of a PUBLISH packet.
func (h FixedHeader) Retain() bool { return h.Flags&0x01 != 0 }

// ValidateFlags checks flags against the rules for t.
func ValidateFlags(t PacketType, flags byte) error {
	if t == 0 || t > AUTH {
		return fmt.Errorf("%w: %d", ErrInvalidType, byte(t))
	}
	if flags > 0x0F {
		return ErrInvalidFlags
	}
	switch t {
	case PUBLISH:
		if (flags>>1)&0x03 == 0x03 {
			return fmt.Errorf("%w: PUBLISH with qos 3", ErrInvalidFlags)
		}
	case PUBREL, SUBSCRIBE, UNSUBSCRIBE:
		if flags != 0x02 {
			return fmt.Errorf("%w: %v requires 0x2, got %#x", ErrInvalidFlags, t, flags)
		}
	default:
		if flags != 0 {
			return fmt.Errorf("%w: %v requires 0x0, got %#x", ErrInvalidFlags, t, flags)
		}
	}
	return nil
}

// EncodeRemainingLength appends n as a variable byte integer.
func EncodeRemainingLength(dst []byte, n int) ([]byte, error) {
	if n < 0 || n > MaxRemainingLength {
		return dst, ErrLengthOutOfRange
	}
	for {
		b := byte(n % 128)
		n /= 128
		if n > 0 {
			b |= 0x80
		}
		dst = append(dst, b)
		if n == 0 {
			return dst, nil
		}
	}
}

// DecodeRemainingLength reads a variable byte integer from the start of b.
// It returns the value and the number of bytes used; used is 0 when b does
// not yet hold the whole integer.
func DecodeRemainingLength(b []byte) (n, used int, err error) {
	multiplier := 1
	for i := range 4 {
		if i >= len(b) {
			return 0, 0, nil
		}
		n += int(b[i]&0x7F) * multiplier
		if b[i]&0x80 == 0 {
			return n, i + 1, nil
		}
		multiplier *= 128
	}
	return 0, 0, ErrMalformedLength
}

// ParseFixedHeader decodes the fixed header at the start of b. A zero
// HeaderLen with a nil error means more bytes are needed.
func ParseFixedHeader(b []byte) (FixedHeader, error) {
	if len(b) < 2 {
		return FixedHeader{}, nil
	}
	t, flags := PacketType(b[0]>>4), b[0]&0x0F
	if err := ValidateFlags(t, flags); err != nil {
		return FixedHeader{}, err
	}
	n, used, err := DecodeRemainingLength(b[1:])
	if err != nil || used == 0 {
		return FixedHeader{}, err
	}
	return FixedHeader{Type: t, Flags: flags, RemainingLength: n, HeaderLen: 1 + used}, nil
}

// AppendPacket appends a complete packet with the given type, flags and body.
func AppendPacket(dst []byte, t PacketType, flags byte, body []byte) ([]byte, error) {
	if err := ValidateFlags(t, flags); err != nil {
		return dst, err
	}
	dst = append(dst, byte(t)<<4|flags)
	dst, err := EncodeRemainingLength(dst, len(body))
	if err != nil {
		return dst[:len(dst)-1], err
	}
	return append(dst, body...), nil
}

// ReadPacket reads one whole packet from r. Packets larger than maxSize bytes
// are rejected before the body is read; maxSize <= 0 means no limit beyond the
// protocol maximum.
func ReadPacket(r io.Reader, maxSize int) (FixedHeader, []byte, error) {
	buf := make([]byte, 1, 5)
	if _, err := io.ReadFull(r, buf); err != nil {
		return FixedHeader{}, nil, err
	}
	var b [1]byte
	for {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return FixedHeader{}, nil, noEOF(err)
		}
		buf = append(buf, b[0])
		if b[0]&0x80 == 0 {
			break
		}
		if len(buf) == 5 {
			return FixedHeader{}, nil, ErrMalformedLength
		}
	}
	h, err := ParseFixedHeader(buf)
	if err != nil {
		return FixedHeader{}, nil, err
	}
	if maxSize > 0 && h.PacketLen() > maxSize {
		return h, nil, fmt.Errorf("%w: %d > %d", ErrPacketTooLarge, h.PacketLen(), maxSize)
	}
	pkt := make([]byte, h.PacketLen())
	copy(pkt, buf)
	if _, err := io.ReadFull(r, pkt[h.HeaderLen:]); err != nil {
		return h, nil, noEOF(err)
	}
	return h, pkt, nil
}

func noEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
