package mqtt

import "fmt"

// Framer delimits MQTT packets for a tcp server or client. A delivered
// message is the whole packet including its fixed header, and Frame expects
// payload to be exactly one complete packet.
type Framer struct {
	// MaxSize bounds a packet; zero means MaxRemainingLength plus header.
	MaxSize int
}

func (f Framer) limit() int {
	if f.MaxSize <= 0 {
		return MaxRemainingLength + 5
	}
	return f.MaxSize
}

func (f Framer) Split(data []byte, _ bool) (int, []byte, error) {
	h, err := ParseFixedHeader(data)
	if err != nil || h.HeaderLen == 0 {
		return 0, nil, err
	}
	n := h.PacketLen()
	if n > f.limit() {
		return 0, nil, fmt.Errorf("%w: %d > %d", ErrPacketTooLarge, n, f.limit())
	}
	if len(data) < n {
		return 0, nil, nil
	}
	return n, data[:n], nil
}

func (f Framer) Frame(dst, payload []byte) ([]byte, error) {
	h, err := ParseFixedHeader(payload)
	if err != nil {
		return dst, err
	}
	if h.HeaderLen == 0 || h.PacketLen() != len(payload) {
		return dst, fmt.Errorf("%w: payload is not one complete packet", ErrMalformedLength)
	}
	if len(payload) > f.limit() {
		return dst, ErrPacketTooLarge
	}
	return append(dst, payload...), nil
}
