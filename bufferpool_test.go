package asio2

import (
	"testing"
)

// nextPow2 returns the smallest power of two >= v, with a minimum of 32.
func nextPow2(v int) int {
	res := 32
	for res < v {
		res <<= 1
	}
	return res
}

func TestGetBufferBasic(t *testing.T) {
	cases := []struct {
		size        int
		expectedCap int
	}{
		{size: 1, expectedCap: 32},
		{size: 32, expectedCap: 32},
		{size: 33, expectedCap: 64},
		{size: 1000, expectedCap: nextPow2(1000)},
		{size: 4097, expectedCap: 8192},
		{size: maxBufferSize, expectedCap: maxBufferSize},
	}

	for _, c := range cases {
		buf := GetBuffer(c.size)
		if len(buf) != c.size {
			t.Errorf("GetBuffer(%d) returned len %d, want %d", c.size, len(buf), c.size)
		}
		if capBuf := cap(buf); capBuf != c.expectedCap {
			t.Errorf("GetBuffer(%d) returned cap %d, want %d", c.size, capBuf, c.expectedCap)
		}
		PutBuffer(buf)
	}
}

func TestGetBufferLarge(t *testing.T) {
	// request size > maxBufferSize should allocate exact size
	large := maxBufferSize*2 + 1
	buf := GetBuffer(large)
	if len(buf) != large {
		t.Errorf("GetBuffer(large) returned len %d, want %d", len(buf), large)
	}
	if cap(buf) != large {
		t.Errorf("GetBuffer(large) returned cap %d, want %d", cap(buf), large)
	}
	// dropped, must not panic
	PutBuffer(buf)
}

func TestPutBufferOddCapacityIsDropped(t *testing.T) {
	PutBuffer(make([]byte, 100))
	buf := GetBuffer(100)
	if cap(buf) != 128 {
		t.Errorf("GetBuffer(100) returned cap %d, want 128", cap(buf))
	}
}

func TestClassOf(t *testing.T) {
	cases := map[int]int{1: 0, 32: 0, 33: 1, 64: 1, 65: 2, 65536: 11}
	for size, want := range cases {
		if got := classOf(size); got != want {
			t.Errorf("classOf(%d) = %d; want %d", size, got, want)
		}
	}
}
