package asio2_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	asio2 "github.com/zhllxt/asio2-sub011"
)

func TestExponentialRetry(t *testing.T) {
	r := asio2.ExponentialRetry{InitialDelay: 10 * time.Millisecond, MaxDelay: 100 * time.Millisecond}
	expected := []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
		80 * time.Millisecond,
		100 * time.Millisecond,
		100 * time.Millisecond,
	}
	for i, want := range expected {
		require.Equal(t, want, r.Backoff(uint64(i)))
	}
	require.Equal(t, 100*time.Millisecond, r.Backoff(1000))
}
