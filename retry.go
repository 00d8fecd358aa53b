package asio2

import "time"

// Retry computes the delay before the given retry attempt, starting at 0.
type Retry interface {
	Backoff(retry uint64) time.Duration
}

// ExponentialRetry doubles InitialDelay on every attempt up to MaxDelay, without jitter.
type ExponentialRetry struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetry matches the accept retry of net/http.Server.
var DefaultRetry Retry = ExponentialRetry{
	InitialDelay: 5 * time.Millisecond,
	MaxDelay:     1 * time.Second,
}

func (er ExponentialRetry) Backoff(retry uint64) time.Duration {
	if retry > 30 {
		return er.MaxDelay
	}
	d := er.InitialDelay * (1 << retry)
	if d > er.MaxDelay || d <= 0 {
		d = er.MaxDelay
	}
	return d
}
