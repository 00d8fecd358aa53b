package asio2

// Observer receives connection and traffic events. The metrics package
// provides a prometheus backed implementation.
type Observer interface {
	ConnOpened(transport string)
	ConnClosed(transport string)
	BytesIn(transport string, n int)
	BytesOut(transport string, n int)
}

// NoopObserver discards every event.
type NoopObserver struct{}

func (NoopObserver) ConnOpened(string)    {}
func (NoopObserver) ConnClosed(string)    {}
func (NoopObserver) BytesIn(string, int)  {}
func (NoopObserver) BytesOut(string, int) {}

// ObserverOrNoop returns o, or a NoopObserver when o is nil.
func ObserverOrNoop(o Observer) Observer {
	if o == nil {
		return NoopObserver{}
	}
	return o
}
