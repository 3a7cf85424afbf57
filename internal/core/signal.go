package core

// Frame is a raw payload already encoded for the wire.
type Frame []byte

// SignalConn abstracts the system messaging transport of one connection.
// Owned by the adapter; Close lets buffered frames drain before the
// underlying socket is torn down.
type SignalConn interface {
	TrySend(Frame) error
	Close()
}
