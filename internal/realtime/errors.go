package realtime

import "errors"

var (
	// ErrNotConnected is returned by Send when there is no live connection.
	ErrNotConnected = errors.New("realtime: not connected")
	// ErrTransportDropped is carried by the status event of an unexpected disconnect.
	ErrTransportDropped = errors.New("realtime: transport dropped")
	// ErrReconnectExhausted is carried by the terminal status event once retries run out.
	ErrReconnectExhausted = errors.New("realtime: reconnect attempts exhausted")
	ErrManagerClosed      = errors.New("realtime: manager closed")
)
