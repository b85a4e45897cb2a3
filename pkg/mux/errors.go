package mux

import "errors"

// ErrUnknownClient is returned by Send when the target address has no
// active client record.
var ErrUnknownClient = errors.New("mux: unknown client")

// ErrClosed is returned by any operation on a server past Close.
var ErrClosed = errors.New("mux: server closed")

// ErrWouldBlock is returned by Send when a client's congestion window or
// retransmit ring has no room for another packet. Broadcast returns no
// error; it skips such a client.
var ErrWouldBlock = errors.New("mux: would block")

// ErrPayloadTooLarge is returned by Send when payload would overflow the
// 16-bit wire length field.
var ErrPayloadTooLarge = errors.New("mux: payload exceeds max frame size")
