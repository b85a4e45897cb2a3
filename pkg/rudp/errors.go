package rudp

import "errors"

// ErrWouldBlock is returned by Send when either the send ring is full or
// the congestion window has no room for another in-flight packet.
var ErrWouldBlock = errors.New("rudp: would block")

// ErrClosed is returned by any operation on a session past Close.
var ErrClosed = errors.New("rudp: session closed")

// ErrPayloadTooLarge is returned by Send when payload would overflow the
// 16-bit wire length field.
var ErrPayloadTooLarge = errors.New("rudp: payload exceeds max frame size")
