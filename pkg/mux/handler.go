package mux

import "net"

// Handler receives lifecycle and message callbacks for every client
// connected under one mux key. All callbacks fire synchronously on the
// server's poll goroutine; implementations must not block.
type Handler interface {
	OnConnect(addr *net.UDPAddr)
	OnMessage(addr *net.UDPAddr, data []byte)
	OnDisconnect(addr *net.UDPAddr)
}

// Ticker is an optional extension a Handler may also implement to receive
// a callback once per Server.Tick() call, independent of message arrival.
type Ticker interface {
	OnTick()
}
