package mux

import (
	"net"
	"time"

	"github.com/ringnet-io/ringnet/pkg/congestion"
	"github.com/ringnet-io/ringnet/pkg/recvwindow"
	"github.com/ringnet-io/ringnet/pkg/ringbuffer"
)

// sendSlot is the mux server's own per-client retransmit buffer entry,
// mirroring rudp.sendSlot — kept local since the two packages have no
// reason to share an unexported type.
type sendSlot struct {
	seq  uint64
	data []byte
}

// client holds all per-connection state the server tracks under one mux
// key: the reassembly window, congestion controller and retransmit ring a
// single rudp.Session would own, addressed instead by remote UDPAddr since
// one socket pair serves every client multiplexed behind a mux key.
type client struct {
	muxKey   uint32
	addr     *net.UDPAddr
	ctrlAddr *net.UDPAddr

	sendRing    *ringbuffer.SPSC[sendSlot]
	nextSendSeq uint64
	ackedSeq    uint64

	recvWin    *recvwindow.Window
	congestion *congestion.Controller

	lastActivity time.Time
	open         bool
}

func newClient(addr *net.UDPAddr, muxKey uint32, windowSize int, sendRingCap uint64, congMin, congInit, congMax uint32) (*client, error) {
	ring, err := ringbuffer.NewSPSC[sendSlot](sendRingCap)
	if err != nil {
		return nil, err
	}
	ctrlAddr := *addr
	ctrlAddr.Port++
	return &client{
		muxKey:       muxKey,
		addr:         addr,
		ctrlAddr:     &ctrlAddr,
		sendRing:     ring,
		recvWin:      recvwindow.NewWindow(windowSize, 0),
		congestion:   congestion.New(congInit, congMin, congMax),
		lastActivity: time.Now(),
		open:         true,
	}, nil
}

func (c *client) touch() { c.lastActivity = time.Now() }

func (c *client) isTimedOut(now time.Time, timeout time.Duration) bool {
	return now.Sub(c.lastActivity) > timeout
}
