// Package mux implements the multiplexed RUDP server: one UDP socket pair
// (data + control) demuxed by a 4-byte little-endian mux key prefix to
// many independent per-client reliable sessions, each driven through a
// Handler. It is the many-clients-per-socket sibling of pkg/rudp's
// one-session-per-socket-pair model — the wire codec, receive window and
// congestion controller are the same building blocks, just one instance
// per client instead of one per process.
package mux

import (
	"encoding/binary"
	"net"
	"sync"
	"time"

	"github.com/ringnet-io/ringnet/pkg/telemetry"
	"github.com/ringnet-io/ringnet/pkg/wire"
)

const (
	muxKeySize          = 4
	maxPollBatch        = 64
	recvScratchSize     = 2048
	defaultWindowSize   = 256
	defaultSendRingCap  = 256
	defaultClientTimeout = 30 * time.Second
	defaultCongestionMin  = 4
	defaultCongestionInit = 32
	defaultCongestionMax  = 256
)

// Config configures a Server. Zero values fall back to the defaults above.
type Config struct {
	BindAddr       string
	WindowSize     int
	SendRingCap    uint64
	ClientTimeout  time.Duration
	CongestionMin  uint32
	CongestionInit uint32
	CongestionMax  uint32

	// Metrics, when non-nil, receives tx/rx/drop/retransmit counters for
	// this server. Nil disables telemetry entirely at zero cost on the
	// hot path (every update goes through a nil check).
	Metrics *telemetry.Metrics
}

func (c Config) withDefaults() Config {
	if c.WindowSize == 0 {
		c.WindowSize = defaultWindowSize
	}
	if c.SendRingCap == 0 {
		c.SendRingCap = defaultSendRingCap
	}
	if c.ClientTimeout == 0 {
		c.ClientTimeout = defaultClientTimeout
	}
	if c.CongestionMin == 0 {
		c.CongestionMin = defaultCongestionMin
	}
	if c.CongestionInit == 0 {
		c.CongestionInit = defaultCongestionInit
	}
	if c.CongestionMax == 0 {
		c.CongestionMax = defaultCongestionMax
	}
	return c
}

// Server demuxes one UDP socket pair across many clients and many mux
// keys. Poll and Tick are meant to be driven from a single goroutine;
// Server itself does no internal locking on the hot path beyond the
// registry mutex, since handlers and poll share one caller.
type Server struct {
	cfg Config

	dataConn *net.UDPConn
	ctrlConn *net.UDPConn
	local    *net.UDPAddr

	mu       sync.Mutex
	handlers map[uint32]Handler
	clients  map[string]*client

	// packetPool is a fixed set of scratch buffers reused across every
	// Poll cycle so a full poll performs zero receive-side allocations
	// beyond what recvWin.Insert copies into its own slots.
	packetPool [][]byte
	ctrlPool   []byte

	pendingConnects []*client
	closed          bool
}

// NewServer binds the data socket at cfg.BindAddr and a control socket on
// the following port, matching pkg/rudp's data/control port-pair
// convention so a single client implementation can speak to either.
func NewServer(cfg Config) (*Server, error) {
	cfg = cfg.withDefaults()

	dataAddr, err := net.ResolveUDPAddr("udp", cfg.BindAddr)
	if err != nil {
		return nil, err
	}
	dataConn, err := net.ListenUDP("udp", dataAddr)
	if err != nil {
		return nil, err
	}
	local := dataConn.LocalAddr().(*net.UDPAddr)

	ctrlAddr := *local
	ctrlAddr.Port++
	ctrlConn, err := net.ListenUDP("udp", &ctrlAddr)
	if err != nil {
		dataConn.Close()
		return nil, err
	}

	_ = dataConn.SetReadBuffer(8 * 1024 * 1024)
	_ = dataConn.SetWriteBuffer(8 * 1024 * 1024)

	pool := make([][]byte, maxPollBatch)
	for i := range pool {
		pool[i] = make([]byte, recvScratchSize)
	}

	return &Server{
		cfg:        cfg,
		dataConn:   dataConn,
		ctrlConn:   ctrlConn,
		local:      local,
		handlers:   make(map[uint32]Handler),
		clients:    make(map[string]*client),
		packetPool: pool,
		ctrlPool:   make([]byte, recvScratchSize),
	}, nil
}

func (s *Server) incDrop(reason telemetry.DropReason) {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.IncDrop(reason)
	}
}

// LocalAddr returns the data socket's bound address.
func (s *Server) LocalAddr() *net.UDPAddr { return s.local }

// Register binds a Handler to a mux key. Packets carrying an unregistered
// mux key are dropped before a client record is ever created for them.
func (s *Server) Register(muxKey uint32, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[muxKey] = h
}

// Unregister removes a mux key's handler. Existing clients under that key
// are left registered until they time out; no further messages reach
// on_message for them since dispatchMessages skips keys with no handler.
func (s *Server) Unregister(muxKey uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers, muxKey)
}

// snapshotHandlersLocked copies the handler registry so callbacks can be
// invoked outside the lock without racing a concurrent Register.
func (s *Server) snapshotHandlersLocked() map[uint32]Handler {
	out := make(map[uint32]Handler, len(s.handlers))
	for k, v := range s.handlers {
		out[k] = v
	}
	return out
}

// ClientCount returns the number of currently tracked clients across all
// mux keys.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// ClientsForMuxKey returns the addresses of every client currently
// registered under muxKey.
func (s *Server) ClientsForMuxKey(muxKey uint32) []*net.UDPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*net.UDPAddr
	for _, c := range s.clients {
		if c.muxKey == muxKey {
			out = append(out, c.addr)
		}
	}
	return out
}

// Close shuts down both sockets. Any client records are dropped without
// firing OnDisconnect — callers that need a graceful shutdown notification
// should do so before calling Close.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	errData := s.dataConn.Close()
	errCtrl := s.ctrlConn.Close()
	if errData != nil {
		return errData
	}
	return errCtrl
}

// Poll runs one cycle: drain the data socket and demux into client
// records, drain the control socket for ACK/NAK, evict timed-out clients,
// then dispatch newly-connected and deliverable-in-order messages to
// handlers.
func (s *Server) Poll() error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}

	s.pollDataSocket()
	s.pollControlSocket()
	s.evictTimedOut()
	s.dispatchConnects()
	s.dispatchMessages()
	return nil
}

// Tick invokes OnTick on every registered handler that implements Ticker,
// independent of message arrival — the server's analogue of rudp's
// heartbeat cadence, driven by the caller's own clock.
func (s *Server) Tick() {
	s.mu.Lock()
	handlers := make([]Handler, 0, len(s.handlers))
	for _, h := range s.handlers {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()

	for _, h := range handlers {
		if t, ok := h.(Ticker); ok {
			t.OnTick()
		}
	}
}

func (s *Server) pollDataSocket() {
	// A deadline already in the past fails the read before any datagram is
	// taken, so the drain uses a deadline just ahead of now.
	_ = s.dataConn.SetReadDeadline(time.Now().Add(time.Millisecond))
	for i := 0; i < maxPollBatch; i++ {
		buf := s.packetPool[i]
		n, addr, err := s.dataConn.ReadFromUDP(buf)
		if err != nil {
			if isWouldBlock(err) {
				return
			}
			continue
		}
		if n < muxKeySize {
			s.incDrop(telemetry.DropMalformed)
			continue
		}
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.RxPackets.Inc()
		}
		s.handleDataPacket(addr, buf[:n])
	}
}

func (s *Server) handleDataPacket(addr *net.UDPAddr, packet []byte) {
	muxKey := binary.LittleEndian.Uint32(packet[:muxKeySize])

	s.mu.Lock()
	if _, registered := s.handlers[muxKey]; !registered {
		s.mu.Unlock()
		s.incDrop(telemetry.DropUnknownMux)
		return
	}

	key := addr.String()
	c, exists := s.clients[key]
	if !exists {
		var err error
		c, err = newClient(addr, muxKey, s.cfg.WindowSize, s.cfg.SendRingCap, s.cfg.CongestionMin, s.cfg.CongestionInit, s.cfg.CongestionMax)
		if err != nil {
			s.mu.Unlock()
			return
		}
		s.clients[key] = c
		s.pendingConnects = append(s.pendingConnects, c)
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.Clients.Set(float64(len(s.clients)))
		}
	} else if c.muxKey != muxKey {
		// A client that switches mux key mid-stream is treated as
		// malformed input and ignored rather than reassigned.
		s.mu.Unlock()
		return
	}
	c.touch()
	s.mu.Unlock()

	body := packet[muxKeySize:]
	if wire.LooksLengthDelimited(body) {
		ok := wire.ParseLengthDelimitedBatch(body, func(hdr wire.Header, payload []byte) {
			s.handleClientFrame(c, hdr, payload)
		})
		if !ok {
			s.incDrop(telemetry.DropMalformed)
		}
		return
	}

	hdr, payload, ok := wire.ParseFrame(body)
	if !ok {
		s.incDrop(telemetry.DropMalformed)
		return
	}
	s.handleClientFrame(c, hdr, payload)
}

func (s *Server) handleClientFrame(c *client, hdr wire.Header, payload []byte) {
	if hdr.Flags&wire.FlagNoCRC == 0 && !hdr.VerifyChecksum(payload) {
		s.incDrop(telemetry.DropBadCRC)
		return
	}
	switch hdr.MsgType {
	case wire.MsgData:
		c.recvWin.Insert(hdr.Sequence, payload)
	case wire.MsgHandshake:
		c.recvWin.AdvanceExpected(hdr.Sequence + 1)
	case wire.MsgDisconnect:
		c.open = false
	}
}

func (s *Server) pollControlSocket() {
	_ = s.ctrlConn.SetReadDeadline(time.Now().Add(time.Millisecond))
	for i := 0; i < maxPollBatch; i++ {
		n, addr, err := s.ctrlConn.ReadFromUDP(s.ctrlPool)
		if err != nil {
			if isWouldBlock(err) {
				return
			}
			continue
		}
		s.handleControlPacket(addr, s.ctrlPool[:n])
	}
}

func (s *Server) handleControlPacket(addr *net.UDPAddr, packet []byte) {
	dataAddr := *addr
	dataAddr.Port--

	s.mu.Lock()
	c, ok := s.clients[dataAddr.String()]
	s.mu.Unlock()
	if !ok {
		return
	}

	hdr, body, ok := wire.ParseFrame(packet)
	if !ok {
		return
	}
	if !hdr.VerifyChecksum(body) {
		s.incDrop(telemetry.DropBadCRC)
		return
	}
	c.touch()

	switch hdr.MsgType {
	case wire.MsgAck:
		if hdr.Sequence > c.ackedSeq {
			acked := hdr.Sequence - c.ackedSeq
			c.ackedSeq = hdr.Sequence
			c.sendRing.AdvanceConsumer(hdr.Sequence)
			for i := uint64(0); i < acked; i++ {
				c.congestion.OnAck()
			}
		}
	case wire.MsgNak:
		ranges, ok := wire.DecodeNakPayload(body)
		if !ok {
			return
		}
		for _, r := range ranges {
			s.retransmitRange(c, r.Start, r.End)
		}
		c.congestion.OnLoss()
	case wire.MsgHandshake:
		c.recvWin.AdvanceExpected(hdr.Sequence + 1)
	case wire.MsgDisconnect:
		c.open = false
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.AIMDWindow.Set(float64(c.congestion.Window()))
	}
}

func (s *Server) retransmitRange(c *client, start, end uint64) {
	for seq := start; seq <= end; seq++ {
		slot := c.sendRing.Slot(seq)
		if slot.seq != seq {
			continue
		}
		total := muxKeySize + wire.HeaderSize + len(slot.data)
		frame := make([]byte, total)
		binary.LittleEndian.PutUint32(frame[:muxKeySize], c.muxKey)
		h := wire.NewHeader(c.muxKey, seq, wire.MsgData, uint16(len(slot.data)))
		h.Seal(slot.data)
		h.Encode(frame[muxKeySize : muxKeySize+wire.HeaderSize])
		copy(frame[muxKeySize+wire.HeaderSize:], slot.data)
		_, _ = s.dataConn.WriteToUDP(frame, c.addr)
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.Retransmits.Inc()
			s.cfg.Metrics.TxPackets.Inc()
		}
	}
}

func (s *Server) evictTimedOut() {
	now := time.Now()

	s.mu.Lock()
	var timedOut []*client
	for key, c := range s.clients {
		if !c.open || c.isTimedOut(now, s.cfg.ClientTimeout) {
			timedOut = append(timedOut, c)
			delete(s.clients, key)
		}
	}
	handlers := s.snapshotHandlersLocked()
	s.mu.Unlock()

	for _, c := range timedOut {
		if h, ok := handlers[c.muxKey]; ok {
			h.OnDisconnect(c.addr)
		}
	}
	if len(timedOut) > 0 && s.cfg.Metrics != nil {
		s.mu.Lock()
		s.cfg.Metrics.Clients.Set(float64(len(s.clients)))
		s.mu.Unlock()
	}
}

func (s *Server) dispatchConnects() {
	s.mu.Lock()
	pending := s.pendingConnects
	s.pendingConnects = nil
	handlers := s.snapshotHandlersLocked()
	s.mu.Unlock()

	for _, c := range pending {
		if h, ok := handlers[c.muxKey]; ok {
			h.OnConnect(c.addr)
		}
	}
}

func (s *Server) dispatchMessages() {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	handlers := s.snapshotHandlersLocked()
	s.mu.Unlock()

	for _, c := range clients {
		h, ok := handlers[c.muxKey]
		if !ok {
			continue
		}

		delivered := false
		c.recvWin.DeliverInOrder(func(payload []byte) {
			delivered = true
			h.OnMessage(c.addr, payload)
		})
		if delivered {
			s.sendAck(c)
		}
		s.sendGapNaks(c)
	}
}

func (s *Server) sendAck(c *client) {
	h := wire.NewHeader(c.muxKey, c.recvWin.LastDeliveredSeq(), wire.MsgAck, 0)
	h.Seal(nil)
	var buf [wire.HeaderSize]byte
	h.Encode(buf[:])
	_, _ = s.ctrlConn.WriteToUDP(buf[:], c.ctrlAddr)
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.AcksSent.Inc()
	}
}

func (s *Server) sendGapNaks(c *client) {
	var ranges []wire.NakRange
	c.recvWin.Gaps(func(start, end uint64) {
		ranges = append(ranges, wire.NakRange{Start: start, End: end})
	})
	if len(ranges) == 0 {
		return
	}
	payload := wire.EncodeNakPayload(ranges)
	h := wire.NewHeader(c.muxKey, c.recvWin.LastDeliveredSeq(), wire.MsgNak, uint16(len(payload)))
	h.Seal(payload)

	buf := make([]byte, wire.HeaderSize+len(payload))
	h.Encode(buf[:wire.HeaderSize])
	copy(buf[wire.HeaderSize:], payload)
	_, _ = s.ctrlConn.WriteToUDP(buf, c.ctrlAddr)
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.NaksSent.Inc()
	}
}

// Send frames payload as a Data message for the client at addr, prefixed
// with its mux key, and transmits it on the data socket. It reports
// ErrUnknownClient if no client record exists for addr and ErrWouldBlock if
// the client's congestion window or send ring has no room.
func (s *Server) Send(addr *net.UDPAddr, payload []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	c, ok := s.clients[addr.String()]
	s.mu.Unlock()
	if !ok {
		return ErrUnknownClient
	}
	return s.sendTo(c, payload)
}

func (s *Server) sendTo(c *client, payload []byte) error {
	if len(payload) > 1<<16-1 {
		return ErrPayloadTooLarge
	}
	if !c.congestion.CanSend() {
		return ErrWouldBlock
	}
	seq, ok := c.sendRing.TryClaim(1)
	if !ok {
		return ErrWouldBlock
	}
	slot := c.sendRing.Slot(seq)
	slot.seq = seq
	slot.data = append(slot.data[:0], payload...)
	c.sendRing.Publish(seq + 1)
	c.nextSendSeq = seq + 1
	c.congestion.OnSend()

	frame := make([]byte, muxKeySize+wire.HeaderSize+len(payload))
	binary.LittleEndian.PutUint32(frame[:muxKeySize], c.muxKey)
	h := wire.NewHeader(c.muxKey, seq, wire.MsgData, uint16(len(payload)))
	h.Seal(payload)
	h.Encode(frame[muxKeySize : muxKeySize+wire.HeaderSize])
	copy(frame[muxKeySize+wire.HeaderSize:], payload)

	_, err := s.dataConn.WriteToUDP(frame, c.addr)
	if err == nil && s.cfg.Metrics != nil {
		s.cfg.Metrics.TxPackets.Inc()
	}
	return err
}

// Broadcast sends payload to every client currently registered under
// muxKey, best-effort: a per-client ErrWouldBlock is skipped rather than
// aborting the whole broadcast.
func (s *Server) Broadcast(muxKey uint32, payload []byte) {
	s.mu.Lock()
	var targets []*client
	for _, c := range s.clients {
		if c.muxKey == muxKey {
			targets = append(targets, c)
		}
	}
	s.mu.Unlock()

	for _, c := range targets {
		_ = s.sendTo(c, payload)
	}
}

func isWouldBlock(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
