// Package rudp implements a reliable, ordered UDP transport for a single
// known peer: CRC32-checksummed framing, NAK-driven retransmission, a
// sliding send ring, a bitmap receive window, and an AIMD congestion
// controller. Receive draining is a plain per-wake ReadFromUDP loop
// capped at a fixed 64-datagram budget rather than a batched recvmmsg
// syscall.
package rudp

import (
	"net"
	"time"

	"github.com/ringnet-io/ringnet/pkg/congestion"
	"github.com/ringnet-io/ringnet/pkg/recvwindow"
	"github.com/ringnet-io/ringnet/pkg/ringbuffer"
	"github.com/ringnet-io/ringnet/pkg/telemetry"
	"github.com/ringnet-io/ringnet/pkg/wire"
)

// State is the session's lifecycle stage.
type State int

const (
	StateIdle State = iota
	StateReady
	StateClosed
)

// socketBufferBytes is the 8MiB send/receive socket buffer size the
// transport asks the OS for; a best-effort request, ignored if the
// platform refuses it.
const socketBufferBytes = 8 * 1024 * 1024

// maxDatagramsPerWake bounds how many datagrams a single PollReceive or
// PollControl call drains, keeping one wake's work bounded.
const maxDatagramsPerWake = 64

// recvScratchSize is sized above typical MTU.
const recvScratchSize = 2048

// Config configures a new Session.
type Config struct {
	SessionID   uint32
	BindAddr    string // host:port; control socket binds host:(port+1)
	PeerAddr    string // host:port; control peer is host:(port+1)
	WindowSize  int    // receive window ring size
	SendRing    uint64 // send ring capacity, power of two
	CongestionMin uint32
	CongestionInit uint32
	CongestionMax  uint32

	// Metrics, when non-nil, receives tx/rx/drop/retransmit counters.
	Metrics *telemetry.Metrics
}

type sendSlot struct {
	seq  uint64
	data []byte
}

// Session is one side of a reliable UDP connection. It is single-threaded:
// all methods are meant to be called from one driver goroutine, matching
// the cooperative poll-loop model the rest of this transport uses.
type Session struct {
	sessionID uint32

	dataConn *net.UDPConn
	ctrlConn *net.UDPConn

	peerData *net.UDPAddr
	peerCtrl *net.UDPAddr

	sendRing    *ringbuffer.SPSC[sendSlot]
	nextSendSeq uint64
	ackedSeq    uint64

	recvWin    *recvwindow.Window
	congestion *congestion.Controller

	state State

	dataScratch []byte
	ctrlScratch []byte

	metrics *telemetry.Metrics
}

// New binds the data and control sockets described by cfg and returns a
// session in StateReady. Bind failure is the only fatal error this
// transport produces; everything past construction degrades gracefully.
func New(cfg Config) (*Session, error) {
	dataConn, peerData, err := bindUDP(cfg.BindAddr, cfg.PeerAddr, 0)
	if err != nil {
		return nil, err
	}
	ctrlConn, peerCtrl, err := bindUDP(cfg.BindAddr, cfg.PeerAddr, 1)
	if err != nil {
		// Port+1 taken: fall back to an ephemeral control port. Outbound
		// control traffic still goes to the peer's port+1; a Session or
		// mux.Server peer sends its ACKs and NAKs to our data port+1, not
		// to this socket, so they do not arrive here.
		ctrlConn, peerCtrl, err = bindEphemeralCtrl(cfg.BindAddr, cfg.PeerAddr)
		if err != nil {
			dataConn.Close()
			return nil, err
		}
	}

	_ = dataConn.SetReadBuffer(socketBufferBytes)
	_ = dataConn.SetWriteBuffer(socketBufferBytes)
	_ = ctrlConn.SetReadBuffer(socketBufferBytes)
	_ = ctrlConn.SetWriteBuffer(socketBufferBytes)

	sendRing, err := ringbuffer.NewSPSC[sendSlot](cfg.SendRing)
	if err != nil {
		dataConn.Close()
		ctrlConn.Close()
		return nil, err
	}

	return &Session{
		sessionID:   cfg.SessionID,
		dataConn:    dataConn,
		ctrlConn:    ctrlConn,
		peerData:    peerData,
		peerCtrl:    peerCtrl,
		sendRing:    sendRing,
		recvWin:     recvwindow.NewWindow(cfg.WindowSize, 0),
		congestion:  congestion.New(cfg.CongestionInit, cfg.CongestionMin, cfg.CongestionMax),
		state:       StateReady,
		dataScratch: make([]byte, recvScratchSize),
		ctrlScratch: make([]byte, recvScratchSize),
		metrics:     cfg.Metrics,
	}, nil
}

func (s *Session) incDrop(reason telemetry.DropReason) {
	if s.metrics != nil {
		s.metrics.IncDrop(reason)
	}
}

func bindUDP(bindAddr, peerAddr string, portOffset int) (*net.UDPConn, *net.UDPAddr, error) {
	local, err := net.ResolveUDPAddr("udp", bindAddr)
	if err != nil {
		return nil, nil, err
	}
	local.Port += portOffset

	conn, err := net.ListenUDP("udp", local)
	if err != nil {
		return nil, nil, err
	}

	peer, err := net.ResolveUDPAddr("udp", peerAddr)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	peer.Port += portOffset

	return conn, peer, nil
}

// bindEphemeralCtrl binds the control socket on an OS-assigned port while
// still aiming control traffic at the peer's port+1.
func bindEphemeralCtrl(bindAddr, peerAddr string) (*net.UDPConn, *net.UDPAddr, error) {
	local, err := net.ResolveUDPAddr("udp", bindAddr)
	if err != nil {
		return nil, nil, err
	}
	local.Port = 0

	conn, err := net.ListenUDP("udp", local)
	if err != nil {
		return nil, nil, err
	}

	peer, err := net.ResolveUDPAddr("udp", peerAddr)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	peer.Port++

	return conn, peer, nil
}

// State returns the session's current lifecycle state.
func (s *Session) State() State { return s.state }

// Close sends a best-effort Disconnect on the control socket, transitions
// the session to StateClosed, and releases both sockets. All later
// operations fail with ErrClosed. The Disconnect send's outcome is ignored:
// a peer that never sees it will still reach the same state via its own
// inactivity timeout.
func (s *Session) Close() error {
	if s.state == StateClosed {
		return nil
	}
	s.sendDisconnect()
	s.state = StateClosed
	err := s.dataConn.Close()
	if cerr := s.ctrlConn.Close(); err == nil {
		err = cerr
	}
	return err
}

func (s *Session) sendDisconnect() {
	h := wire.NewHeader(s.sessionID, s.nextSendSeq, wire.MsgDisconnect, 0)
	h.Seal(nil)
	var buf [wire.HeaderSize]byte
	h.Encode(buf[:])
	_, _ = s.ctrlConn.WriteToUDP(buf[:], s.peerCtrl)
}

// Send frames payload as a Data packet, stores it in the send ring for
// retransmit, and transmits it on the data socket. It returns ErrWouldBlock
// if the send ring is full or the congestion window has no room.
func (s *Session) Send(payload []byte) (uint64, error) {
	if s.state != StateReady {
		return 0, ErrClosed
	}
	if len(payload) > 1<<16-1 {
		return 0, ErrPayloadTooLarge
	}
	if !s.congestion.CanSend() {
		return 0, ErrWouldBlock
	}
	start, ok := s.sendRing.TryClaim(1)
	if !ok {
		return 0, ErrWouldBlock
	}

	seq := s.nextSendSeq
	s.nextSendSeq++

	h := wire.NewHeader(s.sessionID, seq, wire.MsgData, uint16(len(payload)))
	h.Seal(payload)
	buf := make([]byte, wire.HeaderSize+len(payload))
	h.Encode(buf)
	copy(buf[wire.HeaderSize:], payload)

	*s.sendRing.Slot(start) = sendSlot{seq: seq, data: buf}
	s.sendRing.Publish(start + 1)
	s.congestion.OnSend()

	if _, err := s.dataConn.WriteToUDP(buf, s.peerData); err != nil {
		return seq, err
	}
	if s.metrics != nil {
		s.metrics.TxPackets.Inc()
		s.metrics.AIMDWindow.Set(float64(s.congestion.Window()))
	}
	return seq, nil
}

// SendBatch coalesces payloads into one datagram using the 8-byte fast
// header per sub-frame, consuming len(payloads) consecutive sequence
// numbers in a single claim.
func (s *Session) SendBatch(payloads [][]byte) error {
	if s.state != StateReady {
		return ErrClosed
	}
	if len(payloads) == 0 {
		return nil
	}
	if !s.congestion.CanSend() {
		return ErrWouldBlock
	}

	start, ok := s.sendRing.TryClaim(uint64(len(payloads)))
	if !ok {
		return ErrWouldBlock
	}

	var datagram []byte
	for i, payload := range payloads {
		seq := s.nextSendSeq + uint64(i)
		fh := wire.NewFastHeader(uint32(seq), len(payload))
		frame := make([]byte, wire.FastHeaderSize+len(payload))
		fh.Encode(frame)
		copy(frame[wire.FastHeaderSize:], payload)

		*s.sendRing.Slot(start + uint64(i)) = sendSlot{seq: seq, data: frame}
		datagram = append(datagram, frame...)
	}
	s.sendRing.Publish(start + uint64(len(payloads)))
	s.nextSendSeq += uint64(len(payloads))
	s.congestion.OnSend()

	_, err := s.dataConn.WriteToUDP(datagram, s.peerData)
	if err == nil && s.metrics != nil {
		s.metrics.TxPackets.Inc()
	}
	return err
}

// SendBatchReliable coalesces payloads into one datagram using full,
// checksummed headers in the length-delimited batch framing, unlike
// SendBatch's fast unreliable framing. Each sub-frame is individually
// retransmittable from the send ring exactly like a single Send.
func (s *Session) SendBatchReliable(payloads [][]byte) error {
	if s.state != StateReady {
		return ErrClosed
	}
	if len(payloads) == 0 {
		return nil
	}
	if !s.congestion.CanSend() {
		return ErrWouldBlock
	}

	start, ok := s.sendRing.TryClaim(uint64(len(payloads)))
	if !ok {
		return ErrWouldBlock
	}

	frames := make([][]byte, len(payloads))
	for i, payload := range payloads {
		seq := s.nextSendSeq + uint64(i)
		h := wire.NewHeader(s.sessionID, seq, wire.MsgData, uint16(len(payload)))
		h.Seal(payload)
		buf := make([]byte, wire.HeaderSize+len(payload))
		h.Encode(buf)
		copy(buf[wire.HeaderSize:], payload)

		*s.sendRing.Slot(start + uint64(i)) = sendSlot{seq: seq, data: buf}
		frames[i] = buf
	}
	s.sendRing.Publish(start + uint64(len(payloads)))
	s.nextSendSeq += uint64(len(payloads))
	s.congestion.OnSend()

	datagram := wire.EncodeLengthDelimitedBatch(frames)
	_, err := s.dataConn.WriteToUDP(datagram, s.peerData)
	if err == nil && s.metrics != nil {
		s.metrics.TxPackets.Inc()
		s.metrics.AIMDWindow.Set(float64(s.congestion.Window()))
	}
	return err
}

// PollReceive drains up to maxDatagramsPerWake datagrams from the data
// socket, inserts decoded Data payloads into the receive window, delivers
// every now-contiguous payload to onMessage, and finishes by emitting an
// ACK for the new high-water mark and NAKs for any remaining gaps.
func (s *Session) PollReceive(onMessage func(payload []byte)) error {
	if s.state != StateReady {
		return ErrClosed
	}

	// A deadline already in the past fails the read before any datagram is
	// taken, so the drain uses a deadline just ahead of now.
	_ = s.dataConn.SetReadDeadline(time.Now().Add(time.Millisecond))
	for i := 0; i < maxDatagramsPerWake; i++ {
		n, _, err := s.dataConn.ReadFromUDP(s.dataScratch)
		if err != nil {
			if isWouldBlock(err) {
				break
			}
			continue
		}
		if s.metrics != nil {
			s.metrics.RxPackets.Inc()
		}
		s.handleDatagram(s.dataScratch[:n])
	}

	delivered := false
	s.recvWin.DeliverInOrder(func(payload []byte) {
		delivered = true
		onMessage(payload)
	})
	if delivered {
		s.sendAck()
	}
	s.sendGapNaks()
	return nil
}

// handleDatagram classifies an inbound datagram in priority order — the
// fast-frame magic bit first, then a plausible length-delimited batch of
// full-header frames, and only then a single bare full-header frame — and
// inserts every Data payload it contains into the receive window.
func (s *Session) handleDatagram(b []byte) {
	if wire.IsFastFrame(b) {
		s.handleFastBatch(b)
		return
	}
	if wire.LooksLengthDelimited(b) {
		ok := wire.ParseLengthDelimitedBatch(b, func(h wire.Header, payload []byte) {
			s.handleDataFrame(h, payload)
		})
		if !ok {
			s.incDrop(telemetry.DropMalformed)
		}
		return
	}
	h, payload, ok := wire.ParseFrame(b)
	if !ok {
		s.incDrop(telemetry.DropMalformed)
		return
	}
	s.handleDataFrame(h, payload)
}

func (s *Session) handleDataFrame(h wire.Header, payload []byte) {
	if h.MsgType != wire.MsgData {
		// Well-formed but not data (a heartbeat, a misrouted control
		// frame): ignored, not an error.
		return
	}
	if h.Flags&wire.FlagNoCRC == 0 && !h.VerifyChecksum(payload) {
		s.incDrop(telemetry.DropBadCRC)
		return
	}
	s.recvWin.Insert(h.Sequence, payload)
}

func (s *Session) handleFastBatch(b []byte) {
	for len(b) >= wire.FastHeaderSize {
		fh, payload, ok := wire.ParseFastFrame(b)
		if !ok {
			return
		}
		s.recvWin.Insert(uint64(fh.Sequence), payload)
		b = b[fh.Len():]
	}
}

func (s *Session) sendAck() {
	h := wire.NewHeader(s.sessionID, s.recvWin.LastDeliveredSeq(), wire.MsgAck, 0)
	h.Seal(nil)
	var buf [wire.HeaderSize]byte
	h.Encode(buf[:])
	_, _ = s.ctrlConn.WriteToUDP(buf[:], s.peerCtrl)
	if s.metrics != nil {
		s.metrics.AcksSent.Inc()
	}
}

func (s *Session) sendGapNaks() {
	var ranges []wire.NakRange
	s.recvWin.Gaps(func(start, end uint64) {
		ranges = append(ranges, wire.NakRange{Start: start, End: end})
	})
	if len(ranges) == 0 {
		return
	}
	payload := wire.EncodeNakPayload(ranges)
	h := wire.NewHeader(s.sessionID, ranges[0].Start, wire.MsgNak, uint16(len(payload)))
	h.Seal(payload)
	buf := make([]byte, wire.HeaderSize+len(payload))
	h.Encode(buf)
	copy(buf[wire.HeaderSize:], payload)
	_, _ = s.ctrlConn.WriteToUDP(buf, s.peerCtrl)
	if s.metrics != nil {
		s.metrics.NaksSent.Inc()
	}
}

// PollControl drains up to maxDatagramsPerWake datagrams from the control
// socket, advancing the send window on ACKs and replaying lost slots on
// NAKs.
func (s *Session) PollControl() error {
	if s.state != StateReady {
		return ErrClosed
	}

	_ = s.ctrlConn.SetReadDeadline(time.Now().Add(time.Millisecond))
	for i := 0; i < maxDatagramsPerWake; i++ {
		n, _, err := s.ctrlConn.ReadFromUDP(s.ctrlScratch)
		if err != nil {
			if isWouldBlock(err) {
				break
			}
			continue
		}
		s.handleControl(s.ctrlScratch[:n])
	}
	return nil
}

func (s *Session) handleControl(b []byte) {
	h, payload, ok := wire.ParseFrame(b)
	if !ok {
		return
	}
	if !h.VerifyChecksum(payload) {
		s.incDrop(telemetry.DropBadCRC)
		return
	}

	switch h.MsgType {
	case wire.MsgAck:
		if h.Sequence > s.ackedSeq {
			acked := h.Sequence - s.ackedSeq
			s.ackedSeq = h.Sequence
			s.sendRing.AdvanceConsumer(h.Sequence)
			for i := uint64(0); i < acked; i++ {
				s.congestion.OnAck()
			}
		}
	case wire.MsgNak:
		if ranges, ok := wire.DecodeNakPayload(payload); ok {
			for _, r := range ranges {
				s.retransmitRange(r.Start, r.End)
			}
		} else {
			s.retransmit(h.Sequence)
		}
		s.congestion.OnLoss()
	case wire.MsgHandshake:
		s.recvWin.AdvanceExpected(h.Sequence + 1)
	}
	if s.metrics != nil {
		s.metrics.AIMDWindow.Set(float64(s.congestion.Window()))
	}
}

// retransmit resends the send-ring slot for seq if it is still held (it may
// have already been overwritten by a later claim that wrapped the ring).
func (s *Session) retransmit(seq uint64) {
	slot := s.sendRing.Slot(seq)
	if slot.seq != seq {
		return
	}
	_, _ = s.dataConn.WriteToUDP(slot.data, s.peerData)
	if s.metrics != nil {
		s.metrics.Retransmits.Inc()
		s.metrics.TxPackets.Inc()
	}
}

func (s *Session) retransmitRange(start, end uint64) {
	for seq := start; seq <= end; seq++ {
		s.retransmit(seq)
	}
}

func isWouldBlock(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// DataAddr returns the locally bound data socket address, for logging and
// tests.
func (s *Session) DataAddr() string { return s.dataConn.LocalAddr().String() }
