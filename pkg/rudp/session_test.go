package rudp

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ringnet-io/ringnet/pkg/wire"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	port := l.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func newPair(t *testing.T) (a, b *Session) {
	t.Helper()
	portA := freePort(t)
	portB := freePort(t)
	addrA := fmt.Sprintf("127.0.0.1:%d", portA)
	addrB := fmt.Sprintf("127.0.0.1:%d", portB)

	cfg := func(bind, peer string) Config {
		return Config{
			BindAddr:       bind,
			PeerAddr:       peer,
			WindowSize:     64,
			SendRing:       64,
			CongestionMin:  1,
			CongestionInit: 16,
			CongestionMax:  64,
		}
	}

	a, err := New(cfg(addrA, addrB))
	require.NoError(t, err)
	b, err = New(cfg(addrB, addrA))
	require.NoError(t, err)
	return a, b
}

func TestSession_SendReceiveInOrder(t *testing.T) {
	a, b := newPair(t)
	defer a.Close()
	defer b.Close()

	for i := 0; i < 5; i++ {
		_, err := a.Send([]byte(fmt.Sprintf("msg-%d", i)))
		require.NoError(t, err)
	}

	var received []string
	deadline := time.Now().Add(2 * time.Second)
	for len(received) < 5 && time.Now().Before(deadline) {
		require.NoError(t, b.PollReceive(func(payload []byte) {
			received = append(received, string(payload))
		}))
		require.NoError(t, a.PollControl())
		time.Sleep(5 * time.Millisecond)
	}

	require.Len(t, received, 5)
	for i, msg := range received {
		assert.Equal(t, fmt.Sprintf("msg-%d", i), msg)
	}
}

func TestSession_OutOfOrderDeliveryReordersBeforeCallback(t *testing.T) {
	a, b := newPair(t)
	defer a.Close()
	defer b.Close()

	// "zero" is stored for seq 0 but held back; it goes on the wire only
	// after seq 1, so b receives the two frames in reverse order.
	seq0 := sendWithoutTransmit(t, a, []byte("zero"))
	require.Equal(t, uint64(0), seq0)
	_, err := a.Send([]byte("one"))
	require.NoError(t, err)
	a.retransmit(seq0)

	var received []string
	deadline := time.Now().Add(2 * time.Second)
	for len(received) < 2 && time.Now().Before(deadline) {
		require.NoError(t, b.PollReceive(func(payload []byte) {
			received = append(received, string(payload))
		}))
		time.Sleep(5 * time.Millisecond)
	}

	require.Len(t, received, 2)
	assert.Equal(t, []string{"zero", "one"}, received)
}

func TestSession_SendAfterCloseFails(t *testing.T) {
	a, b := newPair(t)
	defer b.Close()

	require.NoError(t, a.Close())
	_, err := a.Send([]byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
}

// sendWithoutTransmit performs everything Send does except the actual wire
// write, standing in for a dropped datagram: the sequence is claimed and
// stored in the send ring exactly as a transmitted packet would be, so the
// NAK path can later retransmit it for real.
func sendWithoutTransmit(t *testing.T, s *Session, payload []byte) uint64 {
	t.Helper()
	require.True(t, s.congestion.CanSend())
	start, ok := s.sendRing.TryClaim(1)
	require.True(t, ok)

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
	return seq
}

func TestSession_NakTriggersRetransmitOfDroppedPacket(t *testing.T) {
	a, b := newPair(t)
	defer a.Close()
	defer b.Close()

	_, err := a.Send([]byte("seq0"))
	require.NoError(t, err)
	sendWithoutTransmit(t, a, []byte("seq1-lost"))
	_, err = a.Send([]byte("seq2"))
	require.NoError(t, err)

	var received []string
	deadline := time.Now().Add(3 * time.Second)
	for len(received) < 3 && time.Now().Before(deadline) {
		require.NoError(t, b.PollReceive(func(payload []byte) {
			received = append(received, string(payload))
		}))
		require.NoError(t, a.PollControl())
		time.Sleep(5 * time.Millisecond)
	}

	require.Len(t, received, 3)
	assert.Equal(t, []string{"seq0", "seq1-lost", "seq2"}, received)
}

func TestSession_SendBatchReliableDeliversAllInOrder(t *testing.T) {
	a, b := newPair(t)
	defer a.Close()
	defer b.Close()

	payloads := [][]byte{[]byte("r0"), []byte("r1"), []byte("r2"), []byte("r3")}
	require.NoError(t, a.SendBatchReliable(payloads))

	var received []string
	deadline := time.Now().Add(2 * time.Second)
	for len(received) < len(payloads) && time.Now().Before(deadline) {
		require.NoError(t, b.PollReceive(func(payload []byte) {
			received = append(received, string(payload))
		}))
		time.Sleep(5 * time.Millisecond)
	}

	require.Len(t, received, len(payloads))
	assert.Equal(t, []string{"r0", "r1", "r2", "r3"}, received)
}

func TestSession_SendBatchProducesSingleFastFramedDatagram(t *testing.T) {
	// A bare UDP socket stands in for the peer's data socket so the raw
	// datagram can be inspected before any reassembly happens.
	peer, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer peer.Close()

	s, err := New(Config{
		BindAddr:       fmt.Sprintf("127.0.0.1:%d", freePort(t)),
		PeerAddr:       peer.LocalAddr().String(),
		WindowSize:     64,
		SendRing:       128,
		CongestionMin:  1,
		CongestionInit: 16,
		CongestionMax:  64,
	})
	require.NoError(t, err)
	defer s.Close()

	const count = 64
	const payloadLen = 32
	payloads := make([][]byte, count)
	for i := range payloads {
		p := make([]byte, payloadLen)
		for j := range p {
			p[j] = byte(i)
		}
		payloads[i] = p
	}
	require.NoError(t, s.SendBatch(payloads))

	buf := make([]byte, 65536)
	require.NoError(t, peer.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := peer.ReadFromUDP(buf)
	require.NoError(t, err)

	require.Equal(t, count*(wire.FastHeaderSize+payloadLen), n)
	require.True(t, wire.IsFastFrame(buf[:n]))

	// Walk every sub-frame back out and check (seq, payload) pairs.
	rest := buf[:n]
	for i := 0; i < count; i++ {
		fh, payload, ok := wire.ParseFastFrame(rest)
		require.True(t, ok)
		assert.Equal(t, uint32(i), fh.Sequence)
		assert.Equal(t, payloads[i], payload)
		rest = rest[fh.Len():]
	}
	assert.Empty(t, rest)
}

func TestSession_WouldBlockWhenCongestionWindowFull(t *testing.T) {
	a, b := newPair(t)
	defer a.Close()
	defer b.Close()

	// Congestion window starts at CongestionInit=16; exhaust it without any
	// ACKs arriving so in_flight catches up to window.
	for i := 0; i < 16; i++ {
		_, err := a.Send([]byte("x"))
		require.NoError(t, err)
	}
	_, err := a.Send([]byte("one too many"))
	assert.ErrorIs(t, err, ErrWouldBlock)
}
