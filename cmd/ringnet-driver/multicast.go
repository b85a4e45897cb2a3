package main

import (
	"net"
	"os"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/ringnet-io/ringnet/pkg/loopctl"
	"github.com/ringnet-io/ringnet/pkg/rlog"
	"github.com/ringnet-io/ringnet/pkg/safe"
	"github.com/ringnet-io/ringnet/pkg/shmring"
	"github.com/ringnet-io/ringnet/pkg/shutdown"
	"github.com/ringnet-io/ringnet/pkg/telemetry"
	"github.com/ringnet-io/ringnet/pkg/wire"
)

const (
	multicastSessionID = 0
	multicastScratch   = 2048
)

// runMulticast relays shmring payloads to and from a multicast group using
// the full Data header for framing, with no ACK/NAK exchange: retransmit-
// based loss recovery doesn't generalize to a one-to-many group (a NAK
// from any one receiver can't ask the sender to single out that receiver),
// so it's left to the application layer. Sequence numbers in the header
// are carried for the receiver's own duplicate/gap bookkeeping (see
// pkg/recvwindow), not for retransmission.
func runMulticast(bindAddr, groupAddr string) error {
	metrics := telemetry.New("driver_multicast")
	telemetry.NewServer("127.0.0.1:9466", metrics).Start()

	local, err := net.ResolveUDPAddr("udp4", bindAddr)
	if err != nil {
		rlog.Errorw("invalid bind address", "addr", bindAddr, "error", err)
		os.Exit(1)
	}
	group, err := net.ResolveUDPAddr("udp4", groupAddr)
	if err != nil {
		rlog.Errorw("invalid multicast group address", "addr", groupAddr, "error", err)
		os.Exit(1)
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: local.Port})
	if err != nil {
		rlog.Errorw("failed to bind multicast socket", "addr", bindAddr, "error", err)
		os.Exit(2)
	}
	defer conn.Close()

	pconn := ipv4.NewPacketConn(conn)
	iface, err := outboundInterface()
	if err == nil {
		_ = pconn.JoinGroup(iface, &net.UDPAddr{IP: group.IP})
	} else {
		_ = pconn.JoinGroup(nil, &net.UDPAddr{IP: group.IP})
	}
	_ = pconn.SetMulticastLoopback(true)

	rlog.Infow("ringnet-driver multicast started", "bind", conn.LocalAddr().String(), "group", groupAddr)

	var outRing, inRing *shmring.Ring
	if sendPath != "" {
		outRing, err = shmring.Open(sendPath, slotSize)
		if err != nil {
			rlog.Errorw("failed to open send-path ring", "path", sendPath, "error", err)
			os.Exit(2)
		}
		defer outRing.Close()
	}
	if recvPath != "" {
		inRing, err = shmring.Create(recvPath, ringCap, slotSize)
		if err != nil {
			rlog.Errorw("failed to create recv-path ring", "path", recvPath, "error", err)
			os.Exit(2)
		}
		defer inRing.Close()
	}

	mgr := shutdown.NewManager()
	installSignalHandler(mgr)

	stop := statsTicker(statsInterval, metrics.String)
	defer stop()

	loop := loopctl.New(loopctl.WithInterval(2*time.Millisecond), loopctl.WithDeclineRatio(1.5), loopctl.WithDeclineLimit(20*time.Millisecond))

	var nextSeq uint64
	scratch := make([]byte, multicastScratch)

	safe.Go(func() {
		_ = loop.Do(func() (abort bool, err error) {
			select {
			case <-mgr.Wait():
				return true, nil
			default:
			}

			received := 0
			_ = conn.SetReadDeadline(time.Now().Add(time.Millisecond))
			for {
				n, _, rerr := conn.ReadFromUDP(scratch)
				if rerr != nil {
					break
				}
				h, payload, ok := wire.ParseFrame(scratch[:n])
				if !ok || h.MsgType != wire.MsgData {
					metrics.IncDrop(telemetry.DropMalformed)
					continue
				}
				if h.Flags&wire.FlagNoCRC == 0 && !h.VerifyChecksum(payload) {
					metrics.IncDrop(telemetry.DropBadCRC)
					continue
				}
				received++
				metrics.RxPackets.Inc()
				if inRing != nil {
					if _, serr := inRing.TrySend(payload); serr != nil {
						metrics.IncDrop(telemetry.DropOverflow)
					}
				}
			}

			sent := 0
			if outRing != nil {
				outRing.Receive(func(data []byte) {
					h := wire.NewHeader(multicastSessionID, nextSeq, wire.MsgData, uint16(len(data)))
					h.Seal(data)
					nextSeq++
					buf := make([]byte, wire.HeaderSize+len(data))
					h.Encode(buf)
					copy(buf[wire.HeaderSize:], data)
					if _, werr := conn.WriteToUDP(buf, group); werr == nil {
						sent++
						metrics.TxPackets.Inc()
					}
				})
			}

			if received == 0 && sent == 0 {
				return false, errIdleDriver
			}
			return false, nil
		})
	})

	<-mgr.Wait()
	rlog.Infow("shutting down")
	return nil
}

// outboundInterface picks the first up, multicast-capable, non-loopback
// interface, used when none is configured explicitly.
func outboundInterface() (*net.Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for i := range ifaces {
		ifc := &ifaces[i]
		if ifc.Flags&net.FlagUp == 0 || ifc.Flags&net.FlagMulticast == 0 {
			continue
		}
		if ifc.Flags&net.FlagLoopback != 0 {
			continue
		}
		return ifc, nil
	}
	return nil, os.ErrNotExist
}
