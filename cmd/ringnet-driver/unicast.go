package main

import (
	"os"
	"time"

	"github.com/ringnet-io/ringnet/pkg/loopctl"
	"github.com/ringnet-io/ringnet/pkg/rlog"
	"github.com/ringnet-io/ringnet/pkg/rudp"
	"github.com/ringnet-io/ringnet/pkg/safe"
	"github.com/ringnet-io/ringnet/pkg/shmring"
	"github.com/ringnet-io/ringnet/pkg/shutdown"
	"github.com/ringnet-io/ringnet/pkg/telemetry"
)

const (
	unicastWindowSize  = 256
	unicastSendRing    = 256
	unicastCongMin     = 4
	unicastCongInit    = 32
	unicastCongMax     = 256
	unicastSlotPayload = 2048
)

// runUnicast bridges shmring files at --send-path/--recv-path to a single
// reliable peer over RUDP. send-path is opened as the consumer end (an
// upstream application process is expected to be its producer); recv-path
// is created fresh as the producer end (the driver is the only writer —
// the application opens it as consumer once the driver has created it),
// matching shmring's creator-is-producer convention.
func runUnicast(bindAddr, peerAddr string) error {
	metrics := telemetry.New("driver_unicast")
	telemetry.NewServer("127.0.0.1:9465", metrics).Start()

	session, err := rudp.New(rudp.Config{
		BindAddr:       bindAddr,
		PeerAddr:       peerAddr,
		WindowSize:     unicastWindowSize,
		SendRing:       unicastSendRing,
		CongestionMin:  unicastCongMin,
		CongestionInit: unicastCongInit,
		CongestionMax:  unicastCongMax,
		Metrics:        metrics,
	})
	if err != nil {
		rlog.Errorw("failed to start rudp session", "bind", bindAddr, "peer", peerAddr, "error", err)
		os.Exit(2)
	}
	defer session.Close()

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

	rlog.Infow("ringnet-driver unicast started", "bind", session.DataAddr(), "peer", peerAddr)

	mgr := shutdown.NewManager()
	installSignalHandler(mgr)

	stop := statsTicker(statsInterval, metrics.String)
	defer stop()

	loop := loopctl.New(loopctl.WithInterval(2*time.Millisecond), loopctl.WithDeclineRatio(1.5), loopctl.WithDeclineLimit(20*time.Millisecond))

	buf := make([]byte, unicastSlotPayload)
	safe.Go(func() {
		_ = loop.Do(func() (abort bool, err error) {
			select {
			case <-mgr.Wait():
				return true, nil
			default:
			}

			delivered := 0
			_ = session.PollReceive(func(payload []byte) {
				delivered++
				if inRing != nil {
					if _, err := inRing.TrySend(payload); err != nil {
						metrics.IncDrop(telemetry.DropOverflow)
					}
				}
			})
			_ = session.PollControl()

			sent := 0
			if outRing != nil {
				outRing.Receive(func(data []byte) {
					n := copy(buf, data)
					if _, err := session.Send(buf[:n]); err == nil {
						sent++
					} else {
						// The shm slot is already consumed; a send that
						// can't go out now is dropped, not retried.
						metrics.IncDrop(telemetry.DropOverflow)
					}
				})
			}

			if delivered == 0 && sent == 0 {
				return false, errIdleDriver
			}
			return false, nil
		})
	})

	<-mgr.Wait()
	rlog.Infow("shutting down")
	return nil
}

var errIdleDriver = errIdleError("idle poll cycle")

type errIdleError string

func (e errIdleError) Error() string { return string(e) }
