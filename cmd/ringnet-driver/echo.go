package main

import (
	"net"
	"os"

	"github.com/ringnet-io/ringnet/pkg/rlog"
	"github.com/ringnet-io/ringnet/pkg/safe"
	"github.com/ringnet-io/ringnet/pkg/shutdown"
)

// runEcho binds bindAddr and reflects every datagram back to its sender,
// with no ring, no framing, and no reliability layer — a bare connectivity
// smoke test for the other two modes' UDP path.
func runEcho(bindAddr string) error {
	addr, err := net.ResolveUDPAddr("udp", bindAddr)
	if err != nil {
		rlog.Errorw("invalid bind address", "addr", bindAddr, "error", err)
		os.Exit(1)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		rlog.Errorw("failed to bind echo socket", "addr", bindAddr, "error", err)
		os.Exit(2)
	}
	defer conn.Close()

	rlog.Infow("ringnet-driver echo started", "addr", conn.LocalAddr().String())

	mgr := shutdown.NewManager()
	installSignalHandler(mgr)

	var rx, tx uint64
	stop := statsTicker(statsInterval, func() string {
		return echoSummary(rx, tx)
	})
	defer stop()

	safe.Go(func() {
		<-mgr.Wait()
		conn.Close()
	})

	buf := make([]byte, 65536)
	for {
		n, peer, err := conn.ReadFromUDP(buf)
		if err != nil {
			if mgr.IsShuttingDown() {
				return nil
			}
			continue
		}
		rx++
		if _, err := conn.WriteToUDP(buf[:n], peer); err == nil {
			tx++
		}
	}
}
