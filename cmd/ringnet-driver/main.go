// Command ringnet-driver wires a shared-memory ring to a UDP socket, end
// to end: application -> shmring (to-driver) -> rudp send ring -> UDP wire
// -> peer -> rudp receive window -> shmring (to-app) -> application. It
// supports a unicast peer mode (full RUDP with ACK/NAK), a multicast mode
// (full-header framing without ACK/NAK), and a bare --echo mode for
// connectivity smoke-testing without any ring at all.
//
// Usage:
//
//	ringnet-driver run <bind_addr> <peer_addr>  [--send-path P] [--recv-path P]
//	ringnet-driver run <bind_addr> <group_addr> --multicast [--send-path P] [--recv-path P]
//	ringnet-driver run <bind_addr> --echo
//
// Exit codes: 0 normal shutdown, 1 argument error, 2 socket/bind error.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ringnet-io/ringnet/pkg/rlog"
	"github.com/ringnet-io/ringnet/pkg/safe"
	"github.com/ringnet-io/ringnet/pkg/version"
)

var (
	sendPath  string
	recvPath  string
	multicast bool
	echo      bool
	ringCap   uint32
	slotSize  uint32
)

func main() {
	root := &cobra.Command{Use: "ringnet-driver", Short: "Bridge a shared-memory ring to a UDP socket"}
	root.AddCommand(version.VersionCmd)

	runCmd := &cobra.Command{
		Use:   "run <bind_addr> [peer_or_group]",
		Short: "Start the driver",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runDriver,
	}
	runCmd.Flags().StringVar(&sendPath, "send-path", "", "shmring file the driver consumes outbound payloads from")
	runCmd.Flags().StringVar(&recvPath, "recv-path", "", "shmring file the driver produces inbound payloads into")
	runCmd.Flags().BoolVar(&multicast, "multicast", false, "join peer_or_group as a multicast group instead of unicast")
	runCmd.Flags().BoolVar(&echo, "echo", false, "run a bare UDP echo responder; ignores peer_or_group and ring flags")
	runCmd.Flags().Uint32Var(&ringCap, "ring-cap", 1024, "shmring capacity in slots (power of two) when creating a new ring")
	runCmd.Flags().Uint32Var(&slotSize, "slot-size", 2048, "shmring slot size in bytes")
	root.AddCommand(runCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDriver(cmd *cobra.Command, args []string) error {
	rlog.MustInit(rlog.SetDefaults())
	defer func() { _ = rlog.Sync() }()

	bindAddr := args[0]

	if echo {
		return runEcho(bindAddr)
	}

	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "ringnet-driver: peer_or_group is required unless --echo is set")
		os.Exit(1)
	}
	peerOrGroup := args[1]

	if multicast {
		return runMulticast(bindAddr, peerOrGroup)
	}
	return runUnicast(bindAddr, peerOrGroup)
}

// statsTicker returns a stop func; it logs a periodic tx/rx/drops summary
// so a running driver's counters are visible without scraping /metrics.
func statsTicker(interval time.Duration, summary func() string) (stop func()) {
	done := make(chan struct{})
	safe.Go(func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				rlog.Infow("stats", "summary", summary())
			case <-done:
				return
			}
		}
	})
	return func() { close(done) }
}
