package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/ringnet-io/ringnet/pkg/safe"
	"github.com/ringnet-io/ringnet/pkg/shutdown"
)

// installSignalHandler triggers mgr.Shutdown() on SIGINT/SIGTERM so the
// poll loop can drain and close sockets before the process exits.
func installSignalHandler(mgr *shutdown.Manager) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	safe.Go(func() {
		<-sigCh
		mgr.Shutdown()
	})
}
