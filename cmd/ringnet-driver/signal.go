package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ringnet-io/ringnet/pkg/safe"
	"github.com/ringnet-io/ringnet/pkg/shutdown"
)

const statsInterval = 5 * time.Second

func installSignalHandler(mgr *shutdown.Manager) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	safe.Go(func() {
		<-sigCh
		mgr.Shutdown()
	})
}

func echoSummary(rx, tx uint64) string {
	return fmt.Sprintf("rx=%d tx=%d", rx, tx)
}
