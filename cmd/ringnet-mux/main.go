// Command ringnet-mux runs a multiplexed RUDP server with a small set of
// illustrative handlers (echo and broadcast) registered on fixed mux keys,
// using a cobra/viper/zap CLI stack for flags, config, and logging.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ringnet-io/ringnet/pkg/duration"
	"github.com/ringnet-io/ringnet/pkg/loopctl"
	"github.com/ringnet-io/ringnet/pkg/mux"
	"github.com/ringnet-io/ringnet/pkg/pprof"
	"github.com/ringnet-io/ringnet/pkg/rconf"
	"github.com/ringnet-io/ringnet/pkg/retry"
	"github.com/ringnet-io/ringnet/pkg/rid"
	"github.com/ringnet-io/ringnet/pkg/rlog"
	"github.com/ringnet-io/ringnet/pkg/safe"
	"github.com/ringnet-io/ringnet/pkg/shutdown"
	"github.com/ringnet-io/ringnet/pkg/telemetry"
	"github.com/ringnet-io/ringnet/pkg/version"
)

// muxConfig is the shape rconf.Load unmarshals config.toml into.
type muxConfig struct {
	Mux struct {
		BindAddr       string `mapstructure:"bind_addr"`
		WindowSize     int    `mapstructure:"window_size"`
		SendRingCap    int    `mapstructure:"send_ring_cap"`
		ClientTimeout  string `mapstructure:"client_timeout"`
		CongestionMin  int    `mapstructure:"congestion_min"`
		CongestionInit int    `mapstructure:"congestion_init"`
		CongestionMax  int    `mapstructure:"congestion_max"`
	} `mapstructure:"mux"`
	Telemetry struct {
		Enable bool   `mapstructure:"enable"`
		Addr   string `mapstructure:"addr"`
	} `mapstructure:"telemetry"`
	Pprof struct {
		Enable bool `mapstructure:"enable"`
		Port   int  `mapstructure:"port"`
	} `mapstructure:"pprof"`
}

var (
	confDir  string
	bindAddr string
)

func main() {
	root := &cobra.Command{
		Use:   "ringnet-mux",
		Short: "Run a multiplexed RUDP server with example echo/broadcast handlers",
	}
	root.AddCommand(version.VersionCmd)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start the mux server",
		RunE:  runMux,
	}
	runCmd.Flags().StringVar(&confDir, "conf-dir", ".", "directory containing config.toml")
	runCmd.Flags().StringVar(&bindAddr, "bind", "", "override mux.bind_addr from config")
	root.AddCommand(runCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// echoBroadcastHandler is the illustrative handler registered on two mux
// keys: 1 echoes every message back to its sender, 2 broadcasts every
// message it receives to every client under the same key, the sender
// included.
type echoBroadcastHandler struct {
	muxKey   uint32
	server   *mux.Server
	echo     bool
	sessions map[string]string // addr -> correlation id, log-only
}

func newHandler(muxKey uint32, server *mux.Server, echo bool) *echoBroadcastHandler {
	return &echoBroadcastHandler{muxKey: muxKey, server: server, echo: echo, sessions: map[string]string{}}
}

func (h *echoBroadcastHandler) OnConnect(addr *net.UDPAddr) {
	id := rid.New()
	h.sessions[addr.String()] = id
	rlog.Infow("client connected", "mux_key", h.muxKey, "addr", addr.String(), "conn_id", id)
}

func (h *echoBroadcastHandler) OnMessage(addr *net.UDPAddr, data []byte) {
	rlog.Debugw("message", "mux_key", h.muxKey, "addr", addr.String(), "bytes", len(data))
	if h.echo {
		_ = h.server.Send(addr, data)
		return
	}
	h.server.Broadcast(h.muxKey, data)
}

func (h *echoBroadcastHandler) OnDisconnect(addr *net.UDPAddr) {
	id := h.sessions[addr.String()]
	delete(h.sessions, addr.String())
	rlog.Infow("client disconnected", "mux_key", h.muxKey, "addr", addr.String(), "conn_id", id)
}

const (
	muxKeyEcho      = 1
	muxKeyBroadcast = 2
)

func runMux(cmd *cobra.Command, args []string) error {
	rlog.MustInit(rlog.SetDefaults())
	defer func() { _ = rlog.Sync() }()

	var cfg muxConfig
	if err := rconf.Load(confDir, &cfg); err != nil {
		rlog.Warnw("no config file found, using defaults", "error", err)
	}
	if bindAddr != "" {
		cfg.Mux.BindAddr = bindAddr
	}
	if cfg.Mux.BindAddr == "" {
		cfg.Mux.BindAddr = "0.0.0.0:7354"
	}

	clientTimeout := 30 * time.Second
	if cfg.Mux.ClientTimeout != "" {
		if d, err := duration.Parse(cfg.Mux.ClientTimeout); err == nil {
			clientTimeout = d
		} else {
			rlog.Warnw("invalid client_timeout, using default", "value", cfg.Mux.ClientTimeout, "error", err)
		}
	}

	var metrics *telemetry.Metrics
	if cfg.Telemetry.Enable {
		metrics = telemetry.New("mux")
		addr := cfg.Telemetry.Addr
		if addr == "" {
			addr = "0.0.0.0:9464"
		}
		telemetry.NewServer(addr, metrics).Start()
	}

	if cfg.Pprof.Enable {
		srv := pprof.NewServer(pprof.Config{Enable: true, Port: cfg.Pprof.Port})
		_ = srv.Start()
	}

	var server *mux.Server
	bindErr := retry.Do(context.Background(), func(ctx context.Context) error {
		var err error
		server, err = mux.NewServer(mux.Config{
			BindAddr:       cfg.Mux.BindAddr,
			WindowSize:     cfg.Mux.WindowSize,
			SendRingCap:    uint64(cfg.Mux.SendRingCap),
			ClientTimeout:  clientTimeout,
			CongestionMin:  uint32(cfg.Mux.CongestionMin),
			CongestionInit: uint32(cfg.Mux.CongestionInit),
			CongestionMax:  uint32(cfg.Mux.CongestionMax),
			Metrics:        metrics,
		})
		return err
	}, retry.WithMaxAttempts(5), retry.WithBackoff(retry.Exponential(100*time.Millisecond, 2*time.Second)))
	if bindErr != nil {
		rlog.Errorw("failed to bind mux server", "error", errors.Wrap(bindErr, "bind mux server"))
		os.Exit(2)
	}
	defer server.Close()

	server.Register(muxKeyEcho, newHandler(muxKeyEcho, server, true))
	server.Register(muxKeyBroadcast, newHandler(muxKeyBroadcast, server, false))

	rlog.Infow("ringnet-mux started", "addr", server.LocalAddr().String(), "version", version.Version)

	mgr := shutdown.NewManager()
	installSignalHandler(mgr)

	loop := loopctl.New(loopctl.WithInterval(5*time.Millisecond), loopctl.WithDeclineRatio(1.5), loopctl.WithDeclineLimit(50*time.Millisecond))

	// eg runs the poll loop alongside a watcher that cancels egCtx once the
	// shutdown manager fires, joining both goroutines on the first failure
	// or the first cancellation, whichever comes first.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		select {
		case <-mgr.Wait():
		case <-egCtx.Done():
		}
		cancel()
		return nil
	})
	eg.Go(func() error {
		var ticks int
		var loopErr error
		safe.Do(func() {
			loopErr = loop.Do(func() (abort bool, err error) {
				select {
				case <-egCtx.Done():
					return true, nil
				default:
				}
				before := server.ClientCount()
				if err := server.Poll(); err != nil {
					return false, err
				}
				ticks++
				if ticks%200 == 0 {
					server.Tick()
					if metrics != nil {
						rlog.Infow("stats", append([]any{"clients", server.ClientCount()}, metricsFields(metrics)...)...)
					}
				}
				if server.ClientCount() == before && ticks%50 != 0 {
					return false, errIdle
				}
				return false, nil
			})
		})
		return loopErr
	})

	if err := eg.Wait(); err != nil {
		rlog.Errorw("mux server stopped with error", "error", err)
	}
	rlog.Infow("shutting down")
	return nil
}

var errIdle = fmt.Errorf("idle poll cycle")

func metricsFields(m *telemetry.Metrics) []any {
	return []any{"summary", m.String()}
}
