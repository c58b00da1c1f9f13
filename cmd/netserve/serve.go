package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cyberinferno/go-netserve/logger"
	"github.com/cyberinferno/go-netserve/presence"
	"github.com/cyberinferno/go-netserve/server"
	"github.com/cyberinferno/go-netserve/session"
	"github.com/cyberinferno/go-netserve/tcpserver"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

type serveOptions struct {
	addr            string
	name            string
	metricsAddr     string
	redisAddr       string
	presenceTTL     time.Duration
	duplicatePolicy string
	assignIDs       bool
	sendQueue       int
	maxFrameSize    int
	idleTimeout     time.Duration
}

func serveCmd() *cobra.Command {
	opts := serveOptions{}
	defaults := tcpserver.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the demo server",
		Long: `Run the demo server until interrupted.

Sessions are tracked in memory, or in Redis when --redis-addr is set.
Prometheus metrics and a health check are served on --metrics-addr.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runServe(ctx, opts, log)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.addr, "addr", "a", ":9000", "TCP listen address")
	f.StringVar(&opts.name, "name", defaults.Name, "Server name used in logs, metrics and presence records")
	f.StringVar(&opts.metricsAddr, "metrics-addr", ":9101", "HTTP address for /metrics and /health; empty disables it")
	f.StringVar(&opts.redisAddr, "redis-addr", "", "Redis address for shared presence; empty keeps presence in memory")
	f.DurationVar(&opts.presenceTTL, "presence-ttl", 10*time.Minute, "Presence record lifetime without keepalive")
	f.StringVar(&opts.duplicatePolicy, "duplicate-policy", session.EvictExisting.String(), "What to do when a session id connects twice (evict-existing, reject-new)")
	f.BoolVar(&opts.assignIDs, "assign-ids", false, "Assign ids to clients that connect with id 0")
	f.IntVar(&opts.sendQueue, "send-queue", defaults.SendQueueSize, "Send queue depth")
	f.IntVar(&opts.maxFrameSize, "max-frame-size", defaults.MaxFrameSize, "Largest accepted frame body in bytes")
	f.DurationVar(&opts.idleTimeout, "idle-timeout", 0, "Close sessions idle for this long; 0 disables")

	return cmd
}

func runServe(ctx context.Context, opts serveOptions, log logger.Logger) error {
	policy, err := session.ParseDuplicatePolicy(opts.duplicatePolicy)
	if err != nil {
		return err
	}

	tracker, closeTracker, err := newTracker(ctx, opts)
	if err != nil {
		return err
	}
	defer closeTracker()

	metrics, err := tcpserver.NewPrometheusMetrics(prometheus.DefaultRegisterer, "netserve", opts.name)
	if err != nil {
		return err
	}

	var srv *server.Server[any]
	registry, err := buildRegistry(log, func() broadcaster { return srv })
	if err != nil {
		return fmt.Errorf("build handler registry: %w", err)
	}

	cfg := tcpserver.DefaultConfig()
	cfg.Name = opts.name
	cfg.DuplicatePolicy = policy
	cfg.AssignSessionIDs = opts.assignIDs
	cfg.SendQueueSize = opts.sendQueue
	cfg.MaxFrameSize = opts.maxFrameSize
	cfg.IdleTimeout = opts.idleTimeout
	cfg.StrictRegistry = true

	engine := tcpserver.New[any](cfg, registry,
		tcpserver.WithLogger(log),
		tcpserver.WithMetrics(metrics),
		tcpserver.WithPresence(tracker),
		tcpserver.WithSessionOpened(func(s *session.Session) {
			srv.Send(s.ID(), newHello(opts.name))
		}),
	)

	srvCfg := server.DefaultConfig(opts.addr)
	srvCfg.Name = opts.name
	srv = server.New(srvCfg, engine, log)

	if err := srv.Start(ctx); err != nil {
		return err
	}

	var httpSrv *http.Server
	if opts.metricsAddr != "" {
		httpSrv = newMetricsServer(opts.metricsAddr, srv)
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", logger.Err(err))
			}
		}()
	}

	<-ctx.Done()
	log.Info("shutting down")

	if httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}

	return srv.Stop()
}

func newTracker(ctx context.Context, opts serveOptions) (presence.Tracker, func(), error) {
	if opts.redisAddr == "" {
		return presence.NewMemoryTracker(opts.presenceTTL, time.Minute), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: opts.redisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect to redis at %s: %w", opts.redisAddr, err)
	}

	conf := presence.DefaultRedisConfig()
	conf.Prefix = presence.DefaultRedisPrefix + ":" + opts.name
	conf.TTL = opts.presenceTTL

	return presence.NewRedisTracker(client, conf), func() { _ = client.Close() }, nil
}

func newMetricsServer(addr string, srv *server.Server[any]) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if !srv.IsRunning() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
	})

	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}
