package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/catalogd/internal/announce"
	"github.com/dreamware/catalogd/internal/catalog"
	"github.com/dreamware/catalogd/internal/cluster"
	"github.com/dreamware/catalogd/internal/config"
	"github.com/dreamware/catalogd/internal/connector"
	"github.com/dreamware/catalogd/internal/logging"
	"github.com/dreamware/catalogd/internal/membership"
	"github.com/dreamware/catalogd/internal/server"
	"github.com/dreamware/catalogd/internal/storage"
)

const (
	registerAttempts = 10
	registerDelay    = 400 * time.Millisecond
	shutdownTimeout  = 5 * time.Second
)

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a catalogd node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath, nil)
			if err != nil {
				return err
			}
			if err := config.ApplyFlags(cmd.Flags(), &cfg); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			log, err := logging.New(cfg.Log.Level, cfg.Log.Development)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, log, cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "TOML configuration file")
	config.RegisterFlags(cmd.Flags())
	return cmd
}

// serve runs a node until ctx is canceled.
//
// A coordinator whose discovery URI is its own URI is the discovery
// server: it owns the membership registry, health-checks peers and
// collects announcements. Every other node, including additional
// coordinators, registers with the discovery server and follows its
// membership through a RemoteView.
//
// On shutdown a registered node reports SHUTTING_DOWN before the HTTP
// server drains, so coordinators visit it last from then on.
func serve(ctx context.Context, log *zap.Logger, cfg config.Config) (err error) {
	self := cfg.Self()
	discovery := cfg.DiscoveryURI()
	isDiscovery := cfg.Node.Coordinator && discovery == self.URI
	client := cluster.NewClient(cfg.Broadcast.PeerTimeout.Duration)

	var store storage.Store = storage.NewMemoryStore()
	if cfg.Catalog.Dir != "" {
		fs, err := storage.NewFileStore(cfg.Catalog.Dir)
		if err != nil {
			return err
		}
		store = fs
	}
	registry := connector.NewRegistry(log, store, cfg.Catalog.StrictDrop, connector.Builtin()...)
	defer func() { err = multierr.Append(err, registry.Close()) }()
	if err := registry.Load(); err != nil {
		log.Warn("some catalogs failed to load", zap.Error(err))
	}

	var (
		view      membership.View
		members   *membership.Registry
		remote    *membership.RemoteView
		directory *announce.Directory
		monitor   *membership.HealthMonitor
		publisher announce.Publisher
	)
	if isDiscovery {
		members = membership.NewRegistry(log, self)
		directory = announce.NewDirectory()
		view, publisher = members, directory
		monitor = membership.NewHealthMonitor(log, cfg.Health.Interval.Duration, cfg.Broadcast.PeerTimeout.Duration, cfg.Health.MaxFailures)
		monitor.SetOnHealthy(members.MarkHealthy)
		monitor.SetOnUnhealthy(func(id string) {
			members.MarkUnhealthy(id)
			if _, ok := members.Get(id); !ok {
				directory.Remove(id)
			}
		})
	} else {
		remote = membership.NewRemoteView(log, client, discovery, self, cfg.Membership.Refresh.Duration)
		view, publisher = remote, announce.NewHTTPPublisher(client, discovery)
	}

	announcer := announce.NewAnnouncer(log, self.Identifier, publisher, cfg.Announce.Interval.Duration, cfg.Broadcast.PeerTimeout.Duration)
	announcer.AddRecord(announce.Record{
		Type: announce.ServiceType,
		Properties: map[string]string{
			announce.ConnectorIDsProperty: announce.JoinIdentifiers(registry.List()),
			"http":                        self.URI,
			"coordinator":                 strconv.FormatBool(self.Coordinator),
		},
	})
	updater := announce.NewUpdater(log, announcer, announce.ServiceType)

	broadcaster := catalog.NewBroadcaster(log, catalog.NewHTTPPeerClient(client), cfg.Broadcast.PeerTimeout.Duration, cfg.Broadcast.Concurrency)
	controller := catalog.NewController(log, view, registry, updater, broadcaster, catalog.NewReconciliationLog(cfg.Broadcast.History))

	httpSrv := &http.Server{
		Addr:              cfg.Node.Listen,
		Handler: server.New(server.Options{
			Log:         log,
			Controller:  controller,
			Connectors:  registry,
			Identifiers: updater,
			Members:     members,
			Directory:   directory,
			Health:      monitor,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	registered := make(chan struct{})

	g.Go(func() error {
		log.Info("catalogd listening",
			zap.String("node", self.Identifier),
			zap.String("listen", cfg.Node.Listen),
			zap.String("uri", self.URI),
			zap.Bool("coordinator", self.Coordinator),
			zap.String("discovery", discovery))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})

	g.Go(func() error {
		announcer.Run(gctx)
		return nil
	})

	if isDiscovery {
		g.Go(func() error {
			monitor.Start(gctx, members.Peers)
			return nil
		})
	} else {
		g.Go(func() error {
			if err := membership.Register(gctx, log, client, discovery, self, registerAttempts, registerDelay); err != nil {
				return err
			}
			close(registered)
			remote.Run(gctx)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()

		select {
		case <-registered:
			if err := membership.ReportState(shutdownCtx, client, discovery, self.Identifier, cluster.NodeStateShuttingDown); err != nil {
				log.Warn("failed to report shutdown", zap.Error(err))
			}
		default:
		}
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown", zap.Error(err))
		}
		log.Info("catalogd stopped", zap.String("node", self.Identifier))
		return nil
	})

	return g.Wait()
}
