package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/entrhq/capture/pkg/cookies"
	"github.com/entrhq/capture/pkg/gateway"
	"github.com/entrhq/capture/pkg/logging"
	"github.com/entrhq/capture/pkg/metrics"
	"github.com/entrhq/capture/pkg/session"
	"github.com/spf13/cobra"
)

var (
	listenAddr string
	handoffDir string
	lazyCreate bool

	allowOrigins []string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the command gateway",
	Long: `Serve the capture session over HTTP and WebSocket.

  GET  /ws                 commands in, responses and session events out
  POST /v1/commands/:name  one command, one response
  GET  /healthz            liveness
  GET  /metrics            Prometheus metrics

Browser pages are refused unless their origin is listed in
server.allowed_origins (or --allow-origin). Command POSTs must be JSON.

The session is created by the "create" command (or the first "navigate"
when lazy creation is on) and lives until "destroy" or shutdown.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address (default 127.0.0.1:7788)")
	serveCmd.Flags().StringVar(&handoffDir, "handoff-dir", "", "Directory for handoff cookie files")
	serveCmd.Flags().StringSliceVar(&allowOrigins, "allow-origin", nil, "Browser origin allowed to call the gateway (repeatable)")
	serveCmd.Flags().BoolVar(&lazyCreate, "lazy-create", false, "Create the session on the first navigate")
}

func runServe(cmd *cobra.Command, args []string) error {
	s, err := loadSettings(configPath, flagOverrides(cmd.Flags()))
	if err != nil {
		return err
	}
	logging.SetLevel(s.logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := newLogger("captured")
	defer log.Close()

	eng, err := newEngine(s.driver, log.With(s.driver))
	if err != nil {
		return err
	}
	defer func() {
		if err := eng.Close(); err != nil {
			log.Warnf("engine close failed: %v", err)
		}
	}()

	m := metrics.New()
	ctrl, err := session.NewController(eng, s.session,
		session.WithLogger(log.With("controller")),
		session.WithMetrics(m),
	)
	if err != nil {
		return err
	}

	exporter := cookies.NewExporter(ctrl, log.With("cookies"), m)
	gw := gateway.New(ctrl, exporter, s.gateway,
		gateway.WithLogger(log.With("gateway")),
		gateway.WithMetrics(m),
	)
	srv := gateway.NewServer(gw, log.With("server"), m)

	fmt.Fprintf(cmd.OutOrStdout(), "captured v%s listening on %s (driver %s)\n", version, s.listenAddr, s.driver)
	runErr := srv.Run(ctx, s.listenAddr)

	// Closing the controller ends the event stream and every WebSocket client.
	if err := ctrl.Close(); err != nil {
		log.Warnf("controller close failed: %v", err)
	}
	<-srv.Done()

	if runErr != nil {
		return fmt.Errorf("gateway server: %w", runErr)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "shut down")
	return nil
}
