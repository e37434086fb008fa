package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/challenger/httpapi"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the price loop, watchdog sweep and HTTP API",
	Long: `Start the engine and serve it over HTTP until interrupted.

The price cache refreshes the watchlist in the background, the watchdog
sweeps every active challenge on its interval, and the API listens on
server.addr (or --addr).

Example:
  challenger serve --config challenger.yaml --addr :9090`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var serveAddr string

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	a.Start(ctx)

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	api := httpapi.New(a.Desk, a.Watchdog, a.Stores.Challenges, a.Prices,
		httpapi.WithMetrics(a.Metrics),
		httpapi.WithStreamInterval(cfg.Server.StreamIntervalDuration()),
	)
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logrus.WithField("addr", addr).Info("http api listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logrus.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
