// Command srpoc-kernel is the symbolic and numeric engine behind srpoc.
//
// By default it reads line-delimited JSON requests on stdin and answers on
// stdout; logs go to stderr. "srpoc-kernel serve" exposes the same tools over
// HTTP:
//
//	POST /tool    execute a tool call
//	GET  /schema  tool schema
//	GET  /health  liveness and bound names
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/njchilds90/srpoc/internal/config"
	"github.com/njchilds90/srpoc/internal/kernel"
	"github.com/njchilds90/srpoc/internal/logging"
)

var (
	verbose   bool
	logFormat string
	port      int
	logger    *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "srpoc-kernel",
	Short:         "Serve the srpoc symbolic/numeric kernel on stdin/stdout",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.New(config.LoggingConfig{Level: "warn", Format: logFormat}, verbose)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		err := kernel.New(logger).Serve(ctx, os.Stdin, os.Stdout)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the kernel tools over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv := kernel.NewHTTPServer(fmt.Sprintf(":%d", port), kernel.New(logger))
		errc := make(chan error, 1)
		go func() { errc <- srv.ListenAndServe() }()
		logger.Info("kernel listening", zap.String("addr", srv.Addr))

		select {
		case err := <-errc:
			return err
		case <-ctx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "Log encoding: console or json")
	serveCmd.Flags().IntVar(&port, "port", 8080, "Port to listen on")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
