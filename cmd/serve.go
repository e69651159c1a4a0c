package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/isochrone-cli/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the isochrone HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		env, err := initCalculator(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		metrics, err := server.NewMetrics(nil)
		if err != nil {
			return err
		}

		opts := []server.Option{
			server.WithMetrics(metrics),
			server.WithTimeout(cfg.Server.RequestTimeout),
			server.WithCORSOrigins(cfg.Server.CORSOrigins),
		}
		if env.Cache != nil {
			opts = append(opts, server.WithCache(env.Cache))
		}
		api := server.New(env.Calc, server.Defaults{
			SpeedKMH: cfg.Isochrone.SpeedKMH,
			Mode:     defaultMode(),
		}, opts...)

		port := cfg.Server.Port
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           api.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port), zap.String("network_driver", cfg.Network.Driver))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
