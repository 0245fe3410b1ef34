// Command keyescrow runs the Key Escrow Service (§4.8) as a standalone
// binary, independent of any mesh node. Grounded on the
// github.com/urfave/cli/v2 entrypoint style carried from the
// elnosh-lightning-onion-routing manifest in the example pack.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/meshnode/meshnode/escrow"
)

func main() {
	app := &cli.App{
		Name:  "keyescrow",
		Usage: "run the Key Escrow Service",
		Commands: []*cli.Command{
			serveCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "keyescrow:", err)
		os.Exit(1)
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "start the escrow HTTP service",
		Action: func(c *cli.Context) error {
			return runServe()
		},
	}
}

func runServe() error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("keyescrow: build logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := escrow.LoadConfig()
	if err != nil {
		return fmt.Errorf("keyescrow: load config: %w", err)
	}

	if len(cfg.Tokens) == 0 {
		logger.Warn("escrow running in open mode: no bearer tokens configured")
	}

	db, err := gorm.Open(sqlite.Open(cfg.DSN), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("keyescrow: open database: %w", err)
	}

	store, err := escrow.NewStore(db, cfg.MasterKey)
	if err != nil {
		return fmt.Errorf("keyescrow: build store: %w", err)
	}

	server := escrow.NewServer(cfg.ListenAddr, store, cfg.Tokens, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("escrow listening", zap.String("addr", cfg.ListenAddr), zap.Bool("tls", !cfg.PlaintextDev))
		var err error
		if cfg.PlaintextDev {
			err = server.ListenAndServe()
		} else {
			err = server.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(drainCtx)
	case err := <-errCh:
		return err
	}
}
