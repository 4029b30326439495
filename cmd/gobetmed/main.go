package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mart1n-xyz/gobetme/config"
	"github.com/mart1n-xyz/gobetme/core/events"
	"github.com/mart1n-xyz/gobetme/core/ledger"
	"github.com/mart1n-xyz/gobetme/native/campaign"
	"github.com/mart1n-xyz/gobetme/observability/logging"
	"github.com/mart1n-xyz/gobetme/rpc"
	"github.com/mart1n-xyz/gobetme/state"
	"github.com/mart1n-xyz/gobetme/storage"
)

func main() {
	configPath := flag.String("config", "./config.toml", "path to the daemon configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		os.Exit(fatal("load config", err))
	}
	log := logging.Setup("gobetmed", cfg.ServiceEnv)

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		os.Exit(fatal("open database", err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("close database", "err", err)
		}
	}()

	store := state.NewStore(db)
	vault := ledger.NewVault(store)
	recorder := events.NewRecorder()

	engine := campaign.NewEngine()
	engine.SetState(store)
	engine.SetLedger(vault)
	engine.SetEmitter(recorder)

	server := rpc.NewServer(engine, vault, recorder, cfg.AuthToken(), log)
	httpServer := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("rpc server listening", "addr", cfg.RPCAddress, "token", cfg.TokenSymbol)
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			log.Error("shutdown", "err", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			os.Exit(fatal("rpc server", err))
		}
	}
}

func fatal(msg string, err error) int {
	// slog may not be configured yet when config loading fails.
	os.Stderr.WriteString(msg + ": " + err.Error() + "\n")
	return 1
}
