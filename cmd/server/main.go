package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/fastprodman/moneyexchange/internal/admin"
	"github.com/fastprodman/moneyexchange/internal/auth"
	"github.com/fastprodman/moneyexchange/internal/catalog"
	"github.com/fastprodman/moneyexchange/internal/infra/logging"
	"github.com/fastprodman/moneyexchange/internal/keystore"
	"github.com/fastprodman/moneyexchange/internal/ledger"
	"github.com/fastprodman/moneyexchange/internal/server"
	"github.com/fastprodman/moneyexchange/pkg/shutdownqueue"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error running server: %v\n", err)
		//nolint:gocritic
		os.Exit(1)
	}
}

func run(ctx context.Context) (retErr error) {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := new(serverConfig)

	err := envconfig.Process("", cfg)
	if err != nil {
		return fmt.Errorf("init config: %w", err)
	}

	logging.SetupJSON(cfg.LogLevel)

	figure.NewColorFigure("MoneyExchange", "puffy", "green", true).Print()

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		serr := shutdownqueue.Shutdown(shutdownCtx)
		if serr != nil {
			retErr = errors.Join(retErr, serr)
		}
	}()

	// --- Identity ---
	identity, err := keystore.Load(cfg.KeystorePath, cfg.KeystorePassword)
	if err != nil {
		return fmt.Errorf("load keystore: %w", err)
	}

	// --- Catalogs ---
	store := catalog.NewStore(cfg.DataDir, cfg.CipherPassword)

	if err := store.EnsureLayout(); err != nil {
		return fmt.Errorf("prepare data dir: %w", err)
	}

	certs := auth.NewCertStore(cfg.certIndexPath(), cfg.certDir())
	if err := certs.Ensure(); err != nil {
		return fmt.Errorf("prepare certificate store: %w", err)
	}

	if err := store.LoadAll(); err != nil {
		return fmt.Errorf("load catalogs: %w", err)
	}

	// --- Ledger: replay and verify the whole chain before serving ---
	led, err := ledger.Open(cfg.ledgerDir(), identity.PrivateKey, identity.Public(), certs.PublicKey)
	if err != nil {
		return fmt.Errorf("ledger integrity check failed, refusing to start: %w", err)
	}

	// --- Connection server ---
	srv := server.New(fmt.Sprintf(":%d", cfg.Port), identity, store, led, auth.NewRegistry(), certs)

	if err := srv.Listen(); err != nil {
		return fmt.Errorf("start listener: %w", err)
	}

	shutdownqueue.Add(func(context.Context) error {
		slog.Info("Shut down server")

		return srv.Close()
	})

	// --- Admin HTTP (optional) ---
	if cfg.AdminAddr != "" {
		startAdmin(cfg.AdminAddr, led)
	}

	// Run accept loop
	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.Serve()
	}()

	slog.Info("MoneyExchange server started", "port", cfg.Port)

	// --- Wait until either context cancels or server errors out ---
	select {
	case <-ctx.Done():
		// graceful path; deferred shutdownqueue.Shutdown will run
		return nil
	case serr := <-errCh:
		if serr != nil {
			return fmt.Errorf("server error: %w", serr)
		}

		return nil
	}
}

func startAdmin(addr string, led *ledger.Ledger) {
	adminSrv := &http.Server{
		Addr:              addr,
		Handler:           admin.NewRouter(led),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdownqueue.Add(func(c context.Context) error {
		slog.Info("Shut down admin server")

		err := adminSrv.Shutdown(c)
		if err != nil {
			return fmt.Errorf("shutdown admin srv: %w", err)
		}

		return nil
	})

	go func() {
		err := adminSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("admin server error", "err", err)
		}
	}()

	slog.Info("admin server started", "addr", addr)
}
