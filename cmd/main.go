package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/blocbill/blocbill/internal/billing"
	"github.com/blocbill/blocbill/internal/config"
	"github.com/blocbill/blocbill/internal/dictionary"
	httpapi "github.com/blocbill/blocbill/internal/httpapi/v1"
	"github.com/blocbill/blocbill/internal/storage/memory"
	pgstore "github.com/blocbill/blocbill/internal/storage/postgres"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	logger := buildLogger(cfg)
	slog.SetDefault(logger)

	var srvMux http.Handler
	var closeFn func()

	if dsn := strings.TrimSpace(cfg.DatabaseURL); dsn != "" {
		pg, err := pgstore.Open(ctx, dsn)
		if err != nil {
			logger.Error("failed to connect to postgres", "err", err)
			os.Exit(1)
		}
		closeFn = func() { pg.Close() }
		if cfg.DevSeed {
			assocID, apts, err := pg.SeedDev(ctx)
			if err != nil {
				logger.Error("dev seed failed", "err", err)
			} else {
				logDevSeed(logger, "postgres", assocID, apts)
			}
		}
		srvMux = httpapi.New(pg, pg, pg, pg, pg, nil, logger).Handler()
		logger.Info("storage backend: postgres")
	} else {
		store := memory.New()
		if cfg.DevSeed {
			assocID, apts := seedMemory(store)
			logDevSeed(logger, "memory", assocID, apts)
		}
		srvMux = httpapi.New(store, store, store, store, store, nil, logger).Handler()
		logger.Info("storage backend: memory")
	}

	srv := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           srvMux,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: cfg.AppReadTimeout,
		WriteTimeout:      cfg.AppWriteTimeout,
		IdleTimeout:       cfg.AppIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("billing service listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		ctxShutdown, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctxShutdown); err != nil {
			logger.Error("server shutdown error", "err", err)
		}
	case err := <-errCh:
		logger.Error("server error", "err", err)
	}
	if closeFn != nil {
		closeFn()
	}
}

// seedMemory populates a small demo association for local runs.
func seedMemory(store *memory.Store) (uuid.UUID, []billing.Apartment) {
	assocID := uuid.New()
	block := billing.Block{ID: uuid.New(), AssociationID: assocID, Name: "Bloc A"}
	store.SeedBlock(block)
	apts := make([]billing.Apartment, 0, 4)
	for i := 1; i <= 4; i++ {
		apt := billing.Apartment{
			ID:            uuid.New(),
			AssociationID: assocID,
			BlockID:       block.ID,
			Number:        i,
			Owner:         "Proprietar",
			Persons:       2,
			Surface:       55,
			CotaParte:     25,
		}
		store.SeedApartment(apt)
		apts = append(apts, apt)
	}
	for _, def := range dictionary.Standard() {
		typeID := uuid.New()
		store.SeedExpenseType(billing.ExpenseType{ID: typeID, Name: def.Name, DefaultDistribution: def.Distribution})
		cfg := billing.ExpenseConfig{
			ExpenseTypeID:    typeID,
			Name:             def.Name,
			DistributionType: def.Distribution,
			ReceptionMode:    billing.ReceptionTotal,
			ConsumptionUnit:  def.ConsumptionUnit,
			DifferenceDistribution: billing.DifferenceDistribution{
				Method:                         billing.DifferenceMethodApartment,
				AdjustmentMode:                 billing.AdjustmentNone,
				IncludeFixedAmountInDifference: true,
			},
		}
		if def.Metered {
			cfg.IndexConfiguration = billing.IndexConfiguration{
				Enabled:    true,
				InputMode:  billing.InputIndexes,
				IndexTypes: []billing.IndexType{{ID: uuid.New(), Name: def.Name}},
			}
		}
		_, _ = store.SaveExpenseConfig(context.Background(), assocID, cfg)
	}
	return assocID, apts
}

// logDevSeed emits structured logs with useful IDs
func logDevSeed(l *slog.Logger, backend string, assocID uuid.UUID, apts []billing.Apartment) {
	ids := make([]string, 0, len(apts))
	for _, apt := range apts {
		ids = append(ids, apt.ID.String())
	}
	l.Info("DEV seed ("+backend+")", "association_id", assocID.String(), "apartment_ids", ids)
}

// parseLogLevel maps env values to slog.Leveler
func parseLogLevel(s string) slog.Leveler {
	switch s {
	case "DEBUG", "debug":
		return slog.LevelDebug
	case "WARN", "WARNING", "warn", "warning":
		return slog.LevelWarn
	case "ERROR", "ERR", "error", "err":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func buildLogger(cfg *config.Config) *slog.Logger {
	level := parseLogLevel(cfg.LogLevel)
	if strings.ToLower(strings.TrimSpace(cfg.LogFormat)) == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	}
	// default to JSON
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
