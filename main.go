package main

import (
	"log"
	"net/http"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"squadlet-go/internal/api"
	"squadlet-go/internal/ledger"
	"squadlet-go/internal/multisig"
)

func main() {
	cfg, err := api.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	programID, err := solana.PublicKeyFromBase58(cfg.ProgramID)
	if err != nil {
		logger.Fatal("invalid program id", zap.String("programId", cfg.ProgramID), zap.Error(err))
	}

	var store ledger.Store
	if cfg.DBPath != "" {
		store, err = ledger.NewSQLiteStore(cfg.DBPath)
		if err != nil {
			logger.Fatal("failed to open ledger db", zap.String("path", cfg.DBPath), zap.Error(err))
		}
		logger.Info("using sqlite ledger", zap.String("path", cfg.DBPath))
	} else {
		store = ledger.NewMemoryStore()
		logger.Info("using in-memory ledger")
	}
	defer store.Close()

	engine := multisig.New(programID, store)
	server := api.NewServer(engine, store, logger)

	logger.Info("listening",
		zap.String("addr", cfg.ListenAddr),
		zap.String("programId", programID.String()),
	)
	if err := http.ListenAndServe(cfg.ListenAddr, server.Router()); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
