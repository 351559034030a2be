package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/controlcash/cashmail/auth"
	"github.com/controlcash/cashmail/config"
	"github.com/controlcash/cashmail/credential"
	"github.com/controlcash/cashmail/gmail"
	"github.com/controlcash/cashmail/invoice"
	"github.com/controlcash/cashmail/store"
	"github.com/controlcash/cashmail/tui"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "cashmail: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := config.DefaultConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	// First run: materialize the defaults so the user has a file to edit.
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.Save(cfgPath, cfg); err != nil {
			return err
		}
	}

	logger, err := newLogger(cfg.LogPath)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Sync()

	creds, err := credential.Open(filepath.Join(filepath.Dir(cfgPath), "credentials"))
	if err != nil {
		return err
	}

	db, err := store.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	staged, err := db.CountRecords(context.Background())
	if err != nil {
		return err
	}
	logger.Info("cashmail starting", zap.Int("staged_records", staged))

	authMgr := auth.NewManager(cfg.OAuth, creds, logger)
	client := gmail.NewClient(authMgr, logger)
	extractor := invoice.NewExtractor(cfg.Extraction.DefaultCurrency)
	scanner := invoice.NewScanner(authMgr, client, extractor, cfg.Extraction.MaxMessages, logger)

	app := tui.NewApp(cfg, authMgr, scanner, client, db, logger)
	if err := app.Run(); err != nil {
		return fmt.Errorf("running ui: %w", err)
	}
	logger.Info("cashmail stopped")
	return nil
}

// newLogger writes structured logs to a file. Stdout belongs to the
// terminal UI, so nothing may log there.
func newLogger(path string) (*zap.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	zcfg.OutputPaths = []string{path}
	zcfg.ErrorOutputPaths = []string{path}
	return zcfg.Build()
}
