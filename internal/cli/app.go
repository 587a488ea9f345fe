package cli

import (
	"fmt"
	"io"
	"log"
	"strings"

	"fieldsync/internal/client"
	"fieldsync/internal/config"
	"fieldsync/internal/logging"
	"fieldsync/internal/repository"
	"fieldsync/internal/service"

	"github.com/spf13/afero"
)

// app is the wired device agent for one command invocation.
type app struct {
	cfg     *config.DeviceConfig
	fs      afero.Fs
	logger  *log.Logger
	db      *repository.DB
	records repository.RecordRepository
	media   repository.MediaRepository
	remote  *client.Client
	logFile io.Closer
}

func openApp(opts *RootOptions, stderr io.Writer) (*app, error) {
	cfg, err := config.LoadDevice(opts.Viper)
	if err != nil {
		return nil, err
	}

	logOut, logFile := logging.Writer(stderr, logging.Options{
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogBackups,
	})

	db, err := repository.OpenDB(cfg.DatabasePath())
	if err != nil {
		logFile.Close()
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		fs:      opts.Fs,
		logger:  logging.New("[sync] ", logOut),
		db:      db,
		records: repository.NewRecordRepository(db, cfg.UserContext(), cfg.PageSize),
		media:   repository.NewMediaRepository(opts.Fs, cfg.MediaDir()),
		remote:  client.New(cfg.ServerURL, cfg.HTTPTimeout, cfg.DeviceID),
		logFile: logFile,
	}

	token := cfg.Token
	if token == "" {
		token, err = a.loadToken()
		if err != nil {
			a.Close()
			return nil, err
		}
	}
	a.remote.SetToken(token)
	return a, nil
}

func (a *app) Close() error {
	err := a.db.Close()
	a.logFile.Close()
	return err
}

func (a *app) syncService() *service.SyncService {
	return service.NewSyncService(a.records, a.media, a.remote, a.cfg.UserContext(), a.logger)
}

func (a *app) batchService() *service.BatchService {
	return service.NewBatchService(a.records, a.syncService(), a.cfg.Concurrency, a.logger)
}

func (a *app) loadToken() (string, error) {
	data, err := afero.ReadFile(a.fs, a.cfg.TokenPath())
	if err != nil {
		if exists, _ := afero.Exists(a.fs, a.cfg.TokenPath()); !exists {
			return "", nil
		}
		return "", fmt.Errorf("failed to read token: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (a *app) saveToken(token string) error {
	if err := a.fs.MkdirAll(a.cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := afero.WriteFile(a.fs, a.cfg.TokenPath(), []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}
