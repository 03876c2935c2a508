// Package commands implements the cartulary subcommands: worker,
// ingest, broadcast and migrate.
package commands

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
	"gorm.io/gorm"

	"github.com/cartulary/cartulary/internal/config"
	"github.com/cartulary/cartulary/pkg/database"
	"github.com/cartulary/cartulary/pkg/storage"
)

// Commands returns the CLI command factories.
func Commands(log hclog.Logger, ui cli.Ui) map[string]cli.CommandFactory {
	base := &base{logger: log, ui: ui}
	return map[string]cli.CommandFactory{
		"worker": func() (cli.Command, error) {
			return &WorkerCommand{base: base}, nil
		},
		"ingest": func() (cli.Command, error) {
			return &IngestCommand{base: base}, nil
		},
		"broadcast": func() (cli.Command, error) {
			return &BroadcastCommand{base: base}, nil
		},
		"migrate": func() (cli.Command, error) {
			return &MigrateCommand{base: base}, nil
		},
	}
}

// base carries what every subcommand needs.
type base struct {
	logger hclog.Logger
	ui     cli.Ui
}

// loadConfig loads and validates the environment configuration.
func (b *base) loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		b.ui.Error("Configuration error: " + err.Error())
		return nil, err
	}
	return cfg, nil
}

// openDatabase connects with the service pool settings.
func (b *base) openDatabase(cfg *config.Config) (*gorm.DB, error) {
	db, err := database.Connect(database.Config{
		DSN:      cfg.Database.URL,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.Name,
		SSLMode:  cfg.Database.SSLMode,
	}, b.logger)
	if err != nil {
		b.ui.Error("Database connection failed: " + err.Error())
		return nil, err
	}
	return db, nil
}

// buildStore constructs the configured blob store.
func (b *base) buildStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	if cfg.Storage.Type == "s3" {
		return storage.NewS3Store(ctx, storage.S3StoreConfig{
			Bucket:    cfg.Storage.S3Bucket,
			Region:    cfg.Storage.S3Region,
			Endpoint:  cfg.Storage.S3Endpoint,
			AccessKey: cfg.Storage.S3AccessKey,
			SecretKey: cfg.Storage.S3SecretKey,
			Logger:    b.logger,
		})
	}
	return storage.NewLocalStore(storage.LocalStoreConfig{
		Root:   cfg.Storage.LocalPath,
		Logger: b.logger,
	})
}

// interruptContext is cancelled on SIGINT or SIGTERM.
func interruptContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
