// Package server wires the vault engine together: configuration, database
// with embedded migrations, key-management client, blob store, and the
// orchestrator consumed by the outer layers.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	awscfg "github.com/aws/aws-sdk-go-v2/config"
	awskms "github.com/aws/aws-sdk-go-v2/service/kms"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/heirkeep/vault/internal/blobstore"
	"github.com/heirkeep/vault/internal/kms"
	"github.com/heirkeep/vault/internal/logging"
	"github.com/heirkeep/vault/internal/vault/config"
	"github.com/heirkeep/vault/internal/vault/crypto"
	"github.com/heirkeep/vault/internal/vault/fieldenc"
	"github.com/heirkeep/vault/internal/vault/migrations"
	"github.com/heirkeep/vault/internal/vault/service"
	"github.com/heirkeep/vault/internal/vault/store"
)

type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB
	repo   store.Repository
	vault  *service.Service
	fields *fieldenc.Helper
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := runMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("db migration error: %w", err)
	}

	kmsClient, err := newKMSClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("kms init error: %w", err)
	}

	blobs, err := blobstore.New(ctx, blobstore.Options{
		Bucket:       cfg.S3Bucket,
		Region:       cfg.S3Region,
		BaseEndpoint: cfg.S3BaseEndpoint,
		AccessKey:    cfg.S3AccessKey,
		SecretKey:    cfg.S3SecretKey,
	})
	if err != nil {
		return nil, fmt.Errorf("blob store init error: %w", err)
	}

	engine := crypto.NewEngine(kmsClient)
	repo := store.NewPostgresRepository(db)
	vault := service.New(engine, blobs, repo, logger, cfg.PresignTTL)

	return &App{
		config: cfg,
		logger: logger,
		db:     db,
		repo:   repo,
		vault:  vault,
		fields: fieldenc.NewHelper(engine),
	}, nil
}

// Vault returns the orchestrator the outer web layer calls into.
func (app *App) Vault() *service.Service { return app.vault }

// Fields returns the single-value envelope helper.
func (app *App) Fields() *fieldenc.Helper { return app.fields }

// Store returns the metadata repository.
func (app *App) Store() store.Repository { return app.repo }

func (app *App) Close() error { return app.db.Close() }

// Run blocks until the process receives a termination signal or the context
// is cancelled. The engine itself has no background work; this keeps the
// process alive for its callers.
func (app *App) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	app.logger.Info(ctx, "vault engine ready")

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	select {
	case <-sigs:
	case <-ctx.Done():
	}

	app.logger.Info(ctx, "vault engine shutting down")
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, ".")
}

func newKMSClient(ctx context.Context, cfg *config.Config) (kms.Client, error) {
	if cfg.KMSKeyID != "" {
		awsCfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(cfg.S3Region))
		if err != nil {
			return nil, err
		}
		return kms.NewAWSClient(awskms.NewFromConfig(awsCfg), cfg.KMSKeyID), nil
	}
	return kms.NewLocalFromPassphrase(ctx, []byte(cfg.LocalKMSPassphrase), []byte(cfg.LocalKMSSalt))
}
