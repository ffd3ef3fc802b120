package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"deskbridge/internal/app"
	"deskbridge/internal/config"
	"deskbridge/internal/email"
	"deskbridge/internal/jobs"
	"deskbridge/internal/joblock"
	"deskbridge/internal/secretbox"
	"deskbridge/internal/settings"
	"deskbridge/internal/store"
	"deskbridge/internal/tracker"
	"deskbridge/internal/uploads"
)

// runtime holds the wired collaborators shared by every subcommand.
type runtime struct {
	cfg      config.Config
	logger   *logrus.Logger
	db       *sql.DB
	store    *store.SQLStore
	settings *settings.Store
	service  *app.Service
	syncer   *jobs.Syncer
	locker   joblock.Locker
	closers  []func() error
}

func loadConfig() (config.Config, error) {
	if strings.TrimSpace(configPath) == "" {
		return config.Load()
	}
	return config.LoadFile(configPath)
}

func bootstrap(ctx context.Context) (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.CheckSecrets(); err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, logger: config.NewLogger(cfg)}

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	rt.db = db
	rt.closers = append(rt.closers, db.Close)

	if err := store.ApplyMigrations(ctx, db); err != nil {
		rt.Close()
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	sealer, err := secretbox.NewSealer(cfg.MasterKey)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("master key: %w", err)
	}

	source, err := rt.uploadSource()
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.store = store.NewSQLStore(db)
	trackers := tracker.NewRedmineFactory(tracker.RedmineOptions{
		RequestsPerSecond: cfg.TrackerRPS,
		Timeout:           cfg.TrackerTimeout,
	})
	rt.settings = settings.New(rt.store, sealer, trackers, cfg.TemplateDir)

	mailService := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if !mailService.IsConfigured() {
		rt.logger.Warn("SMTP is not configured; notifications will fail")
	}

	rt.service = app.New(cfg, rt.store, rt.settings, mailService, source, rt.logger)
	rt.syncer = jobs.NewSyncer(rt.store, rt.service, rt.settings, rt.store, rt.logger)

	if err := rt.jobLocker(); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) uploadSource() (uploads.Source, error) {
	if strings.TrimSpace(rt.cfg.MinioEndpoint) == "" {
		if err := os.MkdirAll(rt.cfg.UploadRoot, 0o755); err != nil {
			return nil, fmt.Errorf("create upload root: %w", err)
		}
		return uploads.FileSource{Root: rt.cfg.UploadRoot}, nil
	}
	rt.logger.WithField("bucket", rt.cfg.MinioBucket).Info("Using object storage for form uploads")
	source, err := uploads.NewMinioSource(uploads.MinioConfig{
		Endpoint:  rt.cfg.MinioEndpoint,
		AccessKey: rt.cfg.MinioAccessKey,
		SecretKey: rt.cfg.MinioSecretKey,
		Bucket:    rt.cfg.MinioBucket,
		UseSSL:    rt.cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, err
	}
	return source, nil
}

// jobLocker uses Redis when configured so that jobs run on one instance at
// a time; otherwise locking is process-local.
func (rt *runtime) jobLocker() error {
	if strings.TrimSpace(rt.cfg.RedisURL) == "" {
		rt.locker = joblock.NewLocalLocker()
		return nil
	}
	rt.logger.Info("Using Redis for job locking")
	locker, err := joblock.NewRedisLocker(rt.cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	rt.locker = locker
	rt.closers = append(rt.closers, locker.Close)
	rt.service.AddCheck("jobLock", locker.Ping)
	return nil
}

func (rt *runtime) scheduler() (*jobs.Scheduler, error) {
	sched := jobs.NewScheduler(rt.logger, rt.locker, rt.cfg.JobLockTTL)
	if err := rt.syncer.Register(sched, rt.cfg.RefreshSchedule, rt.cfg.PurgeSchedule); err != nil {
		return nil, err
	}
	return sched, nil
}

func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			rt.logger.WithError(err).Warn("close failed")
		}
	}
}
