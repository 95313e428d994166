package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/bigpicture/pujo-pictures/src/api/blob"
	"github.com/bigpicture/pujo-pictures/src/api/config"
	"github.com/bigpicture/pujo-pictures/src/api/data"
	"github.com/bigpicture/pujo-pictures/src/api/discord"
	"github.com/bigpicture/pujo-pictures/src/api/ingest"
	"github.com/bigpicture/pujo-pictures/src/api/media"
	"github.com/bigpicture/pujo-pictures/src/api/metrics"
	"github.com/bigpicture/pujo-pictures/src/api/moderation"
	"github.com/bigpicture/pujo-pictures/src/api/token"
	"github.com/bigpicture/pujo-pictures/src/api/webserver"
	"github.com/bigpicture/pujo-pictures/src/logging"
	"github.com/bigpicture/pujo-pictures/src/webclient"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("api stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	rdb, err := data.ConnectRedis(ctx, cfg.RedisURL, cfg.Upstream.Timeout, cfg.Upstream.Attempts)
	if err != nil {
		return err
	}
	defer rdb.Close()

	var audit moderation.AuditLog
	if cfg.MySQLDSN != "" {
		db, err := openMySQL(cfg.MySQLDSN)
		if err != nil {
			return err
		}
		defer func() {
			if err := data.CloseMySQL(db); err != nil {
				logger.Warn("close mysql", zap.Error(err))
			}
		}()
		cfg.ApplySettings(data.GetSetting)
		audit = data.NewAuditLog(db)
	} else {
		logger.Info("MYSQL_DSN not set, moderation audit trail disabled")
	}

	s3cfg := blob.S3Config{
		Endpoint:      cfg.S3.Endpoint,
		Region:        cfg.S3.Region,
		AccessKey:     cfg.S3.AccessKey,
		SecretKey:     cfg.S3.SecretKey,
		Bucket:        cfg.S3.Bucket,
		UseSSL:        cfg.S3.UseSSL,
		PublicBaseURL: cfg.S3.PublicBaseURL,
	}
	s3client, err := blob.NewS3Client(s3cfg)
	if err != nil {
		return err
	}
	storage := blob.NewS3Storage(s3client, s3cfg)
	if err := storage.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("s3 bucket %s: %w", cfg.S3.Bucket, err)
	}
	blobs := blob.Timed(storage, cfg.Upstream.Timeout)

	hook, err := discord.NewWebhookClient(cfg.Discord.WebhookURL, cfg.Upstream.Timeout)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	obs, err := metrics.New(reg)
	if err != nil {
		return err
	}

	wm, err := media.NewWatermarker()
	if err != nil {
		return err
	}

	policy := webclient.Policy{
		Attempts:     cfg.Upstream.Attempts,
		InitialDelay: cfg.Upstream.Backoff,
		MaxDelay:     5 * time.Second,
		Timeout:      cfg.Upstream.Timeout,
	}
	tokens := token.NewManager(cfg.JWTSecret, cfg.TokenTTL)
	store := data.NewSubmissionStore(rdb)
	notifier := discord.NewSynchronizer(hook, policy, logger,
		discord.WithDeadLetters(data.NewDeadLetters(rdb)),
		discord.WithObserver(obs),
		discord.WithIdentity(discord.Identity{Username: cfg.Discord.Username, AvatarURL: cfg.Discord.AvatarURL}),
	)

	pipeline := ingest.New(ingest.Deps{
		Store:       store,
		Blobs:       blobs,
		Tokens:      tokens,
		Notifier:    notifier,
		Watermarker: wm,
		AppURL:      cfg.AppURL,
		Policy:      policy,
		Observer:    obs,
		Log:         logger,
	})
	moderator := moderation.New(moderation.Deps{
		Store:    store,
		Blobs:    blobs,
		Tokens:   tokens,
		Notifier: notifier,
		Audit:    audit,
		Observer: obs,
		Policy:   policy,
		Log:      logger,
	})

	gin.SetMode(gin.ReleaseMode)
	router, limiter := webserver.New(webserver.Options{
		Submitter:      pipeline,
		Moderator:      moderator,
		Gallery:        store,
		Health:         store,
		Gatherer:       reg,
		Origins:        cfg.Origins(),
		TrustedProxies: cfg.Proxies(),
		RateLimit:      cfg.SubmitRateLimit,
		RateWindow:     cfg.SubmitRateWindow,
		Log:            logger,
	})
	defer limiter.Close()

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if cfg.TLSCertFile != "" {
			err = serveTLS(ctx, httpSrv, cfg, logger)
		} else {
			err = httpSrv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Info("pujo pictures api listening", zap.String("port", cfg.Port), zap.Bool("tls", cfg.TLSCertFile != ""))

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http: %w", err)
		}
	case <-ctx.Done():
	}

	shutCtx, cancelShut := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShut()
	return httpSrv.Shutdown(shutCtx)
}

func openMySQL(dsn string) (*gorm.DB, error) {
	db, err := data.ConnectMySQL(dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql: %w", err)
	}
	if err := data.Migrate(db); err != nil {
		_ = data.CloseMySQL(db)
		return nil, fmt.Errorf("mysql migrate: %w", err)
	}
	if err := data.LoadSettings(db); err != nil {
		_ = data.CloseMySQL(db)
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return db, nil
}

func serveTLS(ctx context.Context, srv *http.Server, cfg config.Config, logger *zap.Logger) error {
	reloader, err := webserver.NewTLSReloader(cfg.TLSCertFile, cfg.TLSKeyFile, logger)
	if err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	go reloader.Watch(ctx, 5*time.Minute)
	srv.TLSConfig = reloader.GetConfig()
	return srv.ListenAndServeTLS("", "")
}
