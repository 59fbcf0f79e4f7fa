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

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-lungcheck/internal/config"
	"github.com/ovaphlow/pitchfork/service-lungcheck/internal/inference"
	"github.com/ovaphlow/pitchfork/service-lungcheck/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-lungcheck/internal/notify"
	"github.com/ovaphlow/pitchfork/service-lungcheck/internal/reset"
	"github.com/ovaphlow/pitchfork/service-lungcheck/internal/router"
	"github.com/ovaphlow/pitchfork/service-lungcheck/internal/session"
	"github.com/ovaphlow/pitchfork/service-lungcheck/internal/setting"
	"github.com/ovaphlow/pitchfork/service-lungcheck/internal/survey"
	"github.com/ovaphlow/pitchfork/service-lungcheck/internal/user"
	"github.com/ovaphlow/pitchfork/service-lungcheck/internal/web"
	"github.com/ovaphlow/pitchfork/service-lungcheck/pkg/database"
	"github.com/ovaphlow/pitchfork/service-lungcheck/pkg/utilities"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// init logger
	lg, err := utilities.Init(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Infow("starting lungcheck", "addr", cfg.Addr, "db_driver", cfg.Database.Driver)

	// init db
	db, err := database.Open(cfg.Database)
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MigrateOnStart {
		if err := database.Migrate(ctx, db.DB, cfg.Database.Driver, sugar); err != nil {
			sugar.Fatalf("migrate: %v", err)
		}
	}

	m := metrics.New()

	classifier, err := buildClassifier(cfg)
	if err != nil {
		sugar.Fatalf("load model: %v", err)
	}

	secret := []byte(cfg.SessionSecret)
	if len(secret) == 0 {
		if secret, err = setting.NewService(db, sugar).EnsureSessionSecret(ctx); err != nil {
			sugar.Fatalf("session secret: %v", err)
		}
	}
	store, closeStore, err := buildSessionStore(ctx, cfg)
	if err != nil {
		sugar.Fatalf("session store: %v", err)
	}
	defer closeStore()
	sessions, err := session.NewManager(session.Config{
		Secret: secret,
		TTL:    cfg.SessionTTL,
		Secure: cfg.CookieSecure,
	}, store, sugar)
	if err != nil {
		sugar.Fatalf("session manager: %v", err)
	}

	dispatcher := notify.NewDispatcher(buildNotifier(cfg, sugar), sugar, m, 64)

	render, err := web.NewRenderer(sugar)
	if err != nil {
		sugar.Fatalf("templates: %v", err)
	}

	users := user.NewUserService(db, nil, nil, sugar)
	resetSvc := reset.NewService(db, users, dispatcher, reset.Config{
		TTL:             cfg.ResetTTL,
		InvalidatePrior: cfg.ResetInvalidatePrior,
		BaseURL:         cfg.BaseURL,
	}, m, sugar)
	surveySvc := survey.NewService(db, classifier, m, sugar)

	handler := router.RegisterRoutes(router.Deps{
		Logger:   sugar,
		Metrics:  m,
		DB:       db,
		Sessions: sessions,
		Users:    user.NewHandler(users, sessions, render, m, sugar),
		Reset:    reset.NewHandler(resetSvc, render, sugar),
		Survey:   survey.NewHandler(surveySvc, render, sugar),
	})
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// run server in background
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()
	sugar.Info("service is running; press Ctrl+C to stop")

	<-ctx.Done()

	sugar.Info("shutting down")

	// give a short grace period for cleanup
	doneCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}
	// pending reset emails go out before the process exits
	dispatcher.Close()

	sugar.Info("goodbye")
}

func buildClassifier(cfg *config.Config) (inference.Classifier, error) {
	if cfg.ModelURL != "" {
		return inference.NewRemoteClassifier(cfg.ModelURL, 10*time.Second), nil
	}
	model, err := inference.LoadLinearModel(cfg.ModelPath)
	if err != nil {
		return nil, err
	}
	return model, nil
}

func buildSessionStore(ctx context.Context, cfg *config.Config) (session.Store, func(), error) {
	if cfg.RedisURL == "" {
		return session.NewMemoryStore(), func() {}, nil
	}
	rs, err := session.NewRedisStoreFromURL(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return rs, func() { _ = rs.Close() }, nil
}

func buildNotifier(cfg *config.Config, logger *zap.SugaredLogger) notify.Notifier {
	switch cfg.Mail.Mode {
	case config.MailSMTP:
		return notify.NewSMTPNotifier(cfg.Mail.SMTP)
	case config.MailHTTP:
		return notify.NewHTTPNotifier(cfg.Mail.RelayURL, cfg.Mail.RelayKey, cfg.Mail.SMTP.From)
	default:
		logger.Warn("MAIL_MODE=log: reset links are only written to the log")
		return notify.NewLogNotifier(logger)
	}
}
