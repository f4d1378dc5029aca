package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/park285/goose-tap-client/internal/bot"
	appcfg "github.com/park285/goose-tap-client/internal/config"
	"github.com/park285/goose-tap-client/internal/history"
	"github.com/park285/goose-tap-client/internal/msgcat"
	"github.com/park285/goose-tap-client/internal/obslog"
	"github.com/park285/goose-tap-client/internal/present"
	"github.com/park285/goose-tap-client/internal/pushchan"
	"github.com/park285/goose-tap-client/internal/session"
	"go.uber.org/zap"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()
	logger := obslog.L()

	cat, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		log.Fatalf("messages init error: %v", err)
	}
	formatter := present.NewFormatter(cat, time.Local)

	sess := session.New(session.Options{
		BaseURL:              cfg.BaseURL,
		WSURL:                cfg.WSURL,
		Token:                cfg.Token,
		HTTPTimeout:          cfg.HTTPTimeout,
		MaxReconnectAttempts: cfg.WSMaxReconnect,
		DisableReconnect:     cfg.WSMaxReconnect == 0,
		Logger:               obslog.Named("session"),
	})
	sess.Push().OnStateChange(func(state pushchan.State) {
		logger.Info("push_state", zap.String("state", state.String()))
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lctx, lcancel := context.WithTimeout(ctx, 15*time.Second)
	user, err := sess.Hydrate(lctx)
	if err != nil && cfg.Username != "" {
		user, err = sess.Login(lctx, cfg.Username, cfg.Password)
	}
	lcancel()
	if err != nil {
		log.Fatalf("login error: %v", err)
	}
	logger.Info("session_ready", zap.String("text", formatter.Welcome(user)))

	recorder := history.NewRecorder(openStore(ctx, cfg.RedisURL), openRepository(cfg.DatabaseURL))
	defer recorder.Close()

	b := bot.New(sess.API(), sess.Push(), formatter, recorder, clockwork.NewRealClock(), bot.Config{
		Username:    user.Username,
		CanCreate:   cfg.CreateRounds && user.IsAdmin(),
		PageSize:    cfg.PageSize,
		TapInterval: cfg.TapInterval,
		MaxViews:    cfg.MaxViews,
	}, obslog.Named("bot"))
	if cfg.CreateRounds && !user.IsAdmin() {
		logger.Warn("round_create_disabled", zap.String("reason", "user is not admin"))
	}

	if err := b.Run(ctx); err != nil {
		logger.Error("bot_stopped", zap.Error(err))
	}

	if recent, err := b.Recent(context.Background(), 5); err == nil {
		for _, r := range recent {
			logger.Info("round_result", zap.String("round_id", r.RoundID), zap.Int("total_points", r.TotalPoints),
				zap.Int("my_points", r.MyPoints), zap.String("winner", r.Winner))
		}
	}
	_ = sess.Close(context.Background())
}

// openStore returns nil when Redis is not configured or unreachable; history is optional.
func openStore(ctx context.Context, url string) *history.Store {
	if url == "" {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	s, err := history.NewStoreFromURL(cctx, url)
	if err != nil {
		obslog.L().Warn("history_store_unavailable", zap.Error(err))
		return nil
	}
	return s
}

func openRepository(url string) *history.Repository {
	if url == "" {
		return nil
	}
	r, err := history.NewRepository(url)
	if err != nil {
		obslog.L().Warn("history_repository_unavailable", zap.Error(err))
		return nil
	}
	return r
}
