package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"grape-notebook/server/internal/api"
	"grape-notebook/server/internal/blob"
	"grape-notebook/server/internal/canvas"
	"grape-notebook/server/internal/checkin"
	"grape-notebook/server/internal/config"
	"grape-notebook/server/internal/domain"
	"grape-notebook/server/internal/lesson"
	"grape-notebook/server/internal/llm"
	"grape-notebook/server/internal/logging"
	"grape-notebook/server/internal/metrics"
	"grape-notebook/server/internal/prompt"
	"grape-notebook/server/internal/review"
	"grape-notebook/server/internal/session"
	"grape-notebook/server/internal/store"
	"grape-notebook/server/internal/timeline"
)

func main() {
	// 敏感信息（LLM key、数据库地址、Supabase key）走环境变量或配置目录下的 .env
	configPath := flag.String("config", "server/configs/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	log, err := logging.New(cfg.Logging)
	if err != nil {
		logrus.Fatalf("init logging: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)

	records, closeStore, err := openStore(ctx, cfg.Store, log)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer closeStore()
	cached := store.NewCachedStore(records, cfg.Store.CacheTTL, m)

	blobs, err := blob.New(cfg.Blob, log)
	if err != nil {
		log.Fatalf("init blob store: %v", err)
	}
	client, err := llm.NewClient(cfg)
	if err != nil {
		log.Fatalf("init llm client: %v", err)
	}

	script := domain.DefaultScript()
	if cfg.Paths.Script != "" {
		if script, err = domain.LoadScript(cfg.Paths.Script); err != nil {
			log.Fatalf("load script: %v", err)
		}
	}

	sessions := session.NewRegistry(checkin.Deps{
		Store:    cached,
		LLM:      client,
		Timeline: timeline.NewInMemoryStore(),
		Script:   script,
		Prompts:  prompt.NewBuilder(script),
		Pacing: checkin.Pacing{
			RevealInterval: cfg.Checkin.RevealInterval,
			PromptLead:     cfg.Checkin.PromptLead,
			PromptSettle:   cfg.Checkin.PromptSettle,
		},
		Log:     log,
		Metrics: m,
	}, session.Options{
		MaxInactive:     cfg.Session.MaxInactiveTime,
		CleanupInterval: cfg.Session.CleanupInterval,
		Canvas: canvas.Config{
			Width:         cfg.Canvas.Width,
			Height:        cfg.Canvas.Height,
			DisplayWidth:  cfg.Canvas.DisplayWidth,
			DisplayHeight: cfg.Canvas.DisplayHeight,
		},
		Metrics: m,
		Log:     log,
	})
	defer sessions.Flush()

	lessons := lesson.NewService(cached, blobs, log)
	server, err := api.NewServer(api.Deps{
		Config:   cfg,
		Sessions: sessions,
		Lessons:  lessons,
		Review:   review.NewService(cached, lessons, log),
		Script:   script,
		Metrics:  m,
		Log:      log,
	})
	if err != nil {
		log.Fatalf("init server: %v", err)
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.WithFields(logrus.Fields{
			"addr":  httpServer.Addr,
			"llm":   cfg.LLM.Provider,
			"store": cfg.Store.Driver,
			"blob":  cfg.Blob.Driver,
		}).Info("grapenote server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("graceful shutdown failed")
	}
}

// openStore 按配置选择记录存储，返回的 close 函数在退出时调用。
func openStore(ctx context.Context, cfg config.StoreConfig, log *logrus.Logger) (store.RecordStore, func(), error) {
	switch cfg.Driver {
	case "mongo":
		s, err := store.NewMongoStore(ctx, cfg.MongoURI, log)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(context.Background()); err != nil {
				log.WithError(err).Warn("close mongo store")
			}
		}, nil
	case "redis":
		s, err := store.NewRedisStore(ctx, cfg.RedisURL, log)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				log.WithError(err).Warn("close redis store")
			}
		}, nil
	default:
		log.Warn("using in-memory store, records are lost on restart")
		return store.NewInMemoryStore(), func() {}, nil
	}
}
