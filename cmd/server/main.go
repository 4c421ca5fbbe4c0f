package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/suPer8Hu/chat-relay/internal/app"
	"github.com/suPer8Hu/chat-relay/internal/catalog"
	"github.com/suPer8Hu/chat-relay/internal/config"
	"github.com/suPer8Hu/chat-relay/internal/httpapi"
	"github.com/suPer8Hu/chat-relay/internal/httpapi/handlers"
	"github.com/suPer8Hu/chat-relay/internal/ratelimit"
	"github.com/suPer8Hu/chat-relay/internal/store/rabbitmq"
	"github.com/suPer8Hu/chat-relay/internal/store/redisstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logrus.WithError(err).Fatal("init")
	}
	defer a.Close()
	log := a.Log

	rdb, err := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.WithError(err).Fatal("redis")
	}
	defer rdb.Close()

	var limiter ratelimit.Limiter
	if rdb != nil {
		if err := rdb.Ping(ctx); err != nil {
			log.WithError(err).Warn("redis ping failed, requests will be limited until it recovers")
		}
		limiter, err = ratelimit.NewFixedWindowLimiter(rdb.Client, "chat-relay:rl", cfg.RateLimitPerMinute, time.Minute)
		if err != nil {
			log.WithError(err).Fatal("rate limiter")
		}
	} else {
		limiter = ratelimit.NewLocalLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst)
	}

	h := &handlers.Handler{
		DB:       a.DB,
		Redis:    rdb,
		Pipeline: a.Pipeline,
		Sessions: a.Sessions,
		Quota:    a.Quota,
		Catalog:  catalog.New(a.DB, time.Minute),
		Log:      log,
	}

	// async chat is optional: without a broker only the stream endpoint works
	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.WithError(err).Warn("rabbitmq unavailable, async chat disabled")
	} else {
		defer pub.Close()
		h.Jobs = pub
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Handler:   h,
		JWTSecret: cfg.JWTSecret,
		Limiter:   limiter,
		Metrics:   a.Metrics,
		Log:       log,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	// streams in flight get the upstream response timeout to finish
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.UpstreamResponseTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http shutdown")
	}
}
