package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/suPer8Hu/chat-relay/internal/app"
	"github.com/suPer8Hu/chat-relay/internal/chat"
	"github.com/suPer8Hu/chat-relay/internal/config"
	"github.com/suPer8Hu/chat-relay/internal/store/rabbitmq"
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

	//  strict concurrency control
	concurrency := cfg.WorkerConcurrency

	consumer, err := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue, concurrency, cfg.JobMaxRetries, cfg.JobRetryDelay)
	if err != nil {
		log.WithError(err).Fatal("rabbitmq consumer")
	}
	defer consumer.Close()

	msgs, err := consumer.Deliveries()
	if err != nil {
		log.WithError(err).Fatal("consume")
	}

	log.WithFields(logrus.Fields{
		"queue":       cfg.RabbitQueue,
		"concurrency": concurrency,
	}).Info("worker started")

	// jobs already taken finish on shutdown; the upstream response timeout bounds them
	jobCtx := context.WithoutCancel(ctx)

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			wlog := log.WithField("worker", workerID)
			for d := range jobs {
				handleDelivery(jobCtx, wlog, a.Pipeline, consumer, d)
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Error("delivery channel closed")
				close(jobs)
				wg.Wait()
				return
			}
			jobs <- d
		}
	}
}

func handleDelivery(ctx context.Context, log logrus.FieldLogger, p *chat.Pipeline, consumer *rabbitmq.Consumer, d amqp.Delivery) {
	m, err := rabbitmq.DecodeJob(d.Body)
	if err != nil {
		log.WithError(err).Warn("bad message")
		_ = d.Nack(false, false)
		return
	}
	jlog := log.WithField("job_id", m.JobID)

	start := time.Now()
	if err := p.RunJob(ctx, m.JobID); err != nil {
		requeued, rerr := consumer.Retry(ctx, d)
		jlog.WithError(err).WithFields(logrus.Fields{
			"cost":     time.Since(start).String(),
			"attempt":  rabbitmq.RetryCount(d.Headers) + 1,
			"requeued": requeued,
		}).Warn("job run failed")
		if rerr != nil {
			jlog.WithError(rerr).Error("retry failed")
		}
		return
	}

	if err := d.Ack(false); err != nil {
		jlog.WithError(err).Error("ack failed")
	}
	if cost := time.Since(start); cost > 2*time.Second {
		jlog.WithField("cost", cost.String()).Info("job_timing")
	}
}
