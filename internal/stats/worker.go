package stats

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/frauddetect/fraud-engine/configs"
	"github.com/frauddetect/fraud-engine/internal/metrics"
	"github.com/frauddetect/fraud-engine/internal/queue"
)

// Worker consumes scoring events from the stream and folds them into the
// stats counters
type Worker struct {
	id           string
	service      *Service
	streamClient *queue.RedisStreamClient
	config       configs.WorkerConfig
	wg           sync.WaitGroup
	stopCh       chan struct{}
}

// NewWorker creates a new stats worker
func NewWorker(id string, service *Service, streamClient *queue.RedisStreamClient, config configs.WorkerConfig) *Worker {
	return &Worker{
		id:           id,
		service:      service,
		streamClient: streamClient,
		config:       config,
		stopCh:       make(chan struct{}),
	}
}

// Start launches the consumer goroutines and blocks until the context is
// cancelled or Stop is called
func (w *Worker) Start(ctx context.Context) error {
	log.Info().
		Str("worker_id", w.id).
		Int("concurrency", w.config.Concurrency).
		Msg("Starting stats worker")

	for i := 0; i < w.config.Concurrency; i++ {
		w.wg.Add(1)
		go w.processLoop(ctx, fmt.Sprintf("%s-%d", w.id, i))
	}

	<-ctx.Done()
	return w.Stop()
}

// Stop stops the worker gracefully
func (w *Worker) Stop() error {
	log.Info().Str("worker_id", w.id).Msg("Stopping stats worker...")
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	w.wg.Wait()
	log.Info().Str("worker_id", w.id).Msg("Stats worker stopped")
	return nil
}

func (w *Worker) processLoop(ctx context.Context, consumerName string) {
	defer w.wg.Done()

	log.Info().Str("consumer", consumerName).Msg("Stats consumer started")

	for {
		select {
		case <-w.stopCh:
			log.Info().Str("consumer", consumerName).Msg("Stats consumer stopping")
			return
		case <-ctx.Done():
			return
		default:
			w.processBatch(ctx, consumerName)
		}
	}
}

func (w *Worker) processBatch(ctx context.Context, consumerName string) {
	messages, err := w.streamClient.Consume(ctx, consumerName, int64(w.config.BatchSize), w.config.PollInterval)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Error().Err(err).Str("consumer", consumerName).Msg("Failed to consume scoring events")
		time.Sleep(time.Second) // Back off on error
		return
	}

	if len(messages) == 0 {
		return
	}

	var ackIDs []string
	for _, msg := range messages {
		if err := w.service.Apply(ctx, msg.Event); err == nil {
			metrics.RecordScoringEvent(msg.Event.Source)
		} else {
			log.Error().
				Err(err).
				Str("message_id", msg.ID).
				Str("transaction_id", msg.Event.TransactionID).
				Msg("Failed to apply scoring event")

			if msg.Event.RetryCount < w.streamClient.MaxRetries() {
				if err := w.streamClient.Retry(ctx, msg.Event); err != nil {
					log.Error().Err(err).Msg("Failed to requeue scoring event")
				}
			} else {
				if err := w.streamClient.SendToDeadLetter(ctx, msg.Event, err); err != nil {
					log.Error().Err(err).Msg("Failed to send scoring event to dead letter queue")
				}
			}
		}

		ackIDs = append(ackIDs, msg.ID)
	}

	if len(ackIDs) > 0 {
		if err := w.streamClient.AcknowledgeBatch(ctx, ackIDs); err != nil {
			log.Error().Err(err).Msg("Failed to acknowledge scoring events")
		}
	}
}
