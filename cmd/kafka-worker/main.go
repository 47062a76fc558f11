package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/frauddetect/fraud-engine/configs"
	"github.com/frauddetect/fraud-engine/internal/models"
	"github.com/frauddetect/fraud-engine/internal/repositories"
	"github.com/frauddetect/fraud-engine/internal/store"
)

// The importer is the write path for the transactions collection: it
// consumes the upstream transaction feed from Kafka and inserts valid
// events into the store. Scoring never writes transactions itself.

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	// Load configuration
	cfg := configs.Load()

	// Setup logging
	setupLogging(cfg.Server.Environment)

	if len(cfg.Kafka.Brokers) == 0 {
		log.Info().Msg("KAFKA_BROKERS not set, transaction feed importer disabled")
		return
	}

	log.Info().
		Strs("brokers", cfg.Kafka.Brokers).
		Str("topic", cfg.Kafka.Topic).
		Str("group_id", cfg.Kafka.GroupID).
		Msg("Starting Fraud Engine Transaction Importer")

	// Initialize store
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	st, err := store.Open(ctx, cfg.Store.URI, cfg.Store.Database, cfg.Store.Testing)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to store")
	}
	defer st.Close(context.Background())

	txRepo := repositories.NewTransactionRepository(st)

	// Create Kafka consumer group
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true
	config.Version = sarama.V3_0_0_0

	// Retry connecting to Kafka
	var consumerGroup sarama.ConsumerGroup
	for i := 0; i < 30; i++ {
		consumerGroup, err = sarama.NewConsumerGroup(cfg.Kafka.Brokers, cfg.Kafka.GroupID, config)
		if err == nil {
			break
		}
		log.Warn().Err(err).Int("attempt", i+1).Msg("Failed to connect to Kafka, retrying...")
		time.Sleep(5 * time.Second)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Kafka consumer group after retries")
	}
	defer consumerGroup.Close()

	handler := &importHandler{transactions: txRepo}

	// Setup graceful shutdown
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("Shutdown signal received, stopping importer...")
		cancelRun()
	}()

	go func() {
		for err := range consumerGroup.Errors() {
			log.Error().Err(err).Msg("Consumer group error")
		}
	}()

	for {
		if err := consumerGroup.Consume(runCtx, []string{cfg.Kafka.Topic}, handler); err != nil {
			log.Error().Err(err).Msg("Error from consumer")
		}

		if runCtx.Err() != nil {
			log.Info().Msg("Context cancelled, importer shutdown complete")
			return
		}
	}
}

func setupLogging(env string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// importHandler inserts feed events into the transactions collection.
// Offsets are marked only after a successful insert, so a store outage
// replays the message instead of dropping it.
type importHandler struct {
	transactions *repositories.TransactionRepository
}

func (h *importHandler) Setup(sarama.ConsumerGroupSession) error {
	log.Info().Msg("Importer session started")
	return nil
}

func (h *importHandler) Cleanup(sarama.ConsumerGroupSession) error {
	log.Info().Msg("Importer session ended")
	return nil
}

func (h *importHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			if h.importMessage(session.Context(), message) {
				session.MarkMessage(message, "")
			}

		case <-session.Context().Done():
			return nil
		}
	}
}

// importMessage reports whether the message may be acknowledged. Malformed
// payloads are logged and skipped; store failures back off and leave the
// offset unmarked for redelivery.
func (h *importHandler) importMessage(ctx context.Context, message *sarama.ConsumerMessage) bool {
	var tx models.Transaction
	if err := json.Unmarshal(message.Value, &tx); err != nil {
		log.Error().
			Err(err).
			Int64("offset", message.Offset).
			Msg("Skipping malformed transaction payload")
		return true
	}

	if err := validateTransaction(&tx); err != nil {
		log.Warn().
			Err(err).
			Str("transaction_id", tx.TransactionID).
			Int64("offset", message.Offset).
			Msg("Skipping invalid transaction")
		return true
	}

	if err := h.transactions.Create(ctx, &tx); err != nil {
		if errors.Is(err, repositories.ErrTransactionExists) {
			log.Debug().
				Str("transaction_id", tx.TransactionID).
				Msg("Transaction already imported")
			return true
		}
		log.Error().
			Err(err).
			Str("transaction_id", tx.TransactionID).
			Msg("Failed to insert transaction, will retry")
		time.Sleep(time.Second)
		return false
	}

	log.Debug().
		Str("transaction_id", tx.TransactionID).
		Str("user_id", tx.UserID).
		Float64("amount", tx.Amount).
		Msg("Transaction imported")
	return true
}

func validateTransaction(tx *models.Transaction) error {
	if tx.TransactionID == "" {
		return errors.New("transaction_id is required")
	}
	if tx.UserID == "" {
		return errors.New("user_id is required")
	}
	if tx.Amount <= 0 {
		return errors.New("amount must be greater than zero")
	}
	if !models.ValidTransactionType(tx.TransactionType) {
		return errors.New("unknown transaction_type")
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = time.Now()
	}
	return nil
}
