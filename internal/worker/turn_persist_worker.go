// Package worker consumes chat turns from RabbitMQ and appends them to the
// history store.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"docchat/internal/model"
	rabbitmqClient "docchat/internal/platform/rabbitmq"
)

var errBadEvent = errors.New("malformed turn event")

type TurnAppender interface {
	Append(ctx context.Context, document string, turns ...model.ChatTurn) error
}

type TurnPersistWorker struct {
	conn      *amqp.Connection
	repo      TurnAppender
	queueName string
	logger    *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewTurnPersistWorker(conn *amqp.Connection, repo TurnAppender, queueName string, logger *zap.Logger) *TurnPersistWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TurnPersistWorker{
		conn:      conn,
		repo:      repo,
		queueName: queueName,
		logger:    logger.With(zap.String("component", "turn_persist_worker")),
	}
}

func (w *TurnPersistWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}
	if err := rabbitmqClient.DeclareQueue(ch, w.queueName); err != nil {
		_ = ch.Close()
		cancel()
		return err
	}
	// one event at a time keeps appends for a document in publish order
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("set worker qos failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				if err := w.handle(workerCtx, d.Body); err != nil {
					w.logger.Error("persist turn event failed", zap.Error(err))
					_ = d.Nack(false, false)
					continue
				}
				_ = d.Ack(false)
			}
		}
	}()

	w.logger.Info("worker started", zap.String("queue", w.queueName))
	return nil
}

func (w *TurnPersistWorker) handle(ctx context.Context, body []byte) error {
	var event model.TurnEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("%w: %v", errBadEvent, err)
	}
	if event.Document == "" {
		return fmt.Errorf("%w: empty document", errBadEvent)
	}
	for _, t := range event.Turns {
		if !model.ValidRole(t.Role) {
			return fmt.Errorf("%w: role %q", errBadEvent, t.Role)
		}
	}
	if err := w.repo.Append(ctx, event.Document, event.Turns...); err != nil {
		return err
	}
	w.logger.Debug("turns persisted", zap.String("document", event.Document), zap.Int("turns", len(event.Turns)))
	return nil
}

func (w *TurnPersistWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
