package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"joke-catalog/internal/config"
	"joke-catalog/internal/models"
	"joke-catalog/pkg/logger"
)

const (
	PromotedSubject = "jokes.promoted"
	TelegramSubject = "telegram.send"
	ConsumerGroup   = "joke-catalog"
)

type NATS struct {
	conn      *nats.Conn
	jetstream nats.JetStreamContext
	cfg       config.NATSConfig
}

func New(cfg config.NATSConfig) (*NATS, error) {
	conn, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to get JetStream: %w", err)
	}

	n := &NATS{
		conn:      conn,
		jetstream: js,
		cfg:       cfg,
	}

	if err := n.ensureStream(); err != nil {
		conn.Close()
		return nil, err
	}

	return n, nil
}

func (n *NATS) ensureStream() error {
	_, err := n.jetstream.StreamInfo(n.cfg.StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream %s: %w", n.cfg.StreamName, err)
	}

	_, err = n.jetstream.AddStream(&nats.StreamConfig{
		Name:     n.cfg.StreamName,
		Subjects: []string{PromotedSubject, TelegramSubject},
	})
	if err != nil {
		return fmt.Errorf("failed to create stream %s: %w", n.cfg.StreamName, err)
	}

	logger.Info("NATS stream created", logger.String("stream", n.cfg.StreamName))
	return nil
}

func (n *NATS) Close() {
	if n.conn != nil {
		n.conn.Close()
	}
}

func (n *NATS) Connected() bool {
	return n.conn != nil && n.conn.IsConnected()
}

// PromotedJokeMessage announces a joke accepted from the submission cache.
type PromotedJokeMessage struct {
	Joke       models.Joke `json:"joke"`
	EntryID    string      `json:"entry_id"`
	PromotedAt time.Time   `json:"promoted_at"`
}

func NewPromotedJokeMessage(entryID string, joke models.Joke) *PromotedJokeMessage {
	return &PromotedJokeMessage{
		Joke:       joke,
		EntryID:    entryID,
		PromotedAt: time.Now().UTC(),
	}
}

func (n *NATS) PublishPromoted(ctx context.Context, msg *PromotedJokeMessage) error {
	if err := n.publish(ctx, PromotedSubject, msg); err != nil {
		return err
	}

	logger.Debug("Promoted joke published to queue",
		logger.JokeID(msg.Joke.ID),
		logger.EntryID(msg.EntryID),
		logger.Lang(msg.Joke.Lang),
	)

	return nil
}

type TelegramMessage struct {
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

func (n *NATS) PublishTelegramMessage(ctx context.Context, msg *TelegramMessage) error {
	if err := n.publish(ctx, TelegramSubject, msg); err != nil {
		return err
	}

	logger.Debug("Telegram message published to queue",
		logger.Int64("chat_id", msg.ChatID),
	)

	return nil
}

func (n *NATS) publish(ctx context.Context, subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", subject, err)
	}

	if _, err := n.jetstream.Publish(subject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish %s message: %w", subject, err)
	}
	return nil
}

func (n *NATS) ConsumePromoted(ctx context.Context, handler func(*PromotedJokeMessage) error) error {
	return consume(ctx, n, PromotedSubject, handler)
}

func (n *NATS) ConsumeTelegramMessages(ctx context.Context, handler func(*TelegramMessage) error) error {
	return consume(ctx, n, TelegramSubject, handler)
}

func consume[T any](ctx context.Context, n *NATS, subject string, handler func(*T) error) error {
	sub, err := n.jetstream.PullSubscribe(
		subject,
		ConsumerGroup+"-"+durableSuffix(subject),
		nats.BindStream(n.cfg.StreamName),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			msgs, err := sub.Fetch(10, nats.MaxWait(n.cfg.FetchTimeout))
			if err != nil {
				if errors.Is(err, nats.ErrTimeout) {
					continue
				}
				return fmt.Errorf("failed to fetch messages: %w", err)
			}

			for _, msg := range msgs {
				if err := process(msg.Data, handler); err != nil {
					logger.Error("Failed to process message",
						logger.String("subject", subject),
						logger.Err(err),
					)
					msg.Nak()
					continue
				}

				msg.Ack()
			}
		}
	}
}

func process[T any](data []byte, handler func(*T) error) error {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return handler(&v)
}

// durableSuffix turns a subject into a valid durable consumer name.
func durableSuffix(subject string) string {
	out := []byte(subject)
	for i, c := range out {
		if c == '.' || c == '*' || c == '>' {
			out[i] = '-'
		}
	}
	return string(out)
}
