package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"firestige.xyz/needle/internal/config"
)

// KafkaCommand is the wire format for commands received via Kafka.
//
// Example JSON:
//
//	{
//	  "version":    "v1",
//	  "target":     "node-01",
//	  "command":    "hook.invoke",
//	  "timestamp":  "2024-01-15T10:30:00Z",
//	  "request_id": "req-abc-123",
//	  "payload":    { "name": "arpwatch", "args": ["filter=etherframe"] }
//	}
type KafkaCommand struct {
	Version   string          `json:"version"`    // Protocol version ("v1")
	Target    string          `json:"target"`     // Node hostname or "*" for broadcast
	Command   string          `json:"command"`    // Method name (e.g., "hook.invoke")
	Timestamp time.Time       `json:"timestamp"`  // When the command was issued
	RequestID string          `json:"request_id"` // Unique request ID for tracing
	Payload   json.RawMessage `json:"payload"`    // Method parameters
}

// KafkaReply is published on the reply topic for every executed command.
type KafkaReply struct {
	Source    string      `json:"source"` // Hostname of the answering node
	RequestID string      `json:"request_id"`
	Command   string      `json:"command"`
	Timestamp time.Time   `json:"timestamp"`
	Result    interface{} `json:"result,omitempty"`
	Error     *ErrorInfo  `json:"error,omitempty"`
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaCommandConsumer consumes commands from Kafka and dispatches to handler.
type KafkaCommandConsumer struct {
	cfg      config.KafkaControl
	hostname string // local node hostname for target matching
	reader   messageReader
	writer   messageWriter // nil without a reply topic
	handler  Handler
	ttl      time.Duration // command TTL for stale-command rejection
	now      func() time.Time
}

// NewKafkaCommandConsumer creates a new Kafka command consumer.
func NewKafkaCommandConsumer(cfg config.KafkaControl, hostname string, handler Handler) (*KafkaCommandConsumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("group_id is required")
	}

	ttl := cfg.CommandTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	var startOffset int64
	switch cfg.AutoOffsetReset {
	case "earliest":
		startOffset = kafka.FirstOffset
	case "latest", "":
		startOffset = kafka.LastOffset
	default:
		return nil, fmt.Errorf("invalid auto_offset_reset %q (must be earliest/latest)", cfg.AutoOffsetReset)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		StartOffset:    startOffset,
		MinBytes:       1,
		MaxBytes:       10 << 20,
		CommitInterval: time.Second,
		MaxWait:        1 * time.Second,
	})

	c := &KafkaCommandConsumer{
		cfg:      cfg,
		hostname: hostname,
		reader:   reader,
		handler:  handler,
		ttl:      ttl,
		now:      time.Now,
	}
	if cfg.ReplyTopic != "" {
		c.writer = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.ReplyTopic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 10 * time.Millisecond,
		}
	}
	return c, nil
}

// Start starts consuming commands from Kafka.
// Blocks until context is cancelled or an unrecoverable error occurs.
func (c *KafkaCommandConsumer) Start(ctx context.Context) error {
	slog.Info("kafka command consumer started",
		"brokers", c.cfg.Brokers,
		"topic", c.cfg.Topic,
		"group_id", c.cfg.GroupID,
		"reply_topic", c.cfg.ReplyTopic,
		"hostname", c.hostname,
		"ttl", c.ttl,
	)

	for {
		select {
		case <-ctx.Done():
			slog.Info("kafka command consumer stopped", "reason", ctx.Err())
			return ctx.Err()
		default:
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			slog.Error("failed to fetch kafka message", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
				continue
			}
		}

		if err := c.processMessage(ctx, msg); err != nil {
			slog.Error("failed to process command",
				"error", err,
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
			)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			slog.Error("failed to commit message", "error", err)
		}
	}
}

// processMessage filters, executes and answers a single command.
func (c *KafkaCommandConsumer) processMessage(ctx context.Context, msg kafka.Message) error {
	var kCmd KafkaCommand
	if err := json.Unmarshal(msg.Value, &kCmd); err != nil {
		return fmt.Errorf("failed to parse kafka command: %w", err)
	}

	if kCmd.Target != "*" && kCmd.Target != "" && kCmd.Target != c.hostname {
		slog.Debug("skipping command not targeting this node",
			"target", kCmd.Target,
			"hostname", c.hostname,
			"request_id", kCmd.RequestID,
		)
		return nil
	}

	if age := c.now().Sub(kCmd.Timestamp); !kCmd.Timestamp.IsZero() && age > c.ttl {
		slog.Warn("skipping stale command",
			"command", kCmd.Command,
			"request_id", kCmd.RequestID,
			"timestamp", kCmd.Timestamp,
			"age", age,
			"ttl", c.ttl,
		)
		return nil
	}

	slog.Info("received kafka command",
		"command", kCmd.Command,
		"request_id", kCmd.RequestID,
		"target", kCmd.Target,
		"version", kCmd.Version,
	)

	cmd := Command{
		Method: kCmd.Command,
		Params: kCmd.Payload,
		ID:     kCmd.RequestID,
	}
	response := c.handler.Handle(ctx, cmd)

	if err := c.reply(ctx, cmd, response); err != nil {
		slog.Error("failed to publish command reply", "request_id", cmd.ID, "error", err)
	}

	if response.Error != nil {
		slog.Error("command execution failed",
			"method", cmd.Method,
			"request_id", cmd.ID,
			"error_code", response.Error.Code,
			"error_message", response.Error.Message,
		)
		return fmt.Errorf("command failed: %s", response.Error.Message)
	}

	slog.Info("command executed successfully",
		"method", cmd.Method,
		"request_id", cmd.ID,
	)
	return nil
}

func (c *KafkaCommandConsumer) reply(ctx context.Context, cmd Command, resp Response) error {
	if c.writer == nil {
		return nil
	}
	value, err := json.Marshal(KafkaReply{
		Source:    c.hostname,
		RequestID: cmd.ID,
		Command:   cmd.Method,
		Timestamp: c.now().UTC(),
		Result:    resp.Result,
		Error:     resp.Error,
	})
	if err != nil {
		return fmt.Errorf("marshal reply: %w", err)
	}
	return c.writer.WriteMessages(ctx, kafka.Message{Key: []byte(c.hostname), Value: value})
}

// Stop stops the Kafka consumer and closes the connections.
// Always nils the reader to prevent double-close, even if Close() returns an error.
func (c *KafkaCommandConsumer) Stop() error {
	if c.reader == nil {
		return nil
	}
	reader, writer := c.reader, c.writer
	c.reader, c.writer = nil, nil
	slog.Info("closing kafka command consumer")

	var errs []error
	if err := reader.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close kafka reader: %w", err))
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close kafka writer: %w", err))
		}
	}
	return errors.Join(errs...)
}
