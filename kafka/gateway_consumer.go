package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cinema-svc/config"
	"cinema-svc/middleware"
	"cinema-svc/models"

	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// MessageReader is satisfied by *kafkago.Reader.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// PaymentSettler applies gateway verdicts to payments.
type PaymentSettler interface {
	ConfirmPayment(ctx context.Context, paymentID int64, externalRef string) (*models.Payment, error)
	FailPayment(ctx context.Context, paymentID int64, reason string) (*models.Payment, error)
	GetPayment(ctx context.Context, paymentID int64) (*models.Payment, error)
}

func NewGatewayReader(cfg config.Kafka) *kafkago.Reader {
	return kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.GatewayTopic,
		GroupID:  cfg.ConsumerGroup,
		MaxBytes: 10e6,
	})
}

// GatewayConsumer settles pending payments from the gateway topic. Offsets are
// committed after a message was handled, so a crash redelivers it and the
// redelivered verdict is detected and skipped. A storage failure stops the
// consumer without committing; verdicts are never retried in-process.
type GatewayConsumer struct {
	reader  MessageReader
	settler PaymentSettler
	logger  *zap.Logger
	tracer  trace.Tracer
}

func NewGatewayConsumer(reader MessageReader, settler PaymentSettler, logger *zap.Logger) *GatewayConsumer {
	return &GatewayConsumer{
		reader:  reader,
		settler: settler,
		logger:  logger,
		tracer:  otel.Tracer("cinema-svc/kafka"),
	}
}

// Run blocks until ctx is canceled or a message fails on storage.
func (c *GatewayConsumer) Run(ctx context.Context) error {
	c.logger.Info("Gateway consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("failed to fetch message: %w", err)
		}

		if err := c.handleMessage(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// Left uncommitted so the group redelivers it after a restart.
			return fmt.Errorf("gateway message at offset %d: %w", msg.Offset, err)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("Failed to commit gateway message", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

func (c *GatewayConsumer) Close() error {
	return c.reader.Close()
}

// handleMessage returns an error only for storage failures.
func (c *GatewayConsumer) handleMessage(ctx context.Context, msg kafkago.Message) error {
	ctx = otel.GetTextMapPropagator().Extract(ctx, kafkaHeaderCarrier(msg.Headers))
	ctx, span := c.tracer.Start(ctx, "HandleGatewayEvent")
	defer span.End()

	var event models.GatewayEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		c.logger.Warn("Dropping malformed gateway message", zap.Int64("offset", msg.Offset), zap.Error(err))
		return nil
	}
	span.SetAttributes(
		attribute.Int64("payment.id", event.PaymentID),
		attribute.String("gateway.status", event.Status),
	)

	logger := c.logger.With(
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.Int64("payment_id", event.PaymentID),
		zap.String("gateway_status", event.Status),
	)

	var (
		payment *models.Payment
		err     error
	)
	switch event.Status {
	case models.GatewayStatusSucceeded:
		payment, err = c.settler.ConfirmPayment(ctx, event.PaymentID, event.ExternalRef)
	case models.GatewayStatusFailed:
		payment, err = c.settler.FailPayment(ctx, event.PaymentID, event.Reason)
	default:
		logger.Warn("Dropping gateway message with unknown status")
		return nil
	}

	switch {
	case err == nil:
		middleware.RecordPayment(payment.Status.String())
		logger.Info("Gateway verdict applied", zap.String("status", payment.Status.String()))
		return nil
	case errors.Is(err, models.ErrPaymentNotFound):
		logger.Warn("Gateway verdict for unknown payment")
		return nil
	case errors.Is(err, models.ErrPaymentNotSettleable):
		if c.isRedelivery(ctx, event) {
			logger.Info("Skipping redelivered gateway verdict")
		} else {
			logger.Warn("Gateway verdict conflicts with payment state", zap.Error(err))
		}
		return nil
	case errors.Is(err, models.ErrPersistence):
		span.RecordError(err)
		return err
	default:
		span.RecordError(err)
		logger.Error("Gateway verdict rejected", zap.Error(err))
		return nil
	}
}

// isRedelivery reports whether the payment already carries this verdict.
func (c *GatewayConsumer) isRedelivery(ctx context.Context, event models.GatewayEvent) bool {
	payment, err := c.settler.GetPayment(ctx, event.PaymentID)
	if err != nil {
		return false
	}
	switch event.Status {
	case models.GatewayStatusSucceeded:
		if !confirmed(payment.Status) {
			return false
		}
		ref := ""
		if payment.ExternalRef != nil {
			ref = *payment.ExternalRef
		}
		return ref == event.ExternalRef
	case models.GatewayStatusFailed:
		return payment.Status == models.PaymentStatusCanceled
	}
	return false
}

// confirmed reports whether the payment went through ConfirmPayment.
func confirmed(status models.PaymentStatus) bool {
	return status.IsSettled() || status == models.PaymentStatusRefunded ||
		status == models.PaymentStatusPartiallyRefunded
}

type kafkaHeaderCarrier []kafkago.Header

func (c kafkaHeaderCarrier) Get(key string) string {
	for _, h := range c {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c kafkaHeaderCarrier) Set(key, value string) {}

func (c kafkaHeaderCarrier) Keys() []string {
	keys := make([]string, len(c))
	for i, h := range c {
		keys[i] = h.Key
	}
	return keys
}
