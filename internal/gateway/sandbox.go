package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ConfirmationPublisher delivers simulated gateway callbacks.
type ConfirmationPublisher interface {
	PublishPaymentConfirmed(ctx context.Context, reference string) error
}

// Sandbox is an in-process gateway for development. Every payment is
// accepted and, when a publisher is set, confirmed after ConfirmAfter.
type Sandbox struct {
	publisher    ConfirmationPublisher
	confirmAfter time.Duration
	seq          atomic.Int64
	logger       *zap.Logger
}

func NewSandbox(publisher ConfirmationPublisher, confirmAfter time.Duration) *Sandbox {
	return &Sandbox{
		publisher:    publisher,
		confirmAfter: confirmAfter,
		logger:       util.GetLogger().With(zap.String("component", "sandbox_gateway")),
	}
}

func (s *Sandbox) InitiatePayment(_ context.Context, req models.GatewayRequest) (string, error) {
	n := s.seq.Add(1)
	reference := fmt.Sprintf("TXN-%s-%04d", strings.ToUpper(uuid.New().String()[:8]), n)

	s.logger.Info("Sandbox payment accepted",
		zap.String("order_id", req.OrderID),
		zap.String("reference", reference),
		zap.String("amount", req.Amount.String()),
		zap.String("method", string(req.Method)))

	if s.publisher != nil {
		go s.confirm(reference)
	}
	return reference, nil
}

func (s *Sandbox) confirm(reference string) {
	time.Sleep(s.confirmAfter)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.publisher.PublishPaymentConfirmed(ctx, reference); err != nil {
		s.logger.Error("Sandbox confirmation failed", zap.String("reference", reference), zap.Error(err))
	}
}
