package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	auditdomain "github.com/seeklabs/bloxscout/internal/audit/domain"
	ledgerdomain "github.com/seeklabs/bloxscout/internal/ledger/domain"
	obsmetrics "github.com/seeklabs/bloxscout/internal/observability/metrics"
	paymentdomain "github.com/seeklabs/bloxscout/internal/payment/domain"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	LedgerSvc  ledgerdomain.Service
	AuditSvc   auditdomain.Service `optional:"true"`
	Repo       paymentdomain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	ledgerSvc  ledgerdomain.Service
	auditSvc   auditdomain.Service
	repo       paymentdomain.Repository
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.service"),
		genID:      p.GenID,
		ledgerSvc:  p.LedgerSvc,
		auditSvc:   p.AuditSvc,
		repo:       p.Repo,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) ProcessEvent(ctx context.Context, event *paymentdomain.PaymentEvent, payload []byte) error {
	if event == nil {
		return paymentdomain.ErrInvalidEvent
	}
	event.Provider = strings.ToLower(strings.TrimSpace(event.Provider))
	if event.Provider == "" {
		return paymentdomain.ErrInvalidProvider
	}
	if !json.Valid(payload) {
		return paymentdomain.ErrInvalidPayload
	}
	if err := validateEvent(event); err != nil {
		return err
	}

	now := time.Now().UTC()
	stored, fresh, err := s.storeOnce(ctx, event, payload, now)
	if err != nil {
		return err
	}
	if err := s.applyEvent(ctx, stored); err != nil {
		return err
	}
	if err := s.repo.MarkProcessed(ctx, s.db, stored.ID, now); err != nil {
		return err
	}

	if fresh && s.obsMetrics != nil {
		s.obsMetrics.RecordPaymentEvent(ctx, event.Provider, event.Type)
	}
	return nil
}

// storeOnce records the delivery, falling back to the previously stored row
// when the provider redelivers. A row that already settled stops the
// delivery here.
func (s *Service) storeOnce(ctx context.Context, event *paymentdomain.PaymentEvent, payload []byte, now time.Time) (*paymentdomain.EventRecord, bool, error) {
	received := paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		AccountID:       event.AccountID,
		Credits:         event.Credits,
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      now,
	}
	inserted, err := s.repo.InsertEvent(ctx, s.db, &received)
	if err != nil {
		return nil, false, err
	}
	if inserted {
		return &received, true, nil
	}

	stored, err := s.repo.FindEvent(ctx, s.db, event.Provider, event.ProviderEventID)
	if err != nil {
		return nil, false, err
	}
	if stored == nil {
		return nil, false, paymentdomain.ErrInvalidEvent
	}
	if stored.ProcessedAt != nil {
		return nil, false, paymentdomain.ErrEventAlreadyProcessed
	}
	return stored, false, nil
}

func validateEvent(event *paymentdomain.PaymentEvent) error {
	event.ProviderEventID = strings.TrimSpace(event.ProviderEventID)
	event.Type = strings.TrimSpace(event.Type)
	event.AccountID = strings.TrimSpace(event.AccountID)
	if event.ProviderEventID == "" || event.AccountID == "" || event.OccurredAt.IsZero() {
		return paymentdomain.ErrInvalidEvent
	}

	switch event.Type {
	case paymentdomain.EventTypePaymentSucceeded, paymentdomain.EventTypeRefunded:
		if event.Credits <= 0 {
			return paymentdomain.ErrInvalidAmount
		}
		return nil
	case paymentdomain.EventTypePaymentFailed:
		return nil
	default:
		return paymentdomain.ErrInvalidEvent
	}
}

// applyEvent settles against the stored record, not the incoming one, so a
// replay with altered amounts cannot change what was originally delivered.
func (s *Service) applyEvent(ctx context.Context, stored *paymentdomain.EventRecord) error {
	switch stored.EventType {
	case paymentdomain.EventTypePaymentSucceeded:
		return s.settlePayment(ctx, stored)
	case paymentdomain.EventTypeRefunded:
		return s.settleRefund(ctx, stored)
	case paymentdomain.EventTypePaymentFailed:
		s.audit(ctx, "payment.failed", stored, nil)
		return nil
	}
	return paymentdomain.ErrInvalidEvent
}

func (s *Service) settlePayment(ctx context.Context, stored *paymentdomain.EventRecord) error {
	// Credit replays are absorbed by the ledger's source id, so a crash
	// between apply and mark-processed cannot double-credit.
	_, balance, err := s.ledgerSvc.Credit(ctx, ledgerdomain.CreditRequest{
		AccountID:   stored.AccountID,
		Amount:      stored.Credits,
		SourceID:    sourceID(stored),
		Description: "credit purchase",
	})
	if err != nil {
		return err
	}
	s.audit(ctx, "payment.received", stored, map[string]any{"balance": balance.Balance})
	return nil
}

func (s *Service) settleRefund(ctx context.Context, stored *paymentdomain.EventRecord) error {
	_, balance, err := s.ledgerSvc.Adjust(ctx, ledgerdomain.AdjustRequest{
		AccountID:   stored.AccountID,
		Amount:      -stored.Credits,
		Actor:       "payment_webhook",
		Description: "purchase refunded " + sourceID(stored),
	})
	if err != nil {
		if errors.Is(err, ledgerdomain.ErrNegativeBalance) {
			// The credits were already spent. Record the shortfall for
			// operators instead of failing the delivery forever.
			s.log.Warn("refund exceeds remaining balance",
				zap.String("account_id", stored.AccountID),
				zap.Int64("credits", stored.Credits))
			s.audit(ctx, "payment.refund_unapplied", stored, map[string]any{"credits": stored.Credits})
			return nil
		}
		return err
	}
	s.audit(ctx, "payment.refunded", stored, map[string]any{"balance": balance.Balance})
	return nil
}

func sourceID(stored *paymentdomain.EventRecord) string {
	return stored.Provider + ":" + stored.ProviderEventID
}

func (s *Service) audit(ctx context.Context, action string, stored *paymentdomain.EventRecord, extra map[string]any) {
	if s.auditSvc == nil {
		return
	}
	metadata := map[string]any{
		"provider":          stored.Provider,
		"provider_event_id": stored.ProviderEventID,
		"credits":           stored.Credits,
	}
	for k, v := range extra {
		metadata[k] = v
	}
	targetID := stored.ProviderEventID
	if err := s.auditSvc.AuditLog(ctx, &stored.AccountID, action, "payment_event", &targetID, metadata); err != nil {
		s.log.Warn("audit write failed",
			zap.String("action", action),
			zap.Error(err))
	}
}
