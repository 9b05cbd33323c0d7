package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/seeklabs/bloxscout/internal/config"
	ledgerdomain "github.com/seeklabs/bloxscout/internal/ledger/domain"
	lookupdomain "github.com/seeklabs/bloxscout/internal/lookup/domain"
	meteringdomain "github.com/seeklabs/bloxscout/internal/metering/domain"
	obsmetrics "github.com/seeklabs/bloxscout/internal/observability/metrics"
	"github.com/seeklabs/bloxscout/internal/observability/obscontext"
	"github.com/seeklabs/bloxscout/internal/ratelimit"
	cachedomain "github.com/seeklabs/bloxscout/internal/searchcache/domain"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Cfg        config.Config
	Pricing    *config.PricingHolder
	LedgerSvc  ledgerdomain.Service
	CacheSvc   cachedomain.Service
	Limiter    ratelimit.Limiter
	LookupCli  lookupdomain.Client
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	pricing    *config.PricingHolder
	ledgerSvc  ledgerdomain.Service
	cacheSvc   cachedomain.Service
	limiter    ratelimit.Limiter
	lookupCli  lookupdomain.Client
	obsMetrics *obsmetrics.Metrics

	minTermLength   int
	publicMode      bool
	publicAccountID string
}

func NewService(p Params) meteringdomain.Service {
	return &Service{
		log:        p.Log.Named("metering.service"),
		pricing:    p.Pricing,
		ledgerSvc:  p.LedgerSvc,
		cacheSvc:   p.CacheSvc,
		limiter:    p.Limiter,
		lookupCli:  p.LookupCli,
		obsMetrics: p.ObsMetrics,

		minTermLength:   p.Cfg.Search.MinTermLength,
		publicMode:      p.Cfg.Search.PublicMode,
		publicAccountID: p.Cfg.Search.PublicAccountID,
	}
}

// Search runs the metering pipeline: admission for public callers, then
// cache, then balance, then the upstream call, then settlement. A cache
// hit never reaches the upstream API and is never charged.
func (s *Service) Search(ctx context.Context, req meteringdomain.SearchRequest) (*meteringdomain.SearchResult, error) {
	term := strings.TrimSpace(req.Term)
	if utf8.RuneCountInString(term) < s.minTermLength {
		return nil, meteringdomain.ErrTermTooShort
	}
	mode, err := lookupdomain.ParseMode(string(req.Mode))
	if err != nil {
		return nil, err
	}

	accountID := strings.TrimSpace(req.AccountID)
	if req.Public {
		if !s.publicMode {
			return nil, meteringdomain.ErrPublicModeDisabled
		}
		accountID = s.publicAccountID
		if err := s.admit(ctx, req.Identity); err != nil {
			s.recordSearch(ctx, mode, "rate_limited")
			return nil, err
		}
	} else if accountID == "" {
		return nil, ledgerdomain.ErrInvalidAccount
	}

	requestID := s.requestID(ctx)
	log := s.log.With(
		zap.String("request_id", requestID),
		zap.String("account_id", accountID),
		zap.String("mode", string(mode)),
	)

	key := cachedomain.Key{AccountID: accountID, Term: term, Mode: string(mode)}.Normalize()

	result, err := s.serveFromCache(ctx, log, key, accountID, requestID)
	if err == nil {
		s.recordSearch(ctx, mode, "cache_hit")
		return result, nil
	}
	if !errors.Is(err, cachedomain.ErrMiss) {
		return nil, err
	}

	cost, err := s.costFor(mode)
	if err != nil {
		return nil, err
	}

	// Both modes verify the nominal cost is payable before the upstream
	// call; fuzzy charges up front, exact charges only after a match.
	var charged *ledgerdomain.Transaction
	if !req.Public {
		switch mode {
		case lookupdomain.ModeFuzzy:
			tx, _, err := s.ledgerSvc.Charge(ctx, ledgerdomain.ChargeRequest{
				AccountID:   accountID,
				Cost:        cost,
				RequestID:   requestID,
				Description: "fuzzy search",
			})
			if err != nil {
				s.recordSearch(ctx, mode, rejectionOutcome(err))
				return nil, err
			}
			charged = tx
		case lookupdomain.ModeExact:
			balance, err := s.ledgerSvc.GetBalance(ctx, accountID)
			if err != nil {
				return nil, err
			}
			if balance.Disabled {
				s.recordSearch(ctx, mode, "account_disabled")
				return nil, ledgerdomain.ErrAccountDisabled
			}
			if balance.Balance < cost {
				s.recordSearch(ctx, mode, "insufficient_balance")
				return nil, &ledgerdomain.InsufficientBalanceError{Required: cost, Available: balance.Balance}
			}
		}
	}

	upstream, err := s.lookupCli.Lookup(ctx, term, mode)
	if err != nil {
		if s.obsMetrics != nil {
			s.obsMetrics.RecordLookupCall(ctx, string(mode), "error")
		}
		if charged != nil {
			if rerr := s.compensate(ctx, log, charged, requestID); rerr != nil {
				return nil, rerr
			}
		}
		s.recordSearch(ctx, mode, "upstream_unavailable")
		return nil, err
	}
	if s.obsMetrics != nil {
		s.obsMetrics.RecordLookupCall(ctx, string(mode), string(upstream.Status))
	}

	var (
		free  bool
		entry *ledgerdomain.Transaction
	)
	switch {
	case req.Public:
		free = true
		entry, _, err = s.ledgerSvc.RecordFree(ctx, accountID, requestID, "public search")
	case mode == lookupdomain.ModeExact && upstream.Status == lookupdomain.StatusNoMatch:
		free = true
		entry, _, err = s.ledgerSvc.RecordFree(ctx, accountID, requestID, "exact search without a match")
	case mode == lookupdomain.ModeExact:
		entry, _, err = s.ledgerSvc.Charge(ctx, ledgerdomain.ChargeRequest{
			AccountID:   accountID,
			Cost:        cost,
			RequestID:   requestID,
			Description: "exact search",
		})
		if err != nil {
			// Lost the race for the remaining balance after the upstream
			// call; nothing is cached because nothing was paid for.
			s.recordSearch(ctx, mode, rejectionOutcome(err))
			return nil, err
		}
	default:
		entry = charged
	}
	if err != nil {
		return nil, err
	}

	s.storeResult(ctx, log, key, upstream)

	creditsCharged := cost
	if free {
		creditsCharged = 0
	}
	s.recordSearch(ctx, mode, string(upstream.Status))
	return &meteringdomain.SearchResult{
		RequestID:      requestID,
		Status:         upstream.Status,
		FromCache:      false,
		Free:           free,
		CreditsCharged: creditsCharged,
		TransactionID:  entry.ID.String(),
		Payload:        upstream.Payload,
	}, nil
}

// serveFromCache returns the cached entry for the key, recording a free
// usage row for the hit. Misses surface cachedomain.ErrMiss.
func (s *Service) serveFromCache(ctx context.Context, log *zap.Logger, key cachedomain.Key, accountID, requestID string) (*meteringdomain.SearchResult, error) {
	entry, err := s.cacheSvc.Lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	tx, _, err := s.ledgerSvc.RecordFree(ctx, accountID, requestID, "served from cache")
	if err != nil {
		return nil, err
	}
	log.Debug("served from cache", zap.Int64("access_count", entry.AccessCount))
	return &meteringdomain.SearchResult{
		RequestID:     requestID,
		Status:        lookupdomain.Status(entry.Status),
		FromCache:     true,
		Free:          true,
		TransactionID: tx.ID.String(),
		Payload:       entry.Payload,
	}, nil
}

func (s *Service) admit(ctx context.Context, identity string) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return meteringdomain.ErrIdentityRequired
	}
	decision, err := s.limiter.Admit(ctx, identity)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		if s.obsMetrics != nil {
			s.obsMetrics.RecordRateLimitDenied(ctx, "public_search", "window_exhausted")
		}
		return &meteringdomain.RateLimitedError{RetryAfter: decision.RetryAfter}
	}
	if s.obsMetrics != nil {
		s.obsMetrics.RecordRateLimitAllowed(ctx, "public_search")
	}
	return nil
}

// compensate returns a provisional fuzzy charge after the upstream call
// failed. The refund source derives from the charge row, not the request
// id: a caller retrying under the same request id pays a fresh charge,
// so its compensation must be fresh too instead of replaying the first
// attempt's. A refund that itself fails leaves the ledger holding a
// charge for work never delivered; that surfaces as a defect, not as
// retryable.
func (s *Service) compensate(ctx context.Context, log *zap.Logger, charged *ledgerdomain.Transaction, requestID string) error {
	amount := -charged.Amount
	_, _, err := s.ledgerSvc.Refund(ctx, ledgerdomain.RefundRequest{
		AccountID:   charged.AccountID,
		Amount:      amount,
		SourceID:    "refund:" + charged.ID.String(),
		RequestID:   requestID,
		Description: "lookup unavailable",
	})
	if err != nil {
		log.Error("compensating refund failed",
			zap.Int64("amount", amount),
			zap.Error(err))
		return fmt.Errorf("%w: %v", meteringdomain.ErrSettlement, err)
	}
	return nil
}

// storeResult persists definitive outcomes. Cache failures never fail the
// request; the caller already has the answer.
func (s *Service) storeResult(ctx context.Context, log *zap.Logger, key cachedomain.Key, upstream *lookupdomain.Result) {
	status := cachedomain.StatusSuccess
	if upstream.Status == lookupdomain.StatusNoMatch {
		status = cachedomain.StatusNoMatch
	}
	if _, err := s.cacheSvc.Store(ctx, cachedomain.StoreRequest{
		Key:     key,
		Status:  status,
		Payload: upstream.Payload,
	}); err != nil {
		log.Warn("result cache store failed", zap.Error(err))
		if s.obsMetrics != nil {
			s.obsMetrics.RecordCacheEvent(ctx, "store_error")
		}
	}
}

func (s *Service) costFor(mode lookupdomain.Mode) (int64, error) {
	cost, ok := s.pricing.Get().CostFor(string(mode))
	if !ok {
		return 0, fmt.Errorf("no price configured for mode %q", mode)
	}
	return cost, nil
}

func (s *Service) requestID(ctx context.Context) string {
	if id := obscontext.RequestIDFromContext(ctx); id != "" {
		return id
	}
	return ulid.Make().String()
}

func (s *Service) recordSearch(ctx context.Context, mode lookupdomain.Mode, outcome string) {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordSearch(ctx, string(mode), outcome)
	}
}

func rejectionOutcome(err error) string {
	switch {
	case errors.Is(err, ledgerdomain.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ledgerdomain.ErrAccountDisabled):
		return "account_disabled"
	}
	return "error"
}
