package server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/seeklabs/bloxscout/internal/audit/domain"
	"github.com/seeklabs/bloxscout/internal/config"
	ledgerdomain "github.com/seeklabs/bloxscout/internal/ledger/domain"
	meteringdomain "github.com/seeklabs/bloxscout/internal/metering/domain"
	paymentdomain "github.com/seeklabs/bloxscout/internal/payment/domain"
	"github.com/seeklabs/bloxscout/internal/payment/webhook"
	cachedomain "github.com/seeklabs/bloxscout/internal/searchcache/domain"
	"github.com/seeklabs/bloxscout/internal/statement"
)

type fakeMeteringService struct {
	mu      sync.Mutex
	result  *meteringdomain.SearchResult
	err     error
	lastReq *meteringdomain.SearchRequest
}

func (f *fakeMeteringService) Search(_ context.Context, req meteringdomain.SearchRequest) (*meteringdomain.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reqCopy := req
	f.lastReq = &reqCopy
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeLedgerService struct {
	balance      ledgerdomain.Balance
	balanceErr   error
	history      ledgerdomain.ListTransactionsResponse
	historyReq   *ledgerdomain.ListTransactionsRequest
	historyErr   error
	integrity    ledgerdomain.IntegrityReport
	integrityErr error

	creditReq   *ledgerdomain.CreditRequest
	creditErr   error
	adjustReq   *ledgerdomain.AdjustRequest
	adjustErr   error
	refundReq   *ledgerdomain.RefundRequest
	refundErr   error
	disabledSet map[string]bool
}

func (f *fakeLedgerService) GetBalance(context.Context, string) (ledgerdomain.Balance, error) {
	return f.balance, f.balanceErr
}

func (f *fakeLedgerService) Charge(context.Context, ledgerdomain.ChargeRequest) (*ledgerdomain.Transaction, ledgerdomain.Balance, error) {
	return nil, ledgerdomain.Balance{}, nil
}

func (f *fakeLedgerService) RecordFree(context.Context, string, string, string) (*ledgerdomain.Transaction, ledgerdomain.Balance, error) {
	return nil, ledgerdomain.Balance{}, nil
}

func (f *fakeLedgerService) Credit(_ context.Context, req ledgerdomain.CreditRequest) (*ledgerdomain.Transaction, ledgerdomain.Balance, error) {
	f.creditReq = &req
	if f.creditErr != nil {
		return nil, ledgerdomain.Balance{}, f.creditErr
	}
	return &ledgerdomain.Transaction{AccountID: req.AccountID, Kind: ledgerdomain.KindPurchase, Amount: req.Amount}, f.balance, nil
}

func (f *fakeLedgerService) Refund(_ context.Context, req ledgerdomain.RefundRequest) (*ledgerdomain.Transaction, ledgerdomain.Balance, error) {
	f.refundReq = &req
	if f.refundErr != nil {
		return nil, ledgerdomain.Balance{}, f.refundErr
	}
	return &ledgerdomain.Transaction{AccountID: req.AccountID, Kind: ledgerdomain.KindRefund, Amount: req.Amount}, f.balance, nil
}

func (f *fakeLedgerService) Adjust(_ context.Context, req ledgerdomain.AdjustRequest) (*ledgerdomain.Transaction, ledgerdomain.Balance, error) {
	f.adjustReq = &req
	if f.adjustErr != nil {
		return nil, ledgerdomain.Balance{}, f.adjustErr
	}
	return &ledgerdomain.Transaction{AccountID: req.AccountID, Kind: ledgerdomain.KindAdjustment, Amount: req.Amount}, f.balance, nil
}

func (f *fakeLedgerService) History(_ context.Context, req ledgerdomain.ListTransactionsRequest) (ledgerdomain.ListTransactionsResponse, error) {
	f.historyReq = &req
	return f.history, f.historyErr
}

func (f *fakeLedgerService) SetDisabled(_ context.Context, accountID string, disabled bool) error {
	if f.disabledSet == nil {
		f.disabledSet = map[string]bool{}
	}
	f.disabledSet[accountID] = disabled
	return nil
}

func (f *fakeLedgerService) VerifyIntegrity(context.Context, string) (ledgerdomain.IntegrityReport, error) {
	return f.integrity, f.integrityErr
}

type fakeCacheService struct {
	stats    cachedomain.Stats
	statsErr error
	evicted  int64
	evictErr error
	lastAge  time.Duration
}

func (f *fakeCacheService) Lookup(context.Context, cachedomain.Key) (*cachedomain.Entry, error) {
	return nil, cachedomain.ErrMiss
}

func (f *fakeCacheService) Store(context.Context, cachedomain.StoreRequest) (*cachedomain.Entry, error) {
	return nil, nil
}

func (f *fakeCacheService) EvictOlderThan(_ context.Context, age time.Duration) (int64, error) {
	f.lastAge = age
	return f.evicted, f.evictErr
}

func (f *fakeCacheService) Stats(context.Context, string) (cachedomain.Stats, error) {
	return f.stats, f.statsErr
}

type fakePaymentService struct {
	err         error
	lastEvent   *paymentdomain.PaymentEvent
	lastPayload []byte
}

func (f *fakePaymentService) ProcessEvent(_ context.Context, event *paymentdomain.PaymentEvent, payload []byte) error {
	f.lastEvent = event
	f.lastPayload = payload
	return f.err
}

type authzCall struct {
	Actor  string
	Object string
	Action string
}

type fakeAuthz struct {
	deny  map[string]error
	calls []authzCall
}

func (f *fakeAuthz) Authorize(_ context.Context, actor, object, action string) error {
	f.calls = append(f.calls, authzCall{Actor: actor, Object: object, Action: action})
	if f.deny == nil {
		return nil
	}
	return f.deny[object+":"+action]
}

type fakeAuditService struct {
	entries  []string
	listReq  *auditdomain.ListAuditLogRequest
	listResp auditdomain.ListAuditLogResponse
	listErr  error
}

func (f *fakeAuditService) AuditLog(_ context.Context, _ *string, action string, _ string, _ *string, _ map[string]any) error {
	f.entries = append(f.entries, action)
	return nil
}

func (f *fakeAuditService) List(_ context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	f.listReq = &req
	return f.listResp, f.listErr
}

type fakeStatementService struct {
	resp *statement.RenderResponse
	err  error
}

func (f *fakeStatementService) Render(context.Context, string) (*statement.RenderResponse, error) {
	return f.resp, f.err
}

type serverFixture struct {
	srv       *Server
	engine    *gin.Engine
	metering  *fakeMeteringService
	ledger    *fakeLedgerService
	cache     *fakeCacheService
	payment   *fakePaymentService
	authz     *fakeAuthz
	audit     *fakeAuditService
	statement *fakeStatementService
}

const testWebhookSecret = "whsec_test"

func newServerFixture(t *testing.T, mutate func(cfg *config.Config)) *serverFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Config{}
	cfg.Search.PublicMode = true
	cfg.Search.PublicAccountID = "acct_public"
	if mutate != nil {
		mutate(&cfg)
	}

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	f := &serverFixture{
		engine:    engine,
		metering:  &fakeMeteringService{},
		ledger:    &fakeLedgerService{},
		cache:     &fakeCacheService{},
		payment:   &fakePaymentService{},
		authz:     &fakeAuthz{},
		audit:     &fakeAuditService{},
		statement: &fakeStatementService{},
	}

	f.srv = NewServer(ServerParams{
		Gin:          engine,
		Cfg:          cfg,
		MeteringSvc:  f.metering,
		LedgerSvc:    f.ledger,
		CacheSvc:     f.cache,
		StatementSvc: f.statement,
		PaymentSvc:   f.payment,
		Verifier:     webhook.NewVerifier(testWebhookSecret),
		AuthzSvc:     f.authz,
		AuditSvc:     f.audit,
	})
	return f
}

func (f *serverFixture) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func decodeErrorPayload(t *testing.T, w *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v (body %q)", err, w.Body.String())
	}
	return resp.Error
}
