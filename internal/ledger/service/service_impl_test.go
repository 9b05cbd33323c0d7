package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	ledgerdomain "github.com/seeklabs/bloxscout/internal/ledger/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return node
}

func setupLedgerService(t *testing.T) (ledgerdomain.Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	_ = db.Exec("PRAGMA busy_timeout = 5000").Error
	_ = db.Exec("PRAGMA journal_mode = WAL").Error

	prepareLedgerSchema(t, db)

	service := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: mustNode(t),
	})
	return service, db
}

func prepareLedgerSchema(t *testing.T, db *gorm.DB) {
	t.Helper()
	if err := db.Exec(`CREATE TABLE account_balances (
		account_id TEXT PRIMARY KEY,
		balance BIGINT NOT NULL DEFAULT 0,
		total_purchased BIGINT NOT NULL DEFAULT 0,
		total_used BIGINT NOT NULL DEFAULT 0,
		disabled BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`).Error; err != nil {
		t.Fatalf("create account_balances: %v", err)
	}
	if err := db.Exec(`CREATE TABLE ledger_transactions (
		id BIGINT PRIMARY KEY,
		account_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		amount BIGINT NOT NULL,
		balance_before BIGINT NOT NULL,
		balance_after BIGINT NOT NULL,
		source_id TEXT,
		request_id TEXT,
		description TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	)`).Error; err != nil {
		t.Fatalf("create ledger_transactions: %v", err)
	}
	if err := db.Exec(`CREATE UNIQUE INDEX ux_ledger_transactions_source
		ON ledger_transactions (account_id, source_id)`).Error; err != nil {
		t.Fatalf("create source index: %v", err)
	}
}

func countTransactions(t *testing.T, db *gorm.DB, accountID, kind string) int64 {
	t.Helper()
	var count int64
	stmt := db.Model(&ledgerdomain.Transaction{}).Where("account_id = ?", accountID)
	if kind != "" {
		stmt = stmt.Where("kind = ?", kind)
	}
	if err := stmt.Count(&count).Error; err != nil {
		t.Fatalf("count transactions: %v", err)
	}
	return count
}

func TestGetBalanceCreatesAccount(t *testing.T) {
	service, db := setupLedgerService(t)
	ctx := context.Background()

	balance, err := service.GetBalance(ctx, "acct-1")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance.Balance != 0 || balance.TotalPurchased != 0 || balance.TotalUsed != 0 {
		t.Fatalf("expected zero balance, got %+v", balance)
	}
	if balance.Disabled {
		t.Fatal("expected new account enabled")
	}

	var count int64
	if err := db.Model(&ledgerdomain.AccountBalance{}).Where("account_id = ?", "acct-1").Count(&count).Error; err != nil {
		t.Fatalf("count accounts: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected account row, got %d", count)
	}
}

func TestChargeDecrementsBalance(t *testing.T) {
	service, _ := setupLedgerService(t)
	ctx := context.Background()

	if _, _, err := service.Credit(ctx, ledgerdomain.CreditRequest{
		AccountID: "acct-1",
		Amount:    10,
		SourceID:  "pay_001",
	}); err != nil {
		t.Fatalf("credit: %v", err)
	}

	entry, balance, err := service.Charge(ctx, ledgerdomain.ChargeRequest{
		AccountID:   "acct-1",
		Cost:        3,
		RequestID:   "req-1",
		Description: "fuzzy search",
	})
	if err != nil {
		t.Fatalf("charge: %v", err)
	}

	if entry.Kind != ledgerdomain.KindUsage {
		t.Fatalf("expected usage kind, got %s", entry.Kind)
	}
	if entry.Amount != -3 {
		t.Fatalf("expected amount -3, got %d", entry.Amount)
	}
	if entry.BalanceBefore != 10 || entry.BalanceAfter != 7 {
		t.Fatalf("expected 10 -> 7, got %d -> %d", entry.BalanceBefore, entry.BalanceAfter)
	}
	if entry.RequestID == nil || *entry.RequestID != "req-1" {
		t.Fatalf("expected request id recorded, got %v", entry.RequestID)
	}
	if balance.Balance != 7 || balance.TotalPurchased != 10 || balance.TotalUsed != 3 {
		t.Fatalf("unexpected balance %+v", balance)
	}
	if balance.Balance != balance.TotalPurchased-balance.TotalUsed {
		t.Fatalf("conservation violated: %+v", balance)
	}
}

func TestChargeInsufficientBalance(t *testing.T) {
	service, db := setupLedgerService(t)
	ctx := context.Background()

	if _, _, err := service.Credit(ctx, ledgerdomain.CreditRequest{
		AccountID: "acct-1",
		Amount:    2,
		SourceID:  "pay_001",
	}); err != nil {
		t.Fatalf("credit: %v", err)
	}

	_, _, err := service.Charge(ctx, ledgerdomain.ChargeRequest{AccountID: "acct-1", Cost: 5})
	if !errors.Is(err, ledgerdomain.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}

	var detail *ledgerdomain.InsufficientBalanceError
	if !errors.As(err, &detail) {
		t.Fatalf("expected detailed error, got %T", err)
	}
	if detail.Required != 5 || detail.Available != 2 {
		t.Fatalf("unexpected detail %+v", detail)
	}

	if count := countTransactions(t, db, "acct-1", string(ledgerdomain.KindUsage)); count != 0 {
		t.Fatalf("expected no usage rows, got %d", count)
	}
	balance, err := service.GetBalance(ctx, "acct-1")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance.Balance != 2 {
		t.Fatalf("expected balance unchanged, got %d", balance.Balance)
	}
}

func TestChargeDisabledAccount(t *testing.T) {
	service, _ := setupLedgerService(t)
	ctx := context.Background()

	if _, _, err := service.Credit(ctx, ledgerdomain.CreditRequest{
		AccountID: "acct-1",
		Amount:    10,
		SourceID:  "pay_001",
	}); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := service.SetDisabled(ctx, "acct-1", true); err != nil {
		t.Fatalf("disable: %v", err)
	}

	if _, _, err := service.Charge(ctx, ledgerdomain.ChargeRequest{AccountID: "acct-1", Cost: 1}); !errors.Is(err, ledgerdomain.ErrAccountDisabled) {
		t.Fatalf("expected disabled error, got %v", err)
	}
	if _, _, err := service.Credit(ctx, ledgerdomain.CreditRequest{
		AccountID: "acct-1",
		Amount:    5,
		SourceID:  "pay_002",
	}); !errors.Is(err, ledgerdomain.ErrAccountDisabled) {
		t.Fatalf("expected disabled error on credit, got %v", err)
	}

	// Reads keep working while the account is disabled.
	balance, err := service.GetBalance(ctx, "acct-1")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if !balance.Disabled || balance.Balance != 10 {
		t.Fatalf("unexpected balance %+v", balance)
	}

	if err := service.SetDisabled(ctx, "acct-1", false); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if _, _, err := service.Charge(ctx, ledgerdomain.ChargeRequest{AccountID: "acct-1", Cost: 1}); err != nil {
		t.Fatalf("charge after enable: %v", err)
	}
}

func TestCreditIdempotentReplay(t *testing.T) {
	service, db := setupLedgerService(t)
	ctx := context.Background()

	req := ledgerdomain.CreditRequest{
		AccountID:   "acct-1",
		Amount:      10,
		SourceID:    "stripe_evt_123",
		Description: "credit pack",
	}

	first, _, err := service.Credit(ctx, req)
	if err != nil {
		t.Fatalf("credit first: %v", err)
	}
	second, balance, err := service.Credit(ctx, req)
	if err != nil {
		t.Fatalf("credit second: %v", err)
	}

	if first.ID != second.ID {
		t.Fatalf("expected idempotent credit, got %s vs %s", first.ID.String(), second.ID.String())
	}
	if balance.Balance != 10 {
		t.Fatalf("expected balance 10 after replay, got %d", balance.Balance)
	}
	if count := countTransactions(t, db, "acct-1", string(ledgerdomain.KindPurchase)); count != 1 {
		t.Fatalf("expected 1 purchase row, got %d", count)
	}
}

func TestConcurrentChargesNeverOverdraw(t *testing.T) {
	service, _ := setupLedgerService(t)
	ctx := context.Background()

	if _, _, err := service.Credit(ctx, ledgerdomain.CreditRequest{
		AccountID: "acct-1",
		Amount:    5,
		SourceID:  "pay_001",
	}); err != nil {
		t.Fatalf("credit: %v", err)
	}

	const attempts = 10
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		succeeded    int
		insufficient int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := service.Charge(ctx, ledgerdomain.ChargeRequest{AccountID: "acct-1", Cost: 1})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ledgerdomain.ErrInsufficientBalance):
				insufficient++
			default:
				t.Errorf("unexpected charge error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 5 || insufficient != 5 {
		t.Fatalf("expected 5 successes and 5 rejections, got %d and %d", succeeded, insufficient)
	}

	balance, err := service.GetBalance(ctx, "acct-1")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance.Balance != 0 || balance.TotalUsed != 5 {
		t.Fatalf("unexpected final balance %+v", balance)
	}
}

func TestRecordFreeZeroAmount(t *testing.T) {
	service, _ := setupLedgerService(t)
	ctx := context.Background()

	entry, balance, err := service.RecordFree(ctx, "acct-1", "req-9", "cache hit")
	if err != nil {
		t.Fatalf("record free: %v", err)
	}
	if entry.Kind != ledgerdomain.KindFreeUsage || entry.Amount != 0 {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if entry.BalanceBefore != 0 || entry.BalanceAfter != 0 {
		t.Fatalf("expected zero balances, got %d -> %d", entry.BalanceBefore, entry.BalanceAfter)
	}
	if balance.Balance != 0 {
		t.Fatalf("unexpected balance %+v", balance)
	}
}

func TestRefundIdempotent(t *testing.T) {
	service, db := setupLedgerService(t)
	ctx := context.Background()

	req := ledgerdomain.RefundRequest{
		AccountID:   "acct-1",
		Amount:      2,
		SourceID:    "refund:req-42",
		RequestID:   "req-42",
		Description: "fuzzy search failed upstream",
	}

	first, balance, err := service.Refund(ctx, req)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if first.Kind != ledgerdomain.KindRefund || first.Amount != 2 {
		t.Fatalf("unexpected entry %+v", first)
	}
	if balance.Balance != 2 || balance.TotalPurchased != 2 {
		t.Fatalf("unexpected balance %+v", balance)
	}

	second, balance, err := service.Refund(ctx, req)
	if err != nil {
		t.Fatalf("refund replay: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected idempotent refund, got %s vs %s", first.ID.String(), second.ID.String())
	}
	if balance.Balance != 2 {
		t.Fatalf("expected balance unchanged on replay, got %d", balance.Balance)
	}
	if count := countTransactions(t, db, "acct-1", string(ledgerdomain.KindRefund)); count != 1 {
		t.Fatalf("expected 1 refund row, got %d", count)
	}
}

func TestAdjustSignHandling(t *testing.T) {
	service, _ := setupLedgerService(t)
	ctx := context.Background()

	if _, _, err := service.Credit(ctx, ledgerdomain.CreditRequest{
		AccountID: "acct-1",
		Amount:    3,
		SourceID:  "pay_001",
	}); err != nil {
		t.Fatalf("credit: %v", err)
	}

	if _, _, err := service.Adjust(ctx, ledgerdomain.AdjustRequest{
		AccountID: "acct-1",
		Amount:    -5,
		Actor:     "admin:ops",
	}); !errors.Is(err, ledgerdomain.ErrNegativeBalance) {
		t.Fatalf("expected negative balance rejection, got %v", err)
	}

	entry, balance, err := service.Adjust(ctx, ledgerdomain.AdjustRequest{
		AccountID:   "acct-1",
		Amount:      -3,
		Actor:       "admin:ops",
		Description: "support correction",
	})
	if err != nil {
		t.Fatalf("adjust down: %v", err)
	}
	if entry.Kind != ledgerdomain.KindAdjustment || entry.Amount != -3 {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if balance.Balance != 0 || balance.TotalUsed != 3 {
		t.Fatalf("expected down adjustment to count as usage, got %+v", balance)
	}

	_, balance, err = service.Adjust(ctx, ledgerdomain.AdjustRequest{
		AccountID: "acct-1",
		Amount:    4,
		Actor:     "admin:ops",
	})
	if err != nil {
		t.Fatalf("adjust up: %v", err)
	}
	if balance.Balance != 4 || balance.TotalPurchased != 7 {
		t.Fatalf("expected up adjustment to count as purchase, got %+v", balance)
	}

	if _, _, err := service.Adjust(ctx, ledgerdomain.AdjustRequest{AccountID: "acct-1", Amount: 0}); !errors.Is(err, ledgerdomain.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
}

func TestHistoryPagination(t *testing.T) {
	service, _ := setupLedgerService(t)
	ctx := context.Background()

	if _, _, err := service.Credit(ctx, ledgerdomain.CreditRequest{
		AccountID: "acct-1",
		Amount:    10,
		SourceID:  "pay_001",
	}); err != nil {
		t.Fatalf("credit: %v", err)
	}
	for i := 0; i < 4; i++ {
		if _, _, err := service.Charge(ctx, ledgerdomain.ChargeRequest{
			AccountID: "acct-1",
			Cost:      1,
			RequestID: fmt.Sprintf("req-%d", i),
		}); err != nil {
			t.Fatalf("charge %d: %v", i, err)
		}
	}

	first, err := service.History(ctx, ledgerdomain.ListTransactionsRequest{AccountID: "acct-1"})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(first.Transactions) != 5 {
		t.Fatalf("expected 5 transactions, got %d", len(first.Transactions))
	}
	// Newest first.
	if first.Transactions[0].Kind != ledgerdomain.KindUsage {
		t.Fatalf("expected newest first, got %s", first.Transactions[0].Kind)
	}
	if first.Transactions[4].Kind != ledgerdomain.KindPurchase {
		t.Fatalf("expected purchase last, got %s", first.Transactions[4].Kind)
	}

	paged, err := service.History(ctx, ledgerdomain.ListTransactionsRequest{AccountID: "acct-1", Kind: "usage"})
	if err != nil {
		t.Fatalf("history filtered: %v", err)
	}
	if len(paged.Transactions) != 4 {
		t.Fatalf("expected 4 usage rows, got %d", len(paged.Transactions))
	}

	seen := map[string]bool{}
	var token string
	for page := 0; page < 3; page++ {
		req := ledgerdomain.ListTransactionsRequest{AccountID: "acct-1"}
		req.PageSize = 2
		req.PageToken = token
		resp, err := service.History(ctx, req)
		if err != nil {
			t.Fatalf("history page %d: %v", page, err)
		}
		for _, tx := range resp.Transactions {
			id := tx.ID.String()
			if seen[id] {
				t.Fatalf("transaction %s returned twice", id)
			}
			seen[id] = true
		}
		if !resp.HasMore {
			break
		}
		token = resp.NextPageToken
	}
	if len(seen) != 5 {
		t.Fatalf("expected 5 distinct transactions across pages, got %d", len(seen))
	}

	badReq := ledgerdomain.ListTransactionsRequest{AccountID: "acct-1"}
	badReq.PageToken = "not-base64"
	if _, err := service.History(ctx, badReq); !errors.Is(err, ledgerdomain.ErrInvalidPageToken) {
		t.Fatalf("expected invalid page token, got %v", err)
	}
}

func TestVerifyIntegrityDetectsDrift(t *testing.T) {
	service, db := setupLedgerService(t)
	ctx := context.Background()

	if _, _, err := service.Credit(ctx, ledgerdomain.CreditRequest{
		AccountID: "acct-1",
		Amount:    10,
		SourceID:  "pay_001",
	}); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if _, _, err := service.Charge(ctx, ledgerdomain.ChargeRequest{AccountID: "acct-1", Cost: 4}); err != nil {
		t.Fatalf("charge: %v", err)
	}

	report, err := service.VerifyIntegrity(ctx, "acct-1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !report.Consistent {
		t.Fatalf("expected consistent report, got %+v", report)
	}
	if report.ComputedPurchased != 10 || report.ComputedUsed != 4 || report.TransactionCount != 2 {
		t.Fatalf("unexpected aggregates %+v", report)
	}

	// Corrupt the balance row behind the ledger's back.
	if err := db.Exec(`UPDATE account_balances SET balance = balance + 1 WHERE account_id = ?`, "acct-1").Error; err != nil {
		t.Fatalf("corrupt: %v", err)
	}

	report, err = service.VerifyIntegrity(ctx, "acct-1")
	if err != nil {
		t.Fatalf("verify corrupted: %v", err)
	}
	if report.Consistent {
		t.Fatalf("expected drift detection, got %+v", report)
	}
}

func TestConservationUnderRandomOperationSequence(t *testing.T) {
	service, db := setupLedgerService(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(1))

	assertConserved := func(step int) {
		t.Helper()
		balance, err := service.GetBalance(ctx, "acct-1")
		if err != nil {
			t.Fatalf("step %d: get balance: %v", step, err)
		}
		if balance.Balance < 0 {
			t.Fatalf("step %d: negative balance %d", step, balance.Balance)
		}
		if balance.Balance != balance.TotalPurchased-balance.TotalUsed {
			t.Fatalf("step %d: conservation violated: %+v", step, balance)
		}
	}

	for i := 0; i < 200; i++ {
		var err error
		switch rng.Intn(4) {
		case 0:
			_, _, err = service.Credit(ctx, ledgerdomain.CreditRequest{
				AccountID: "acct-1",
				Amount:    int64(1 + rng.Intn(10)),
				SourceID:  fmt.Sprintf("pay_%d", i),
			})
		case 1:
			_, _, err = service.Charge(ctx, ledgerdomain.ChargeRequest{
				AccountID: "acct-1",
				Cost:      int64(1 + rng.Intn(10)),
				RequestID: fmt.Sprintf("req-%d", i),
			})
		case 2:
			_, _, err = service.Adjust(ctx, ledgerdomain.AdjustRequest{
				AccountID: "acct-1",
				Amount:    int64(rng.Intn(11) - 5),
				Actor:     "admin:ops",
			})
		case 3:
			_, _, err = service.RecordFree(ctx, "acct-1", fmt.Sprintf("req-%d", i), "cache hit")
		}
		if err != nil && !errors.Is(err, ledgerdomain.ErrInsufficientBalance) &&
			!errors.Is(err, ledgerdomain.ErrNegativeBalance) &&
			!errors.Is(err, ledgerdomain.ErrInvalidAmount) {
			t.Fatalf("step %d: unexpected error: %v", i, err)
		}
		assertConserved(i)
	}

	// The audit log must reproduce the final balance on its own.
	report, err := service.VerifyIntegrity(ctx, "acct-1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !report.Consistent {
		t.Fatalf("expected consistent ledger after sequence, got %+v", report)
	}
	if count := countTransactions(t, db, "acct-1", ""); count != report.TransactionCount {
		t.Fatalf("expected %d transactions, counted %d", report.TransactionCount, count)
	}
}

func TestValidationErrors(t *testing.T) {
	service, _ := setupLedgerService(t)
	ctx := context.Background()

	if _, err := service.GetBalance(ctx, "  "); !errors.Is(err, ledgerdomain.ErrInvalidAccount) {
		t.Fatalf("expected invalid account, got %v", err)
	}
	if _, _, err := service.Charge(ctx, ledgerdomain.ChargeRequest{AccountID: "acct-1", Cost: 0}); !errors.Is(err, ledgerdomain.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if _, _, err := service.Credit(ctx, ledgerdomain.CreditRequest{AccountID: "acct-1", Amount: 5}); !errors.Is(err, ledgerdomain.ErrInvalidSourceID) {
		t.Fatalf("expected invalid source id, got %v", err)
	}
	if _, _, err := service.Credit(ctx, ledgerdomain.CreditRequest{
		AccountID: "acct-1",
		Amount:    5,
		SourceID:  "bad source id",
	}); !errors.Is(err, ledgerdomain.ErrInvalidSourceID) {
		t.Fatalf("expected invalid source id for spaces, got %v", err)
	}
}
