package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/seeklabs/bloxscout/internal/audit/domain"
	ledgerdomain "github.com/seeklabs/bloxscout/internal/ledger/domain"
	obsmetrics "github.com/seeklabs/bloxscout/internal/observability/metrics"
	"github.com/seeklabs/bloxscout/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	AuditSvc   auditdomain.Service `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}
}

// accountRow mirrors the balance columns read inside transactions.
type accountRow struct {
	AccountID      string
	Balance        int64
	TotalPurchased int64
	TotalUsed      int64
	Disabled       bool
}

func (s *Service) GetBalance(ctx context.Context, accountID string) (ledgerdomain.Balance, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return ledgerdomain.Balance{}, ledgerdomain.ErrInvalidAccount
	}

	var row accountRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureAccount(ctx, tx, accountID); err != nil {
			return err
		}
		got, err := s.getAccount(ctx, tx, accountID)
		if err != nil {
			return err
		}
		row = got
		return nil
	})
	if err != nil {
		return ledgerdomain.Balance{}, err
	}
	return balanceFromRow(row), nil
}

func (s *Service) Charge(ctx context.Context, req ledgerdomain.ChargeRequest) (*ledgerdomain.Transaction, ledgerdomain.Balance, error) {
	accountID := strings.TrimSpace(req.AccountID)
	if accountID == "" {
		return nil, ledgerdomain.Balance{}, ledgerdomain.ErrInvalidAccount
	}
	if req.Cost <= 0 {
		return nil, ledgerdomain.Balance{}, ledgerdomain.ErrInvalidAmount
	}

	var (
		entry *ledgerdomain.Transaction
		row   accountRow
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureAccount(ctx, tx, accountID); err != nil {
			return err
		}

		now := time.Now().UTC()
		// The conditional update is the only balance guard; check and
		// mutate must stay one statement so concurrent charges on the
		// same account race on the row, not on a stale read.
		result := tx.WithContext(ctx).Exec(
			`UPDATE account_balances
			 SET balance = balance - ?, total_used = total_used + ?, updated_at = ?
			 WHERE account_id = ? AND disabled = FALSE AND balance >= ?`,
			req.Cost, req.Cost, now, accountID, req.Cost,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			// Lock the re-read so the reported balance cannot move under
			// a concurrent spender before it reaches the caller.
			got, err := s.lockAccount(ctx, tx, accountID)
			if err != nil {
				return err
			}
			if got.Disabled {
				return ledgerdomain.ErrAccountDisabled
			}
			return &ledgerdomain.InsufficientBalanceError{Required: req.Cost, Available: got.Balance}
		}

		got, err := s.getAccount(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if err := checkConservation(got); err != nil {
			s.logDefect(accountID, "charge", got)
			return err
		}
		row = got

		entry = &ledgerdomain.Transaction{
			ID:            s.genID.Generate(),
			AccountID:     accountID,
			Kind:          ledgerdomain.KindUsage,
			Amount:        -req.Cost,
			BalanceBefore: got.Balance + req.Cost,
			BalanceAfter:  got.Balance,
			RequestID:     optionalString(req.RequestID),
			Description:   strings.TrimSpace(req.Description),
			CreatedAt:     now,
		}
		_, err = s.insertTransaction(ctx, tx, entry, false)
		return err
	})
	if err != nil {
		return nil, ledgerdomain.Balance{}, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordLedgerTransaction(ctx, string(ledgerdomain.KindUsage))
	}
	return entry, balanceFromRow(row), nil
}

func (s *Service) RecordFree(ctx context.Context, accountID, requestID, description string) (*ledgerdomain.Transaction, ledgerdomain.Balance, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, ledgerdomain.Balance{}, ledgerdomain.ErrInvalidAccount
	}

	var (
		entry *ledgerdomain.Transaction
		row   accountRow
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureAccount(ctx, tx, accountID); err != nil {
			return err
		}
		// Lock the row so zero-amount rows interleave consistently with
		// concurrent charges in the audit trail.
		got, err := s.lockAccount(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if err := checkConservation(got); err != nil {
			s.logDefect(accountID, "record_free", got)
			return err
		}
		row = got

		entry = &ledgerdomain.Transaction{
			ID:            s.genID.Generate(),
			AccountID:     accountID,
			Kind:          ledgerdomain.KindFreeUsage,
			Amount:        0,
			BalanceBefore: got.Balance,
			BalanceAfter:  got.Balance,
			RequestID:     optionalString(requestID),
			Description:   strings.TrimSpace(description),
			CreatedAt:     time.Now().UTC(),
		}
		_, err = s.insertTransaction(ctx, tx, entry, false)
		return err
	})
	if err != nil {
		return nil, ledgerdomain.Balance{}, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordLedgerTransaction(ctx, string(ledgerdomain.KindFreeUsage))
	}
	return entry, balanceFromRow(row), nil
}

func (s *Service) Credit(ctx context.Context, req ledgerdomain.CreditRequest) (*ledgerdomain.Transaction, ledgerdomain.Balance, error) {
	return s.grant(ctx, grantRequest{
		AccountID:   req.AccountID,
		Amount:      req.Amount,
		SourceID:    req.SourceID,
		Description: req.Description,
		Kind:        ledgerdomain.KindPurchase,
	})
}

func (s *Service) Refund(ctx context.Context, req ledgerdomain.RefundRequest) (*ledgerdomain.Transaction, ledgerdomain.Balance, error) {
	entry, balance, err := s.grant(ctx, grantRequest{
		AccountID:   req.AccountID,
		Amount:      req.Amount,
		SourceID:    req.SourceID,
		RequestID:   req.RequestID,
		Description: req.Description,
		Kind:        ledgerdomain.KindRefund,
	})
	if err != nil {
		return nil, ledgerdomain.Balance{}, err
	}
	s.audit(ctx, req.AccountID, "ledger.refund", map[string]any{
		"amount":     req.Amount,
		"source_id":  req.SourceID,
		"request_id": req.RequestID,
	})
	return entry, balance, nil
}

// grantRequest covers the two credit-adding kinds. Refunds are modeled as
// grants so total_purchased and total_used stay monotone.
type grantRequest struct {
	AccountID   string
	Amount      int64
	SourceID    string
	RequestID   string
	Description string
	Kind        ledgerdomain.Kind
}

func (s *Service) grant(ctx context.Context, req grantRequest) (*ledgerdomain.Transaction, ledgerdomain.Balance, error) {
	accountID := strings.TrimSpace(req.AccountID)
	if accountID == "" {
		return nil, ledgerdomain.Balance{}, ledgerdomain.ErrInvalidAccount
	}
	if req.Amount <= 0 {
		return nil, ledgerdomain.Balance{}, ledgerdomain.ErrInvalidAmount
	}
	sourceID := strings.TrimSpace(req.SourceID)
	if err := ledgerdomain.ValidateSourceID(sourceID); err != nil {
		return nil, ledgerdomain.Balance{}, err
	}

	var (
		entry    *ledgerdomain.Transaction
		row      accountRow
		inserted bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureAccount(ctx, tx, accountID); err != nil {
			return err
		}
		got, err := s.lockAccount(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if got.Disabled {
			return ledgerdomain.ErrAccountDisabled
		}
		if err := checkConservation(got); err != nil {
			s.logDefect(accountID, strings.ToLower(string(req.Kind)), got)
			return err
		}

		now := time.Now().UTC()
		entry = &ledgerdomain.Transaction{
			ID:            s.genID.Generate(),
			AccountID:     accountID,
			Kind:          req.Kind,
			Amount:        req.Amount,
			BalanceBefore: got.Balance,
			BalanceAfter:  got.Balance + req.Amount,
			SourceID:      &sourceID,
			RequestID:     optionalString(req.RequestID),
			Description:   strings.TrimSpace(req.Description),
			CreatedAt:     now,
		}

		inserted, err = s.insertTransaction(ctx, tx, entry, true)
		if err != nil {
			return err
		}
		if !inserted {
			// Replayed sourceID: return the recorded transaction and the
			// unchanged balance instead of double-crediting.
			existing, err := s.findBySource(ctx, tx, accountID, sourceID)
			if err != nil {
				return err
			}
			entry = existing
			row = got
			return nil
		}

		if err := tx.WithContext(ctx).Exec(
			`UPDATE account_balances
			 SET balance = balance + ?, total_purchased = total_purchased + ?, updated_at = ?
			 WHERE account_id = ?`,
			req.Amount, req.Amount, now, accountID,
		).Error; err != nil {
			return err
		}

		got, err = s.getAccount(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if err := checkConservation(got); err != nil {
			s.logDefect(accountID, strings.ToLower(string(req.Kind)), got)
			return err
		}
		row = got
		return nil
	})
	if err != nil {
		return nil, ledgerdomain.Balance{}, err
	}

	if inserted && s.obsMetrics != nil {
		s.obsMetrics.RecordLedgerTransaction(ctx, string(req.Kind))
	}
	return entry, balanceFromRow(row), nil
}

func (s *Service) Adjust(ctx context.Context, req ledgerdomain.AdjustRequest) (*ledgerdomain.Transaction, ledgerdomain.Balance, error) {
	accountID := strings.TrimSpace(req.AccountID)
	if accountID == "" {
		return nil, ledgerdomain.Balance{}, ledgerdomain.ErrInvalidAccount
	}
	if req.Amount == 0 {
		return nil, ledgerdomain.Balance{}, ledgerdomain.ErrInvalidAmount
	}

	var (
		entry *ledgerdomain.Transaction
		row   accountRow
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureAccount(ctx, tx, accountID); err != nil {
			return err
		}
		got, err := s.lockAccount(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if got.Disabled {
			return ledgerdomain.ErrAccountDisabled
		}
		if err := checkConservation(got); err != nil {
			s.logDefect(accountID, "adjust", got)
			return err
		}
		if got.Balance+req.Amount < 0 {
			return ledgerdomain.ErrNegativeBalance
		}

		now := time.Now().UTC()
		if req.Amount > 0 {
			err = tx.WithContext(ctx).Exec(
				`UPDATE account_balances
				 SET balance = balance + ?, total_purchased = total_purchased + ?, updated_at = ?
				 WHERE account_id = ?`,
				req.Amount, req.Amount, now, accountID,
			).Error
		} else {
			// Guard again at the statement level even though the row is
			// locked; the balance must never go negative.
			result := tx.WithContext(ctx).Exec(
				`UPDATE account_balances
				 SET balance = balance - ?, total_used = total_used + ?, updated_at = ?
				 WHERE account_id = ? AND balance >= ?`,
				-req.Amount, -req.Amount, now, accountID, -req.Amount,
			)
			err = result.Error
			if err == nil && result.RowsAffected == 0 {
				return ledgerdomain.ErrNegativeBalance
			}
		}
		if err != nil {
			return err
		}

		got, err = s.getAccount(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if err := checkConservation(got); err != nil {
			s.logDefect(accountID, "adjust", got)
			return err
		}
		row = got

		entry = &ledgerdomain.Transaction{
			ID:            s.genID.Generate(),
			AccountID:     accountID,
			Kind:          ledgerdomain.KindAdjustment,
			Amount:        req.Amount,
			BalanceBefore: got.Balance - req.Amount,
			BalanceAfter:  got.Balance,
			Description:   strings.TrimSpace(req.Description),
			CreatedAt:     now,
		}
		_, err = s.insertTransaction(ctx, tx, entry, false)
		return err
	})
	if err != nil {
		return nil, ledgerdomain.Balance{}, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordLedgerTransaction(ctx, string(ledgerdomain.KindAdjustment))
	}
	s.audit(ctx, accountID, "ledger.adjust", map[string]any{
		"amount": req.Amount,
		"actor":  strings.TrimSpace(req.Actor),
	})
	return entry, balanceFromRow(row), nil
}

func (s *Service) History(ctx context.Context, req ledgerdomain.ListTransactionsRequest) (ledgerdomain.ListTransactionsResponse, error) {
	accountID := strings.TrimSpace(req.AccountID)
	if accountID == "" {
		return ledgerdomain.ListTransactionsResponse{}, ledgerdomain.ErrInvalidAccount
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 250 {
		pageSize = 250
	}

	stmt := s.db.WithContext(ctx).Model(&ledgerdomain.Transaction{}).
		Where("account_id = ?", accountID)

	if kind := strings.ToUpper(strings.TrimSpace(req.Kind)); kind != "" {
		stmt = stmt.Where("kind = ?", kind)
	}

	if token := strings.TrimSpace(req.PageToken); token != "" {
		decoded, err := pagination.DecodeCursor(token)
		if err != nil {
			return ledgerdomain.ListTransactionsResponse{}, ledgerdomain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return ledgerdomain.ListTransactionsResponse{}, ledgerdomain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || id == 0 {
			return ledgerdomain.ListTransactionsResponse{}, ledgerdomain.ErrInvalidPageToken
		}
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			createdAt, createdAt, id,
		)
	}

	var rows []*ledgerdomain.Transaction
	if err := stmt.Order("created_at desc, id desc").Limit(pageSize + 1).Find(&rows).Error; err != nil {
		return ledgerdomain.ListTransactionsResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(rows, int32(pageSize), func(t *ledgerdomain.Transaction) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        t.ID.String(),
			CreatedAt: t.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if len(rows) > pageSize {
		rows = rows[:pageSize]
	}

	transactions := make([]ledgerdomain.Transaction, 0, len(rows))
	for _, row := range rows {
		transactions = append(transactions, *row)
	}

	return ledgerdomain.ListTransactionsResponse{
		PageInfo:     *pageInfo,
		Transactions: transactions,
	}, nil
}

func (s *Service) SetDisabled(ctx context.Context, accountID string, disabled bool) error {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return ledgerdomain.ErrInvalidAccount
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureAccount(ctx, tx, accountID); err != nil {
			return err
		}
		return tx.WithContext(ctx).Exec(
			`UPDATE account_balances SET disabled = ?, updated_at = ? WHERE account_id = ?`,
			disabled, time.Now().UTC(), accountID,
		).Error
	})
	if err != nil {
		return err
	}

	s.audit(ctx, accountID, "ledger.set_disabled", map[string]any{
		"disabled": disabled,
	})
	return nil
}

func (s *Service) VerifyIntegrity(ctx context.Context, accountID string) (ledgerdomain.IntegrityReport, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return ledgerdomain.IntegrityReport{}, ledgerdomain.ErrInvalidAccount
	}

	var result struct {
		Balance           int64
		TotalPurchased    int64
		TotalUsed         int64
		ComputedPurchased int64
		ComputedUsed      int64
		TransactionCount  int64
	}
	// One statement so the balance row and the aggregate read the same
	// snapshot.
	err := s.db.WithContext(ctx).Raw(
		`SELECT b.balance,
		        b.total_purchased,
		        b.total_used,
		        COALESCE(SUM(CASE WHEN t.amount > 0 THEN t.amount ELSE 0 END), 0) AS computed_purchased,
		        COALESCE(SUM(CASE WHEN t.amount < 0 THEN -t.amount ELSE 0 END), 0) AS computed_used,
		        COUNT(t.id) AS transaction_count
		 FROM account_balances b
		 LEFT JOIN ledger_transactions t ON t.account_id = b.account_id
		 WHERE b.account_id = ?
		 GROUP BY b.account_id, b.balance, b.total_purchased, b.total_used`,
		accountID,
	).Scan(&result).Error
	if err != nil {
		return ledgerdomain.IntegrityReport{}, err
	}

	report := ledgerdomain.IntegrityReport{
		AccountID:         accountID,
		Balance:           result.Balance,
		TotalPurchased:    result.TotalPurchased,
		TotalUsed:         result.TotalUsed,
		ComputedPurchased: result.ComputedPurchased,
		ComputedUsed:      result.ComputedUsed,
		TransactionCount:  result.TransactionCount,
	}
	report.Consistent = result.Balance == result.TotalPurchased-result.TotalUsed &&
		result.TotalPurchased == result.ComputedPurchased &&
		result.TotalUsed == result.ComputedUsed

	if !report.Consistent {
		s.log.Error("ledger integrity drift",
			zap.String("account_id", accountID),
			zap.Int64("balance", result.Balance),
			zap.Int64("total_purchased", result.TotalPurchased),
			zap.Int64("total_used", result.TotalUsed),
			zap.Int64("computed_purchased", result.ComputedPurchased),
			zap.Int64("computed_used", result.ComputedUsed),
		)
		if s.obsMetrics != nil {
			s.obsMetrics.RecordIntegrityDrift(ctx)
		}
	}
	return report, nil
}

func (s *Service) ensureAccount(ctx context.Context, tx *gorm.DB, accountID string) error {
	now := time.Now().UTC()
	return tx.WithContext(ctx).Exec(
		`INSERT INTO account_balances (account_id, balance, total_purchased, total_used, disabled, created_at, updated_at)
		 VALUES (?, 0, 0, 0, FALSE, ?, ?)
		 ON CONFLICT (account_id) DO NOTHING`,
		accountID, now, now,
	).Error
}

func (s *Service) getAccount(ctx context.Context, tx *gorm.DB, accountID string) (accountRow, error) {
	var row accountRow
	err := tx.WithContext(ctx).Raw(
		`SELECT account_id, balance, total_purchased, total_used, disabled
		 FROM account_balances WHERE account_id = ?`,
		accountID,
	).Scan(&row).Error
	if err != nil {
		return accountRow{}, err
	}
	if row.AccountID == "" {
		return accountRow{}, gorm.ErrRecordNotFound
	}
	return row, nil
}

func (s *Service) lockAccount(ctx context.Context, tx *gorm.DB, accountID string) (accountRow, error) {
	query := `SELECT account_id, balance, total_purchased, total_used, disabled
		 FROM account_balances WHERE account_id = ?`
	// SQLite has no row locks; its single writer serializes the whole
	// transaction instead.
	if !strings.EqualFold(tx.Dialector.Name(), "sqlite") {
		query += ` FOR UPDATE`
	}

	var row accountRow
	err := tx.WithContext(ctx).Raw(query, accountID).Scan(&row).Error
	if err != nil {
		return accountRow{}, err
	}
	if row.AccountID == "" {
		return accountRow{}, gorm.ErrRecordNotFound
	}
	return row, nil
}

func (s *Service) insertTransaction(ctx context.Context, tx *gorm.DB, entry *ledgerdomain.Transaction, idempotent bool) (bool, error) {
	if entry.BalanceBefore < 0 || entry.BalanceAfter < 0 ||
		entry.BalanceAfter != entry.BalanceBefore+entry.Amount {
		s.log.Error("ledger arithmetic violation",
			zap.String("account_id", entry.AccountID),
			zap.String("kind", string(entry.Kind)),
			zap.Int64("amount", entry.Amount),
			zap.Int64("balance_before", entry.BalanceBefore),
			zap.Int64("balance_after", entry.BalanceAfter),
		)
		return false, ledgerdomain.ErrIntegrity
	}

	query := `INSERT INTO ledger_transactions (
		id, account_id, kind, amount, balance_before, balance_after,
		source_id, request_id, description, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if idempotent {
		if strings.EqualFold(tx.Dialector.Name(), "postgres") {
			query += ` ON CONFLICT (account_id, source_id) WHERE source_id IS NOT NULL DO NOTHING`
		} else {
			query += ` ON CONFLICT (account_id, source_id) DO NOTHING`
		}
	}

	result := tx.WithContext(ctx).Exec(
		query,
		entry.ID,
		entry.AccountID,
		string(entry.Kind),
		entry.Amount,
		entry.BalanceBefore,
		entry.BalanceAfter,
		entry.SourceID,
		entry.RequestID,
		entry.Description,
		entry.CreatedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *Service) findBySource(ctx context.Context, tx *gorm.DB, accountID, sourceID string) (*ledgerdomain.Transaction, error) {
	var entry ledgerdomain.Transaction
	err := tx.WithContext(ctx).
		Where("account_id = ? AND source_id = ?", accountID, sourceID).
		First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *Service) audit(ctx context.Context, accountID, action string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	targetID := accountID
	if err := s.auditSvc.AuditLog(ctx, &accountID, action, "account", &targetID, metadata); err != nil {
		s.log.Warn("failed to write ledger audit log", zap.String("action", action), zap.Error(err))
	}
}

func (s *Service) logDefect(accountID, operation string, row accountRow) {
	s.log.Error("ledger conservation violation",
		zap.String("account_id", accountID),
		zap.String("operation", operation),
		zap.Int64("balance", row.Balance),
		zap.Int64("total_purchased", row.TotalPurchased),
		zap.Int64("total_used", row.TotalUsed),
	)
}

func checkConservation(row accountRow) error {
	if row.Balance < 0 || row.TotalPurchased < 0 || row.TotalUsed < 0 {
		return ledgerdomain.ErrIntegrity
	}
	if row.Balance != row.TotalPurchased-row.TotalUsed {
		return ledgerdomain.ErrIntegrity
	}
	return nil
}

func balanceFromRow(row accountRow) ledgerdomain.Balance {
	return ledgerdomain.Balance{
		AccountID:      row.AccountID,
		Balance:        row.Balance,
		TotalPurchased: row.TotalPurchased,
		TotalUsed:      row.TotalUsed,
		Disabled:       row.Disabled,
	}
}

func optionalString(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
