package statement

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/seeklabs/bloxscout/internal/clock"
	ledgerdomain "github.com/seeklabs/bloxscout/internal/ledger/domain"
	"github.com/seeklabs/bloxscout/internal/providers/pdf"
	"github.com/seeklabs/bloxscout/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// statementLineLimit caps how many ledger rows one statement carries.
const statementLineLimit = 250

var ErrRenderFailed = errors.New("statement_render_failed")

type RenderResponse struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Service renders a downloadable credit statement for an account: the
// current balance summary plus the most recent ledger activity.
type Service interface {
	Render(ctx context.Context, accountID string) (*RenderResponse, error)
}

type Params struct {
	fx.In

	Log       *zap.Logger
	LedgerSvc ledgerdomain.Service
	PDF       pdf.Provider
	Clock     clock.Clock
}

type service struct {
	log       *zap.Logger
	ledgerSvc ledgerdomain.Service
	pdf       pdf.Provider
	clock     clock.Clock
}

func NewService(p Params) Service {
	return &service{
		log:       p.Log.Named("statement.service"),
		ledgerSvc: p.LedgerSvc,
		pdf:       p.PDF,
		clock:     p.Clock,
	}
}

func (s *service) Render(ctx context.Context, accountID string) (*RenderResponse, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, ledgerdomain.ErrInvalidAccount
	}

	balance, err := s.ledgerSvc.GetBalance(ctx, accountID)
	if err != nil {
		return nil, err
	}

	history, err := s.ledgerSvc.History(ctx, ledgerdomain.ListTransactionsRequest{
		Pagination: pagination.Pagination{PageSize: statementLineLimit},
		AccountID:  accountID,
	})
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	data := pdf.StatementData{
		AccountID:      accountID,
		GeneratedAt:    now.Format("2006-01-02 15:04 UTC"),
		Period:         periodLabel(history.Transactions, now),
		Balance:        strconv.FormatInt(balance.Balance, 10),
		TotalPurchased: strconv.FormatInt(balance.TotalPurchased, 10),
		TotalUsed:      strconv.FormatInt(balance.TotalUsed, 10),
	}
	for _, tx := range history.Transactions {
		data.Lines = append(data.Lines, pdf.StatementLine{
			Date:         tx.CreatedAt.UTC().Format("2006-01-02"),
			Kind:         string(tx.Kind),
			Description:  tx.Description,
			Amount:       formatAmount(tx.Amount),
			BalanceAfter: strconv.FormatInt(tx.BalanceAfter, 10),
		})
	}

	reader, err := s.pdf.GenerateStatement(ctx, data)
	if err != nil {
		s.log.Error("statement render failed",
			zap.String("account_id", accountID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrRenderFailed, err)
	}
	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRenderFailed, err)
	}

	return &RenderResponse{
		Filename:    fmt.Sprintf("credit-statement-%s-%s.pdf", accountID, now.Format("20060102")),
		ContentType: "application/pdf",
		Content:     content,
	}, nil
}

// periodLabel spans from the oldest transaction on the statement to now.
// History returns rows newest first.
func periodLabel(transactions []ledgerdomain.Transaction, now time.Time) string {
	if len(transactions) == 0 {
		return now.Format("2006-01-02")
	}
	oldest := transactions[len(transactions)-1].CreatedAt.UTC()
	return fmt.Sprintf("%s to %s", oldest.Format("2006-01-02"), now.Format("2006-01-02"))
}

func formatAmount(amount int64) string {
	if amount > 0 {
		return "+" + strconv.FormatInt(amount, 10)
	}
	return strconv.FormatInt(amount, 10)
}
