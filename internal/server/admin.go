package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/seeklabs/bloxscout/internal/accountcontext"
	auditdomain "github.com/seeklabs/bloxscout/internal/audit/domain"
	ledgerdomain "github.com/seeklabs/bloxscout/internal/ledger/domain"
	"github.com/seeklabs/bloxscout/pkg/db/pagination"
	"go.uber.org/zap"
)

func pathAccountID(c *gin.Context) (string, bool) {
	accountID := strings.TrimSpace(c.Param("account_id"))
	if accountID == "" {
		AbortWithError(c, newValidationError("account_id", "invalid_account", "account id is required"))
		return "", false
	}
	return accountID, true
}

func (s *Server) AdminGetBalance(c *gin.Context) {
	accountID, ok := pathAccountID(c)
	if !ok {
		return
	}

	balance, err := s.ledgerSvc.GetBalance(c.Request.Context(), accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, balance)
}

func (s *Server) AdminListLedger(c *gin.Context) {
	accountID, ok := pathAccountID(c)
	if !ok {
		return
	}

	var query listHistoryQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.ledgerSvc.History(c.Request.Context(), ledgerdomain.ListTransactionsRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		AccountID: accountID,
		Kind:      strings.TrimSpace(query.Kind),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Transactions, "page_info": resp.PageInfo})
}

// AdminVerifyIntegrity reports drift without repairing anything. An
// inconsistent account is still a 200; the report says so.
func (s *Server) AdminVerifyIntegrity(c *gin.Context) {
	accountID, ok := pathAccountID(c)
	if !ok {
		return
	}

	report, err := s.ledgerSvc.VerifyIntegrity(c.Request.Context(), accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

type adminCreditRequest struct {
	Amount      int64  `json:"amount"`
	SourceID    string `json:"source_id"`
	Description string `json:"description"`
}

func (s *Server) AdminCredit(c *gin.Context) {
	accountID, ok := pathAccountID(c)
	if !ok {
		return
	}

	var body adminCreditRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	description := strings.TrimSpace(body.Description)
	if description == "" {
		description = "manual credit grant"
	}

	tx, balance, err := s.ledgerSvc.Credit(c.Request.Context(), ledgerdomain.CreditRequest{
		AccountID:   accountID,
		Amount:      body.Amount,
		SourceID:    body.SourceID,
		Description: description,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transaction": tx, "balance": balance})
}

type adminAdjustRequest struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

func (s *Server) AdminAdjust(c *gin.Context) {
	accountID, ok := pathAccountID(c)
	if !ok {
		return
	}

	var body adminAdjustRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	actor, _ := accountcontext.ActorFromContext(c.Request.Context())

	tx, balance, err := s.ledgerSvc.Adjust(c.Request.Context(), ledgerdomain.AdjustRequest{
		AccountID:   accountID,
		Amount:      body.Amount,
		Actor:       actor,
		Description: strings.TrimSpace(body.Description),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transaction": tx, "balance": balance})
}

type adminRefundRequest struct {
	Amount      int64  `json:"amount"`
	SourceID    string `json:"source_id"`
	Description string `json:"description"`
}

func (s *Server) AdminRefund(c *gin.Context) {
	accountID, ok := pathAccountID(c)
	if !ok {
		return
	}

	var body adminRefundRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	tx, balance, err := s.ledgerSvc.Refund(c.Request.Context(), ledgerdomain.RefundRequest{
		AccountID:   accountID,
		Amount:      body.Amount,
		SourceID:    body.SourceID,
		RequestID:   c.GetString("request_id"),
		Description: strings.TrimSpace(body.Description),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transaction": tx, "balance": balance})
}

type adminDisableRequest struct {
	Disabled bool `json:"disabled"`
}

func (s *Server) AdminSetDisabled(c *gin.Context) {
	accountID, ok := pathAccountID(c)
	if !ok {
		return
	}

	var body adminDisableRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.ledgerSvc.SetDisabled(c.Request.Context(), accountID, body.Disabled); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"account_id": accountID, "disabled": body.Disabled})
}

func (s *Server) AdminCacheStats(c *gin.Context) {
	accountID := strings.TrimSpace(c.Query("account_id"))

	stats, err := s.cacheSvc.Stats(c.Request.Context(), accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

type adminCacheEvictRequest struct {
	// Age is a Go duration string, e.g. "720h" for thirty days.
	Age string `json:"age"`
}

func (s *Server) AdminCacheEvict(c *gin.Context) {
	var body adminCacheEvictRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	age, err := time.ParseDuration(strings.TrimSpace(body.Age))
	if err != nil {
		AbortWithError(c, newValidationError("age", "invalid_eviction_age", "invalid eviction age"))
		return
	}

	evicted, err := s.cacheSvc.EvictOlderThan(c.Request.Context(), age)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditCacheEvict(c, age, evicted)

	c.JSON(http.StatusOK, gin.H{"evicted": evicted})
}

func (s *Server) auditCacheEvict(c *gin.Context, age time.Duration, evicted int64) {
	if s.auditSvc == nil {
		return
	}
	targetID := "entries"
	err := s.auditSvc.AuditLog(c.Request.Context(), nil, "cache.evict", "search_cache", &targetID, map[string]any{
		"age":     age.String(),
		"evicted": evicted,
	})
	if err != nil {
		obsLoggerFromContext(c).Warn("cache evict audit failed", zap.Error(err))
	}
}

type listAuditLogsQuery struct {
	PageToken  string `form:"page_token"`
	PageSize   int    `form:"page_size"`
	AccountID  string `form:"account_id"`
	Actor      string `form:"actor"`
	Action     string `form:"action"`
	TargetType string `form:"target_type"`
	TargetID   string `form:"target_id"`
	StartAt    string `form:"start_at"`
	EndAt      string `form:"end_at"`
}

func (s *Server) AdminListAuditLogs(c *gin.Context) {
	var query listAuditLogsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	startAt, err := parseOptionalTime(query.StartAt, false)
	if err != nil {
		AbortWithError(c, newValidationError("start_at", "invalid_start_at", "invalid start_at"))
		return
	}
	endAt, err := parseOptionalTime(query.EndAt, true)
	if err != nil {
		AbortWithError(c, newValidationError("end_at", "invalid_end_at", "invalid end_at"))
		return
	}

	resp, err := s.auditSvc.List(c.Request.Context(), auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		AccountID:  strings.TrimSpace(query.AccountID),
		Actor:      strings.TrimSpace(query.Actor),
		Action:     strings.TrimSpace(query.Action),
		TargetType: strings.TrimSpace(query.TargetType),
		TargetID:   strings.TrimSpace(query.TargetID),
		StartAt:    startAt,
		EndAt:      endAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.AuditLogs, "page_info": resp.PageInfo})
}
