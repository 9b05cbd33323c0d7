package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/seeklabs/bloxscout/internal/accountcontext"
	ledgerdomain "github.com/seeklabs/bloxscout/internal/ledger/domain"
	"github.com/seeklabs/bloxscout/pkg/db/pagination"
)

func (s *Server) GetCredits(c *gin.Context) {
	accountID, ok := accountcontext.AccountIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	balance, err := s.ledgerSvc.GetBalance(c.Request.Context(), accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, balance)
}

type listHistoryQuery struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
	Kind      string `form:"kind"`
}

func (s *Server) ListCreditHistory(c *gin.Context) {
	accountID, ok := accountcontext.AccountIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
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

func (s *Server) DownloadStatement(c *gin.Context) {
	accountID, ok := accountcontext.AccountIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	rendered, err := s.statementSvc.Render(c.Request.Context(), accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+rendered.Filename+`"`)
	c.Data(http.StatusOK, rendered.ContentType, rendered.Content)
}
