package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/seeklabs/bloxscout/internal/accountcontext"
	lookupdomain "github.com/seeklabs/bloxscout/internal/lookup/domain"
	meteringdomain "github.com/seeklabs/bloxscout/internal/metering/domain"
)

type searchRequest struct {
	Term string `json:"term"`
	Mode string `json:"mode"`
}

func (s *Server) Search(c *gin.Context) {
	var body searchRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	accountID, ok := accountcontext.AccountIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	mode := strings.TrimSpace(body.Mode)
	if mode == "" {
		mode = string(lookupdomain.ModeExact)
	}
	c.Set("search_mode", mode)

	result, err := s.meteringSvc.Search(c.Request.Context(), meteringdomain.SearchRequest{
		AccountID: accountID,
		Term:      body.Term,
		Mode:      lookupdomain.Mode(mode),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// PublicSearch serves anonymous callers under the shared public account.
// Admission is by client IP; results are free and the ledger is never
// charged.
func (s *Server) PublicSearch(c *gin.Context) {
	var body searchRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	mode := strings.TrimSpace(body.Mode)
	if mode == "" {
		mode = string(lookupdomain.ModeExact)
	}
	c.Set("search_mode", mode)

	result, err := s.meteringSvc.Search(c.Request.Context(), meteringdomain.SearchRequest{
		Term:     body.Term,
		Mode:     lookupdomain.Mode(mode),
		Public:   true,
		Identity: c.ClientIP(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
