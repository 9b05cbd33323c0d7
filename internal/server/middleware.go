package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/seeklabs/bloxscout/internal/accountcontext"
)

// The upstream edge terminates authentication and forwards the verified
// identity in these headers. Requests arriving without them never came
// through the edge.
const (
	HeaderAccount = "X-Account-Id"
	HeaderActor   = "X-Admin-Actor"
)

// AccountRequired binds the billed account id from the edge header into
// the request context.
func (s *Server) AccountRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := strings.TrimSpace(c.GetHeader(HeaderAccount))
		if accountID == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := accountcontext.WithAccountID(c.Request.Context(), accountID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// ActorRequired binds the operator subject for the admin surface. Role
// checks happen per route via authorizeAction.
func (s *Server) ActorRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := strings.TrimSpace(c.GetHeader(HeaderActor))
		if actor == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := accountcontext.WithActor(c.Request.Context(), actor)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) authorizeAction(object, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := accountcontext.ActorFromContext(c.Request.Context())
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		if err := s.authzSvc.Authorize(c.Request.Context(), actor, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}
