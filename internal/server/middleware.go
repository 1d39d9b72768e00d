package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/billmirror/internal/observability/context"
)

const contextSubjectKey = "admin_subject"

// AdminTokenRequired resolves the bearer token into an authorization subject.
func (s *Server) AdminTokenRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		parts := strings.Fields(header)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		subject, err := s.authzSvc.ResolveToken(parts[1])
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set(contextSubjectKey, subject)
		c.Set("actor", subject)
		c.Request = c.Request.WithContext(obscontext.WithActor(c.Request.Context(), subject))
		c.Next()
	}
}
