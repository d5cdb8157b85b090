package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetEntitlement resolves and returns the account's current entitlement.
// Always answers for a known account, falling back to the free tier when
// nothing active exists.
func (s *Server) GetEntitlement(c *gin.Context) {
	accountID, ok := parseAccountID(c)
	if !ok {
		return
	}

	if _, err := s.directory.FindByID(c.Request.Context(), accountID); err != nil {
		AbortWithError(c, err)
		return
	}

	ent, err := s.entitlementSvc.Resolve(c.Request.Context(), accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, ent)
}
