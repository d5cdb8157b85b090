package server

import (
	"net/http"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

type reconcileReceiptRequest struct {
	ReceiptData   string `json:"receiptData"`
	TransactionID string `json:"transactionId"`
}

// ReconcileReceipt verifies a legacy receipt for the account in the path,
// backfills the ledger with the transactions it carries and answers with the
// entitlement the account ends up holding.
func (s *Server) ReconcileReceipt(c *gin.Context) {
	accountID, ok := parseAccountID(c)
	if !ok {
		return
	}

	var req reconcileReceiptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.receiptSvc.Reconcile(c.Request.Context(), accountID, req.ReceiptData, req.TransactionID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ent, err := s.entitlementSvc.Resolve(c.Request.Context(), accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"result":      result,
		"entitlement": ent,
	})
}

func parseAccountID(c *gin.Context) (snowflake.ID, bool) {
	raw := c.Param("accountId")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		AbortWithError(c, ErrInvalidRequest)
		return 0, false
	}
	return snowflake.ID(id), true
}
