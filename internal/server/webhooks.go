package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type appStoreNotificationRequest struct {
	SignedPayload string `json:"signedPayload"`
}

// HandleAppStoreNotification ingests one App Store server notification. Every
// benign outcome returns 200 so the store stops redelivering; only signature
// failures and storage errors are surfaced, which makes the store retry.
func (s *Server) HandleAppStoreNotification(c *gin.Context) {
	var req appStoreNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SignedPayload == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	outcome, err := s.notificationSvc.Ingest(c.Request.Context(), req.SignedPayload)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"outcome": outcome})
}
