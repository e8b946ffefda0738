package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/SchoolAuth/internal/auth"
	log "github.com/sirupsen/logrus"
)

// RespondError writes err as {"error": kind, "detail": text} with the status of its kind.
// Errors without a kind are logged and reported as internal errors.
func RespondError(c *gin.Context, err error) {
	if authErr, ok := auth.AsError(err); ok {
		detail := authErr.Detail
		if wrapped, found := strings.CutPrefix(err.Error(), authErr.Kind+": "); found {
			detail = wrapped
		}
		if authErr.Status == http.StatusUnauthorized {
			c.Header("WWW-Authenticate", "Bearer")
		}
		c.JSON(authErr.Status, gin.H{"error": authErr.Kind, "detail": detail})
		return
	}
	log.WithError(err).WithField("request_id", RequestID(c)).Error("request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal", "detail": "internal server error"})
}

// RespondBadRequest reports a malformed request body or parameter.
func RespondBadRequest(c *gin.Context, detail string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": auth.ErrInvalidRequest.Kind, "detail": detail})
}
