package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/smallbiznis/syncbox/internal/draft"
	"github.com/smallbiznis/syncbox/internal/localstore"
	"github.com/smallbiznis/syncbox/internal/outbox"
	"github.com/smallbiznis/syncbox/internal/syncengine"
)

var ErrInvalidRequest = errors.New("invalid_request")

// AbortWithError maps component errors onto HTTP statuses and writes the
// standard error body.
func AbortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, draft.ErrInvalidBusinessID),
		errors.Is(err, localstore.ErrInvalidRecordID),
		errors.Is(err, localstore.ErrInvalidInvoiceID):
		status = http.StatusBadRequest
	case errors.Is(err, localstore.ErrNotFound),
		errors.Is(err, draft.ErrNoDraft),
		errors.Is(err, outbox.ErrEntryNotFound):
		status = http.StatusNotFound
	case errors.Is(err, outbox.ErrEntryNotFailed),
		errors.Is(err, syncengine.ErrSyncInProgress):
		status = http.StatusConflict
	case errors.Is(err, syncengine.ErrOffline):
		status = http.StatusServiceUnavailable
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
