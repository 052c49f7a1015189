package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"docpipe/internal/apperr"
)

// writeError maps an apperr.Kind to its HTTP status and writes a JSON
// error body. Errors that never opted into the taxonomy default to
// apperr.Programmer, which maps to 500.
func writeError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case apperr.Validation:
		status = http.StatusBadRequest
	case apperr.Authorization:
		status = http.StatusForbidden
	case apperr.NotFound:
		status = http.StatusNotFound
	case apperr.Conflict:
		status = http.StatusConflict
	case apperr.TransientExternal:
		status = http.StatusServiceUnavailable
	case apperr.Programmer, apperr.FatalStartup:
		status = http.StatusInternalServerError
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
