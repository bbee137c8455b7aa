package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"trekkr/internal/geo"
	"trekkr/internal/services"
)

// respondError maps a service error onto the HTTP error contract.
//
// Go Learning Note — errors.As vs errors.Is:
// errors.Is compares against sentinel values (ErrInvalidInput) anywhere in
// the wrap chain. errors.As looks for an error of a given *type* and copies
// it into the target, which is how the handler gets at the Expected and
// Received fields of a *geo.MismatchError.
func respondError(c *gin.Context, err error) {
	var mismatch *geo.MismatchError
	switch {
	case errors.As(err, &mismatch):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    "h3_mismatch",
			"message":  mismatch.Error(),
			"expected": mismatch.Expected,
			"received": mismatch.Received,
		})
	case errors.Is(err, services.ErrInvalidInput):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid_input", "message": err.Error()})
	case errors.Is(err, services.ErrPersistence):
		if services.Retryable(err) {
			c.Header("Retry-After", "1")
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "service_unavailable",
			"message": "location could not be stored, please retry",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

// respondBindError reports a request body that could not be decoded (400) or
// failed field validation (422).
func respondBindError(c *gin.Context, err error) {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "request body is not valid JSON"})
		return
	}
	c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid_input", "message": err.Error()})
}
