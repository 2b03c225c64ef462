package server

import (
	"fmt"
	"net/http"
	"time"

	"auction-service/internal/biddingerrors"
	"auction-service/services/bidding/helpers"
	"auction-service/utils"

	"github.com/gin-gonic/gin"
)

// RequestLoggerMiddleware logs incoming requests with timing
func RequestLoggerMiddleware(c *gin.Context) {
	start := time.Now()

	c.Next() // process request

	fields := map[string]any{
		"method":  c.Request.Method,
		"path":    c.Request.URL.Path,
		"status":  c.Writer.Status(),
		"latency": time.Since(start).String(),
	}
	if caller, ok := helpers.CallerID(c); ok {
		fields["caller_id"] = caller
	}
	utils.Info("HTTP Request", fields)
}

// IdentityMiddleware accepts the caller id asserted by the gateway in the
// X-User-ID header and rejects anonymous requests
func IdentityMiddleware(c *gin.Context) {
	caller, ok := helpers.CallerID(c)
	if !ok {
		err := fmt.Errorf("%w - %s header not set", biddingerrors.ErrMissingIdentity, helpers.UserIDHeader)
		utils.JSONAbort(c, http.StatusUnauthorized, err, "authentication required")
		return
	}
	c.Set(helpers.CallerKey, caller)
	c.Next()
}
