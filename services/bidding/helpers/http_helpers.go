package helpers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"auction-service/internal/biddingerrors"
	model "auction-service/internal/models"
	"auction-service/utils"

	"github.com/gin-gonic/gin"
)

// UserIDHeader carries the caller id set by the upstream gateway
const UserIDHeader = "X-User-ID"

// CallerKey is the gin context key holding the authenticated caller id
const CallerKey = "caller_id"

// CallerID returns the authenticated caller, preferring the value stored by
// the identity middleware over the raw header
func CallerID(c *gin.Context) (string, bool) {
	if v, ok := c.Get(CallerKey); ok {
		if id, ok := v.(string); ok && id != "" {
			return id, true
		}
	}
	id := strings.TrimSpace(c.GetHeader(UserIDHeader))
	return id, id != ""
}

// RequireCaller writes 401 and returns false when the request is anonymous
func RequireCaller(c *gin.Context, handlerName string) (string, bool) {
	id, ok := CallerID(c)
	if !ok {
		err := fmt.Errorf("%w - %s header not set", biddingerrors.ErrMissingIdentity, UserIDHeader)
		utils.JSONError(c, http.StatusUnauthorized, err, "authentication required")
		utils.Warn(handlerName+": anonymous request", map[string]any{"path": c.Request.URL.Path})
		return "", false
	}
	return id, true
}

// HandleBindError sends a standardized JSON error for binding failures
func HandleBindError(c *gin.Context, handlerName string, err error) {
	wrappedErr := fmt.Errorf("invalid request payload: %w", err)
	utils.JSONError(c, http.StatusBadRequest, wrappedErr, "invalid request payload")
	utils.Warn(handlerName+": binding error", map[string]any{"error": err.Error()})
}

// HandleServiceError maps a service error to a JSON error response and logs
// it at a level matching its severity
func HandleServiceError(c *gin.Context, handlerName string, err error, ctx map[string]any) {
	status, message := MapErrorToHTTP(err)
	utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), message)

	fields := map[string]any{"handler": handlerName, "status": status, "error": err.Error()}
	for k, v := range ctx {
		fields[k] = v
	}
	switch {
	case status >= http.StatusInternalServerError:
		utils.Error(handlerName+": "+message, fields)
	case errors.Is(err, biddingerrors.ErrValidationFailed):
		utils.Info(handlerName+": "+message, fields)
	default:
		utils.Warn(handlerName+": "+message, fields)
	}
}

// MapErrorToHTTP maps domain/service errors to HTTP status code and message
func MapErrorToHTTP(err error) (int, string) {
	switch {
	case errors.Is(err, biddingerrors.ErrBidTooLow):
		return http.StatusConflict, "bid amount too low"
	case errors.Is(err, biddingerrors.ErrAuctionNotOpen):
		return http.StatusUnprocessableEntity, "auction not open for bidding"
	case errors.Is(err, biddingerrors.ErrUnknownBidder):
		return http.StatusUnprocessableEntity, "unknown bidder"
	case errors.Is(err, biddingerrors.ErrValidationFailed):
		return http.StatusUnprocessableEntity, "bid rejected"
	case errors.Is(err, biddingerrors.ErrAuctionNotFound):
		return http.StatusNotFound, "auction not found"
	case errors.Is(err, biddingerrors.ErrProductNotFound):
		return http.StatusNotFound, "product not found"
	case errors.Is(err, biddingerrors.ErrNoBids):
		return http.StatusNotFound, "no bids found for auction"
	case errors.Is(err, biddingerrors.ErrMissingIdentity):
		return http.StatusUnauthorized, "authentication required"
	case errors.Is(err, biddingerrors.ErrInvalidBid):
		return http.StatusBadRequest, "invalid bid details"
	case errors.Is(err, biddingerrors.ErrInvalidAuction):
		return http.StatusBadRequest, "invalid auction details"
	case errors.Is(err, biddingerrors.ErrInvalidWindow):
		return http.StatusBadRequest, "invalid auction window"
	case errors.Is(err, biddingerrors.ErrTooManyConflicts):
		return http.StatusConflict, "too many concurrent bids, please retry"
	case errors.Is(err, biddingerrors.ErrInvalidTransition):
		return http.StatusConflict, "invalid auction status transition"
	case errors.Is(err, biddingerrors.ErrServiceUnavailable), errors.Is(err, biddingerrors.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "service temporarily unavailable"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// ParseAuctionFilter reads ?status= (comma separated or repeated) and ?product_id=
func ParseAuctionFilter(c *gin.Context) (model.AuctionFilter, error) {
	filter := model.AuctionFilter{ProductID: c.Query("product_id")}
	for _, raw := range c.QueryArray("status") {
		for _, s := range strings.Split(raw, ",") {
			status := model.AuctionStatus(strings.ToLower(strings.TrimSpace(s)))
			if status == "" {
				continue
			}
			if !status.Valid() {
				return model.AuctionFilter{}, fmt.Errorf("%w - unknown status %q", biddingerrors.ErrInvalidAuction, s)
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	return filter, nil
}

// LogSuccess is a small helper to standardize logging of successful operations
func LogSuccess(handlerName, message string, ctx map[string]any) {
	utils.Info(handlerName+": "+message, ctx)
}
