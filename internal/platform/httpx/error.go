package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/hanko-field/commerce/internal/platform/requestctx"
)

// Error codes carried in the "error" field of the envelope.
const (
	CodeInvalidRequest     = "invalid_request"
	CodePayloadTooLarge    = "payload_too_large"
	CodeRouteNotFound      = "route_not_found"
	CodeMethodNotAllowed   = "method_not_allowed"
	CodeNotImplemented     = "not_implemented"
	CodeProductNotFound    = "product_not_found"
	CodeOrderNotFound      = "order_not_found"
	CodeCartItemNotFound   = "cart_item_not_found"
	CodeEmptyCart          = "empty_cart"
	CodeInsufficientStock  = "insufficient_stock"
	CodeInvalidTransition  = "invalid_transition"
	CodeProductConflict    = "product_conflict"
	CodeOrderConflict      = "order_conflict"
	CodeDeadlineExceeded   = "deadline_exceeded"
	CodeServiceUnavailable = "service_unavailable"
	CodeInternal           = "internal_error"
)

const (
	codeLimit    = 80
	messageLimit = 512
	idLimit      = 80
	traceLimit   = 64
)

// Envelope keys owned by WriteError. Details never overwrite them.
var reservedKeys = map[string]struct{}{
	"error":      {},
	"message":    {},
	"status":     {},
	"request_id": {},
	"trace_id":   {},
}

// Error is the flat JSON error envelope: error, message and status plus request identifiers, with
// any details merged in as sibling fields.
type Error struct {
	Code      string
	Message   string
	Status    int
	RequestID string
	TraceID   string
	Details   map[string]any
}

// NewError constructs an envelope. A zero status becomes 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    sanitize(code, codeLimit),
		Message: sanitize(message, messageLimit),
		Status:  status,
	}
}

func (e Error) Error() string { return e.Code + ": " + e.Message }

// BadRequest reports a malformed or invalid request.
func BadRequest(message string) Error {
	return NewError(CodeInvalidRequest, message, http.StatusBadRequest)
}

// NotFound reports a missing resource under the given code.
func NotFound(code, message string) Error {
	return NewError(code, message, http.StatusNotFound)
}

// Conflict reports a request that clashes with current state.
func Conflict(code, message string) Error {
	return NewError(code, message, http.StatusConflict)
}

// Unavailable reports a backing dependency that cannot serve the request right now.
func Unavailable(code, message string) Error {
	if code == "" {
		code = CodeServiceUnavailable
	}
	return NewError(code, message, http.StatusServiceUnavailable)
}

// Internal hides the underlying failure behind a generic message.
func Internal() Error {
	return NewError(CodeInternal, "internal server error", http.StatusInternalServerError)
}

// InsufficientStock reports a reservation or cart quantity the ledger cannot cover.
func InsufficientStock(message, productID string, requested, available int) Error {
	return Conflict(CodeInsufficientStock, message).WithDetails(map[string]any{
		"product_id": productID,
		"requested":  requested,
		"available":  available,
	})
}

// InvalidTransition reports a status change the order lifecycle does not allow.
func InvalidTransition(message, from, to string) Error {
	return Conflict(CodeInvalidTransition, message).WithDetails(map[string]any{
		"from": from,
		"to":   to,
	})
}

// WithRequestID sets the request identifier on the error payload.
func (e Error) WithRequestID(id string) Error {
	e.RequestID = sanitize(id, idLimit)
	return e
}

// WithTraceID sets the trace identifier on the error payload.
func (e Error) WithTraceID(id string) Error {
	e.TraceID = sanitize(id, traceLimit)
	return e
}

// WithDetails merges JSON-serialisable fields into the envelope. Reserved keys are dropped.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		if _, reserved := reservedKeys[k]; reserved {
			continue
		}
		merged[k] = v
	}
	e.Details = merged
	return e
}

// Payload renders the flat envelope as written to the wire.
func (e Error) Payload(ctx context.Context) map[string]any {
	status := e.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	payload := make(map[string]any, len(e.Details)+5)
	for k, v := range e.Details {
		if _, reserved := reservedKeys[k]; !reserved {
			payload[k] = v
		}
	}
	payload["error"] = e.Code
	payload["message"] = e.Message
	payload["status"] = status

	requestID := e.RequestID
	if requestID == "" {
		requestID = sanitize(middleware.GetReqID(ctx), idLimit)
	}
	if requestID != "" {
		payload["request_id"] = requestID
	}
	traceID := e.TraceID
	if traceID == "" {
		traceID = sanitize(requestctx.TraceID(ctx), traceLimit)
	}
	if traceID != "" {
		payload["trace_id"] = traceID
	}
	return payload
}

// WriteError writes the envelope and records its code on the request annotations for the access log.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	requestctx.Annotate(ctx, requestctx.KeyErrorCode, err.Code)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err.Payload(ctx))
}

func sanitize(value string, limit int) string {
	value = strings.NewReplacer("\n", " ", "\r", " ").Replace(value)
	value = strings.TrimSpace(value)
	if len(value) <= limit {
		return value
	}
	value = value[:limit]
	// drop a rune split by the cut
	for len(value) > 0 {
		r, size := utf8.DecodeLastRuneInString(value)
		if r != utf8.RuneError || size > 1 {
			break
		}
		value = value[:len(value)-size]
	}
	return value
}
