package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hanko-field/commerce/internal/platform/httpx"
	"github.com/hanko-field/commerce/internal/platform/pagination"
	"github.com/hanko-field/commerce/internal/repositories"
	"github.com/hanko-field/commerce/internal/services"
)

const defaultMaxBodySize = 16 * 1024

var (
	errEmptyBody    = errors.New("request body is required")
	errBodyTooLarge = errors.New("request body too large")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = defaultMaxBodySize
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeBody reads a bounded JSON body into dst and rejects unknown fields. It writes the error
// response itself and reports whether decoding succeeded.
func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, dst any) bool {
	ctx := r.Context()
	body, err := readLimitedBody(r, limit)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError(httpx.CodePayloadTooLarge, "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.BadRequest(err.Error()))
		}
		return false
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		httpx.WriteError(ctx, w, httpx.BadRequest(fmt.Sprintf("invalid JSON payload: %v", err)))
		return false
	}
	return true
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil || t.IsZero() {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func formatMoney(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func paginationParams(w http.ResponseWriter, r *http.Request, opts pagination.Options) (services.Pagination, bool) {
	params, err := pagination.FromRequest(r, opts)
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.BadRequest(err.Error()))
		return services.Pagination{}, false
	}
	return services.Pagination{PageSize: params.PageSize, PageToken: params.PageToken}, true
}

// writeServiceError maps service errors onto the HTTP error envelope.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	httpx.WriteError(ctx, w, serviceError(err))
}

func serviceError(err error) httpx.Error {
	var stockErr *services.InsufficientStockError
	if errors.As(err, &stockErr) {
		return httpx.InsufficientStock(stockErr.Error(), stockErr.ProductID, stockErr.Requested, stockErr.Available)
	}
	var transitionErr *services.InvalidTransitionError
	if errors.As(err, &transitionErr) {
		return httpx.InvalidTransition(transitionErr.Error(), string(transitionErr.From), string(transitionErr.To))
	}

	switch {
	case errors.Is(err, services.ErrProductNotFound):
		return httpx.NotFound(httpx.CodeProductNotFound, err.Error())
	case errors.Is(err, services.ErrOrderNotFound):
		return httpx.NotFound(httpx.CodeOrderNotFound, err.Error())
	case errors.Is(err, services.ErrCartItemNotFound):
		return httpx.NotFound(httpx.CodeCartItemNotFound, err.Error())
	case errors.Is(err, services.ErrEmptyCart):
		return httpx.NewError(httpx.CodeEmptyCart, err.Error(), http.StatusBadRequest)
	case errors.Is(err, services.ErrCatalogInvalidInput),
		errors.Is(err, services.ErrCartInvalidInput),
		errors.Is(err, services.ErrInventoryInvalidInput),
		errors.Is(err, services.ErrOrderInvalidInput),
		errors.Is(err, pagination.ErrInvalidPageToken),
		errors.Is(err, pagination.ErrInvalidPageSize):
		return httpx.BadRequest(err.Error())
	case errors.Is(err, services.ErrCatalogConflict):
		return httpx.Conflict(httpx.CodeProductConflict, err.Error())
	case errors.Is(err, services.ErrOrderConflict):
		return httpx.Conflict(httpx.CodeOrderConflict, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return httpx.NewError(httpx.CodeDeadlineExceeded, "request timed out", http.StatusGatewayTimeout)
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsUnavailable() {
		return httpx.Unavailable(httpx.CodeServiceUnavailable, "backing store unavailable")
	}
	return httpx.Internal()
}

func trimParam(r *http.Request, name string) string {
	return strings.TrimSpace(r.URL.Query().Get(name))
}
