package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hanko-field/commerce/internal/platform/requestctx"
)

func TestParseCloudTraceContext(t *testing.T) {
	sc, ok := parseCloudTraceContext("105445aa7843bc8bf206b12000100000/1;o=1")
	if !ok {
		t.Fatalf("expected header to parse")
	}
	if sc.TraceID().String() != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("unexpected trace id %s", sc.TraceID())
	}
	if sc.SpanID().String() != "0000000000000001" {
		t.Fatalf("unexpected span id %s", sc.SpanID())
	}
	if !sc.IsSampled() || !sc.IsRemote() {
		t.Fatalf("expected sampled remote span context")
	}

	for _, header := range []string{"", "nope", "105445aa7843bc8bf206b12000100000/abc", "105445aa7843bc8bf206b12000100000/0"} {
		if _, ok := parseCloudTraceContext(header); ok {
			t.Fatalf("expected %q to be rejected", header)
		}
	}
}

func TestTraceMiddlewareStoresTraceInfo(t *testing.T) {
	var info requestctx.TraceInfo
	handler := TraceMiddleware("proj")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, _ = requestctx.Trace(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set("X-Cloud-Trace-Context", "105445aa7843bc8bf206b12000100000/7;o=1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if info.ProjectID != "proj" {
		t.Fatalf("expected project id to be recorded, got %+v", info)
	}
	if info.TraceID != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("expected incoming trace to be continued, got %s", info.TraceID)
	}
}

func TestEventLoggerPrefersRequestLogger(t *testing.T) {
	baseCore, baseLogs := observer.New(zapcore.DebugLevel)
	reqCore, reqLogs := observer.New(zapcore.DebugLevel)
	log := EventLogger(zap.New(baseCore))

	log(context.Background(), "order.created", map[string]any{"order_id": "ord_1"})
	ctx := requestctx.WithLogger(context.Background(), zap.New(reqCore))
	log(ctx, "inventory.publish.failed", map[string]any{"error": "boom"})

	if baseLogs.Len() != 1 || reqLogs.Len() != 1 {
		t.Fatalf("expected one entry per logger, got base=%d request=%d", baseLogs.Len(), reqLogs.Len())
	}
	entry := baseLogs.All()[0]
	if entry.Level != zapcore.InfoLevel || entry.ContextMap()["order_id"] != "ord_1" || entry.ContextMap()["event"] != "order.created" {
		t.Fatalf("unexpected base entry: %+v", entry)
	}
	if reqLogs.All()[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected failed events at warn level")
	}
}

func TestRecoveryMiddlewareWritesJSONError(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	handler := RecoveryMiddleware(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Fatalf("expected panic to be logged")
	}
}

func TestRequestLoggerMiddlewareLogsCompletion(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	router := chi.NewRouter()
	router.Use(InjectLoggerMiddleware(zap.New(core)), RequestLoggerMiddleware("proj"))
	router.Get("/cart/{userID}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/cart/u1", nil))

	completed := logs.FilterMessage("request completed").All()
	if len(completed) != 1 {
		t.Fatalf("expected one completion entry, got %d", len(completed))
	}
	fields := completed[0].ContextMap()
	if completed[0].Level != zapcore.WarnLevel || fields["status"] != int64(http.StatusNotFound) {
		t.Fatalf("unexpected completion entry: level=%s fields=%v", completed[0].Level, fields)
	}
	if fields["route"] != "/cart/{userID}" || fields["user_id"] != "u1" {
		t.Fatalf("expected route and user fields, got %v", fields)
	}
}

func TestRequestLoggerMiddlewareReportsOrderAnnotations(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	router := chi.NewRouter()
	router.Use(InjectLoggerMiddleware(zap.New(core)), RequestLoggerMiddleware("proj"))
	router.Post("/orders/{orderID}/cancel", func(w http.ResponseWriter, r *http.Request) {
		requestctx.AnnotateOrder(r.Context(), "ord_1", "ORD-20240601-ABC", "CANCELLED")
		requestctx.Annotate(r.Context(), requestctx.KeyErrorCode, "")
		w.WriteHeader(http.StatusOK)
	})
	router.Post("/cart/{userID}", func(w http.ResponseWriter, r *http.Request) {
		requestctx.Annotate(r.Context(), requestctx.KeyProductID, "prd_9")
		requestctx.Annotate(r.Context(), requestctx.KeyErrorCode, "insufficient_stock")
		w.WriteHeader(http.StatusConflict)
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/orders/ord_ignored/cancel", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/cart/u%0A1@x", nil))

	completed := logs.FilterMessage("request completed").All()
	if len(completed) != 2 {
		t.Fatalf("expected two completion entries, got %d", len(completed))
	}
	order := completed[0].ContextMap()
	if order["order_id"] != "ord_1" || order["order_no"] != "ORD-20240601-ABC" || order["order_status"] != "CANCELLED" {
		t.Fatalf("expected handler annotations to win over route params, got %v", order)
	}
	if _, ok := order["error_code"]; ok {
		t.Fatalf("empty annotation must be skipped, got %v", order)
	}
	cart := completed[1].ContextMap()
	if cart["user_id"] != "u1x" || cart["product_id"] != "prd_9" || cart["error_code"] != "insufficient_stock" {
		t.Fatalf("unexpected cart fields %v", cart)
	}
}

func TestSanitizeIdentifier(t *testing.T) {
	cases := map[string]string{
		"":                 "",
		"ord_01HZX":        "ord_01HZX",
		"ORD-2024.06":      "ORD-2024.06",
		"user@example.com": "userexample.com",
		"a\nb c":           "abc",
	}
	for in, want := range cases {
		if got := sanitizeIdentifier(in); got != want {
			t.Errorf("sanitizeIdentifier(%q) = %q, want %q", in, got, want)
		}
	}
	if got := sanitizeIdentifier(strings.Repeat("x", 100)); len(got) != 64 {
		t.Errorf("expected identifiers capped at 64, got %d", len(got))
	}
	if sanitizeRoute("") != "/" || sanitizeMethod("GET\x00") != "GET" {
		t.Error("unexpected route/method sanitising")
	}
}

func TestSetupTelemetryWithoutEndpointIsNoop(t *testing.T) {
	tel, err := SetupTelemetry(context.Background(), TelemetryOptions{ServiceName: "test"})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if tel.Enabled() || tel.LogCore("test") != nil {
		t.Fatalf("expected telemetry export to be disabled")
	}
	if tel.TracerProvider == nil || tel.LoggerProvider == nil {
		t.Fatalf("expected fallback providers")
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
