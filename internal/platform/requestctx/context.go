package requestctx

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type contextKey int

const (
	loggerKey contextKey = iota
	traceKey
	annotationsKey
)

var noopLogger = zap.NewNop()

// TraceInfo captures trace metadata propagated through request context.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// WithLogger stores the logger in context for downstream consumers.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// Logger retrieves the zap logger from context or returns a no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return noopLogger
	}
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return noopLogger
}

// NoopLogger exposes the shared noop logger instance used across the package.
func NoopLogger() *zap.Logger { return noopLogger }

func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, traceKey, info)
}

func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceKey).(TraceInfo)
	return info, ok
}

// TraceID extracts the trace identifier from context when present.
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

// Key names a request annotation. The access log writes each as a field of the same name.
type Key string

// Annotation keys set by the commerce handlers.
const (
	KeyUserID    Key = "user_id"
	KeyProductID Key = "product_id"
	KeyOrderID   Key = "order_id"
	KeyOrderNo   Key = "order_no"
	KeyStatus    Key = "order_status"
	KeyErrorCode Key = "error_code"
)

// Annotation is one request attribute learned while the request was served.
type Annotation struct {
	Key   Key
	Value string
}

// Annotations collects attributes such as the order a request created, so the access log can
// report them after the handler returns. Safe for concurrent use.
type Annotations struct {
	mu     sync.Mutex
	values map[Key]string
	keys   []Key
}

// WithAnnotations attaches a fresh annotation set to ctx.
func WithAnnotations(ctx context.Context) (context.Context, *Annotations) {
	if ctx == nil {
		ctx = context.Background()
	}
	notes := &Annotations{values: map[Key]string{}}
	return context.WithValue(ctx, annotationsKey, notes), notes
}

// Annotate records key on the request's annotation set. Empty values and contexts without a set
// are ignored; a later value for the same key wins.
func Annotate(ctx context.Context, key Key, value string) {
	if ctx == nil || key == "" || value == "" {
		return
	}
	notes, ok := ctx.Value(annotationsKey).(*Annotations)
	if !ok || notes == nil {
		return
	}
	notes.Set(key, value)
}

// AnnotateOrder records the identifiers of the order a request touched.
func AnnotateOrder(ctx context.Context, orderID, orderNo, status string) {
	Annotate(ctx, KeyOrderID, orderID)
	Annotate(ctx, KeyOrderNo, orderNo)
	Annotate(ctx, KeyStatus, status)
}

func (a *Annotations) Set(key Key, value string) {
	if a == nil || key == "" || value == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, seen := a.values[key]; !seen {
		a.keys = append(a.keys, key)
	}
	a.values[key] = value
}

// SetDefault records key only when nothing has set it yet.
func (a *Annotations) SetDefault(key Key, value string) {
	if a == nil || key == "" || value == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, seen := a.values[key]; seen {
		return
	}
	a.keys = append(a.keys, key)
	a.values[key] = value
}

// Snapshot returns the annotations in the order their keys were first set.
func (a *Annotations) Snapshot() []Annotation {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Annotation, 0, len(a.keys))
	for _, k := range a.keys {
		out = append(out, Annotation{Key: k, Value: a.values[k]})
	}
	return out
}
