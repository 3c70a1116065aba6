package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Server.Environment != "local" {
		t.Errorf("expected local environment, got %s", cfg.Server.Environment)
	}
	if cfg.Storage.Backend != StorageBackendMemory {
		t.Errorf("expected memory backend, got %s", cfg.Storage.Backend)
	}
	if cfg.Events.Backend != EventsBackendNone {
		t.Errorf("expected events disabled, got %s", cfg.Events.Backend)
	}
	if len(cfg.Events.KafkaBrokers) != 0 {
		t.Errorf("expected no kafka brokers, got %v", cfg.Events.KafkaBrokers)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader {
		t.Errorf("expected default idempotency header, got %s", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.TTL != defaultIdempotencyTTL {
		t.Errorf("unexpected default idempotency ttl: %s", cfg.Idempotency.TTL)
	}
	if cfg.Telemetry.OTLPEndpoint != "" || cfg.Telemetry.TraceSampleRatio != 1 {
		t.Errorf("unexpected telemetry defaults: %+v", cfg.Telemetry)
	}
	if cfg.Orders.NumberPrefix != "ORD" || cfg.Orders.DefaultPageSize != 50 || cfg.Orders.MaxPageSize != 100 {
		t.Errorf("unexpected order defaults: %+v", cfg.Orders)
	}
	if cfg.Orders.ReleaseRetryInterval != 30*time.Second {
		t.Errorf("unexpected release retry interval: %s", cfg.Orders.ReleaseRetryInterval)
	}
	if cfg.Catalog.LowStockThreshold != 10 {
		t.Errorf("unexpected low stock threshold: %d", cfg.Catalog.LowStockThreshold)
	}
	if cfg.Secrets.FallbackFile != defaultSecretFallbackFile {
		t.Errorf("unexpected secret fallback file: %s", cfg.Secrets.FallbackFile)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                   "9090",
		"API_SERVER_IDLE_TIMEOUT":           "2m",
		"API_ENVIRONMENT":                   "PROD",
		"API_STORAGE_BACKEND":               "postgres",
		"API_POSTGRES_DSN":                  "secret://db/dsn",
		"API_POSTGRES_MAX_OPEN_CONNS":       "40",
		"API_POSTGRES_MIGRATE":              "false",
		"API_FIRESTORE_PROJECT_ID":          "commerce-prod",
		"API_EVENTS_BACKEND":                "kafka",
		"API_EVENTS_KAFKA_BROKERS":          "kafka-1:9092, kafka-2:9092",
		"API_EVENTS_ORDER_TOPIC":            "orders",
		"API_IDEMPOTENCY_HEADER":            "X-Idem-Key",
		"API_IDEMPOTENCY_TTL":               "48h",
		"API_IDEMPOTENCY_CLEANUP_BATCH":     "500",
		"API_TELEMETRY_OTLP_ENDPOINT":       "collector:4318",
		"API_TELEMETRY_OTLP_HEADERS":        "Authorization=secret://otlp/token,x-tenant=shop",
		"API_TELEMETRY_TRACE_SAMPLE_RATIO":  "0.25",
		"API_ORDERS_NUMBER_PREFIX":          "so",
		"API_ORDERS_RELEASE_RETRY_INTERVAL": "5s",
		"API_CATALOG_LOW_STOCK_THRESHOLD":   "3",
	}
	secrets := map[string]string{
		"secret://db/dsn":     "postgres://app:pw@db/commerce?sslmode=disable",
		"secret://otlp/token": "Bearer abc",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" || cfg.Server.IdleTimeout != 2*time.Minute || cfg.Server.Environment != "prod" {
		t.Errorf("unexpected server config %+v", cfg.Server)
	}
	if cfg.Postgres.DSN != secrets["secret://db/dsn"] {
		t.Errorf("expected resolved dsn, got %s", cfg.Postgres.DSN)
	}
	if cfg.Postgres.MaxOpenConns != 40 || cfg.Postgres.MigrateOnStart {
		t.Errorf("unexpected postgres config %+v", cfg.Postgres)
	}
	if !slices.Equal(cfg.Events.KafkaBrokers, []string{"kafka-1:9092", "kafka-2:9092"}) {
		t.Errorf("unexpected brokers %v", cfg.Events.KafkaBrokers)
	}
	if cfg.Events.OrderTopic != "orders" || cfg.Events.InventoryTopic != defaultStockEventsTopic {
		t.Errorf("unexpected topics %+v", cfg.Events)
	}
	if cfg.Events.PubSubProjectID != "commerce-prod" || cfg.Secrets.ProjectID != "commerce-prod" {
		t.Errorf("expected project ids to default to firestore project, got %+v %+v", cfg.Events, cfg.Secrets)
	}
	if cfg.Idempotency.Header != "X-Idem-Key" || cfg.Idempotency.TTL != 48*time.Hour || cfg.Idempotency.CleanupBatchSize != 500 {
		t.Errorf("unexpected idempotency config %+v", cfg.Idempotency)
	}
	if cfg.Telemetry.OTLPHeaders["authorization"] != "Bearer abc" || cfg.Telemetry.OTLPHeaders["x-tenant"] != "shop" {
		t.Errorf("unexpected otlp headers %v", cfg.Telemetry.OTLPHeaders)
	}
	if cfg.Telemetry.TraceSampleRatio != 0.25 {
		t.Errorf("unexpected sample ratio %v", cfg.Telemetry.TraceSampleRatio)
	}
	if cfg.Orders.ReleaseRetryInterval != 5*time.Second {
		t.Errorf("unexpected release retry interval %s", cfg.Orders.ReleaseRetryInterval)
	}
	if cfg.Orders.NumberPrefix != "SO" || cfg.Catalog.LowStockThreshold != 3 {
		t.Errorf("unexpected order/catalog config %+v %+v", cfg.Orders, cfg.Catalog)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_SERVER_PORT=7070\nexport API_ORDERS_NUMBER_PREFIX=\"DOT\"\n# comment\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from dotenv 7070, got %s", cfg.Server.Port)
	}
	if cfg.Orders.NumberPrefix != "DOT" {
		t.Errorf("expected prefix from dotenv, got %s", cfg.Orders.NumberPrefix)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name  string
		env   map[string]string
		field string
	}{
		{"postgres without dsn", map[string]string{"API_STORAGE_BACKEND": "postgres"}, "Postgres.DSN"},
		{"firestore without project", map[string]string{"API_STORAGE_BACKEND": "firestore"}, "Firestore.ProjectID"},
		{"unknown storage", map[string]string{"API_STORAGE_BACKEND": "mongo"}, "Storage.Backend"},
		{"kafka without brokers", map[string]string{"API_EVENTS_BACKEND": "kafka"}, "Events.KafkaBrokers"},
		{"pubsub without project", map[string]string{"API_EVENTS_BACKEND": "pubsub"}, "Events.PubSubProjectID"},
		{"sample ratio", map[string]string{"API_TELEMETRY_TRACE_SAMPLE_RATIO": "2"}, "Telemetry.TraceSampleRatio"},
		{"page sizes", map[string]string{"API_ORDERS_DEFAULT_PAGE_SIZE": "500"}, "Orders.DefaultPageSize"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(context.Background(), WithEnvMap(tc.env), WithoutSystemEnv(), WithEnvFile(""))
			var validation *ValidationError
			if !errors.As(err, &validation) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if !slices.Contains(validation.Fields(), tc.field) {
				t.Fatalf("expected field %s in %v", tc.field, validation.Fields())
			}
		})
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := map[string]string{
		"API_STORAGE_BACKEND": "postgres",
		"API_POSTGRES_DSN":    "secret://missing",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected secret resolution error, got nil")
	}
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("unexpected secret ref %s", secretErr.Ref)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_FIRESTORE_PROJECT_ID=dot-project\nAPI_SECRET_FALLBACK_FILE=.dot.local\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing env file: %v", err)
	}

	t.Setenv("API_FIRESTORE_PROJECT_ID", "os-project")
	t.Setenv("API_SECRET_PROJECT_ID", "project-prod")

	overrides := map[string]string{
		"API_FIRESTORE_PROJECT_ID": "override-project",
	}

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(overrides))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}

	if got := values["API_FIRESTORE_PROJECT_ID"]; got != "override-project" {
		t.Fatalf("expected override project, got %s", got)
	}
	if got := values["API_SECRET_FALLBACK_FILE"]; got != ".dot.local" {
		t.Fatalf("expected dotenv fallback file, got %s", got)
	}
	if got := values["API_SECRET_PROJECT_ID"]; got != "project-prod" {
		t.Fatalf("expected system env project, got %s", got)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	_, err := Load(context.Background(),
		WithEnvMap(map[string]string{}),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Postgres.DSN"),
	)
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %T", err)
	}
	expectedRedacted := redactSecretName("Postgres.DSN")
	if got := missing.RedactedNames(); len(got) != 1 || got[0] != expectedRedacted {
		t.Fatalf("unexpected redacted names %v", got)
	}
}

func TestLoadMissingRequiredSecretsPanic(t *testing.T) {
	defer func() {
		rec := recover()
		if rec == nil {
			t.Fatal("expected panic when required secrets missing")
		}
		missing, ok := rec.(*MissingSecretsError)
		if !ok {
			t.Fatalf("expected MissingSecretsError panic, got %T", rec)
		}
		if len(missing.Names()) != 1 || missing.Names()[0] != "Postgres.DSN" {
			t.Fatalf("unexpected missing secrets %v", missing.Names())
		}
	}()

	Load(context.Background(),
		WithEnvMap(map[string]string{}),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Postgres.DSN"),
		WithPanicOnMissingSecrets(),
	)
}

func TestLoadSupportsLegacySecretScheme(t *testing.T) {
	env := map[string]string{
		"API_STORAGE_BACKEND": "postgres",
		"API_POSTGRES_DSN":    "sm://db/dsn",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if ref == "secret://db/dsn" {
			return "postgres://legacy", nil
		}
		return "", errors.New("not found")
	})

	cfg, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithSecretResolver(resolver),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Postgres.DSN != "postgres://legacy" {
		t.Fatalf("expected legacy secret, got %s", cfg.Postgres.DSN)
	}
}
