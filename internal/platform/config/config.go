package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile      = ".env"
	defaultPort         = "8080"
	defaultReadTimeout  = 15 * time.Second
	defaultWriteTimeout = 30 * time.Second
	defaultIdleTimeout  = 120 * time.Second

	defaultSiteURL         = "https://luxprint.webflow.io"
	defaultSuccessPath     = "/merci?session_id={CHECKOUT_SESSION_ID}"
	defaultCancelPath      = "/panier"
	defaultCurrency        = "eur"
	defaultFXMode          = "fixed"
	defaultFixedFX         = 0.93
	defaultMarginPct       = 0.35
	defaultMarginFixed     = 1.0
	defaultRoundTo         = 0.5
	defaultPrintfulBaseV1  = "https://api.printful.com"
	defaultPrintfulBaseV2  = "https://api.printful.com/v2"
	defaultMetadataChunk   = 450
	defaultMetadataFields  = 45
	defaultIdempotencyTTL  = 24 * time.Hour
	defaultCleanupInterval = time.Hour
	defaultCleanupBatch    = 200

	// Webflow serves storefront design uploads from these hosts.
	defaultFileAllowlist = `^https://([a-z0-9-]+\.)?(website-files\.com|uploads-ssl\.webflow\.com)/`
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	CORS        CORSConfig
	PSP         PSPConfig
	Fulfillment FulfillmentConfig
	Pricing     PricingConfig
	Checkout    CheckoutConfig
	Files       FilesConfig
	Metadata    MetadataConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// CORSConfig lists the storefront origins allowed to call the API.
type CORSConfig struct {
	Origins []string
}

// PSPConfig collects payment provider secrets.
type PSPConfig struct {
	StripeSecretKey     string
	StripeWebhookSecret string
}

// FulfillmentConfig holds print-provider credentials and endpoints.
type FulfillmentConfig struct {
	Token              string
	OrdersToken        string
	StoreID            string
	BaseURLV1          string
	BaseURLV2          string
	PackingSlipMessage string
}

// PricingConfig drives server-side price resolution.
type PricingConfig struct {
	Enforce     bool
	FXMode      string
	FixedFX     float64
	MarginPct   float64
	MarginFixed float64
	RoundTo     float64
	Currency    string
}

// CheckoutConfig holds redirect targets and shipping collection options.
type CheckoutConfig struct {
	SiteURL           string
	SuccessURL        string
	CancelURL         string
	ShippingCountries []string
}

// FilesConfig restricts which remote design file URLs may reach fulfillment.
type FilesConfig struct {
	URLAllowlist string
}

// MetadataConfig bounds the chunked metadata codec.
type MetadataConfig struct {
	ChunkSize int
	MaxFields int
}

// IdempotencyConfig controls the fulfillment dedup store.
type IdempotencyConfig struct {
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// SecretResolver resolves references to external secrets (secret:// URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets a custom secret resolver used for secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret resolution.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}),
	}

	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	siteURL := strings.TrimRight(stringWithDefault(lookup, "SITE_URL", defaultSiteURL), "/")

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		CORS: CORSConfig{
			Origins: csvWithDefault(lookup, "CORS_ORIGINS"),
		},
		PSP: PSPConfig{
			StripeSecretKey:     stringWithDefault(lookup, "STRIPE_SECRET_KEY", ""),
			StripeWebhookSecret: stringWithDefault(lookup, "STRIPE_WEBHOOK_SECRET", ""),
		},
		Fulfillment: FulfillmentConfig{
			Token:              stringWithDefault(lookup, "PRINTFUL_TOKEN", ""),
			OrdersToken:        stringWithDefault(lookup, "PRINTFUL_TOKEN_ORDERS", ""),
			StoreID:            stringWithDefault(lookup, "PRINTFUL_STORE_ID", ""),
			BaseURLV1:          stringWithDefault(lookup, "PRINTFUL_BASE_URL", defaultPrintfulBaseV1),
			BaseURLV2:          stringWithDefault(lookup, "PRINTFUL_BASE_URL_V2", defaultPrintfulBaseV2),
			PackingSlipMessage: stringWithDefault(lookup, "PRINTFUL_PACKING_SLIP_MESSAGE", ""),
		},
		Pricing: PricingConfig{
			Enforce:     boolWithDefault(lookup, "PRICING_ENFORCE", false),
			FXMode:      strings.ToLower(stringWithDefault(lookup, "PRICING_FX_MODE", defaultFXMode)),
			FixedFX:     floatWithDefault(lookup, "PRICING_FIXED_FX", defaultFixedFX),
			MarginPct:   floatWithDefault(lookup, "PRICING_MARGIN_PCT", defaultMarginPct),
			MarginFixed: floatWithDefault(lookup, "PRICING_MARGIN_FIXED", defaultMarginFixed),
			RoundTo:     floatWithDefault(lookup, "PRICING_ROUND_TO", defaultRoundTo),
			Currency:    strings.ToLower(stringWithDefault(lookup, "CURRENCY", defaultCurrency)),
		},
		Checkout: CheckoutConfig{
			SiteURL:           siteURL,
			SuccessURL:        stringWithDefault(lookup, "CHECKOUT_SUCCESS_URL", siteURL+defaultSuccessPath),
			CancelURL:         stringWithDefault(lookup, "CHECKOUT_CANCEL_URL", siteURL+defaultCancelPath),
			ShippingCountries: csvWithDefault(lookup, "CHECKOUT_SHIPPING_COUNTRIES"),
		},
		Files: FilesConfig{
			URLAllowlist: stringWithDefault(lookup, "FILES_URL_ALLOWLIST", defaultFileAllowlist),
		},
		Metadata: MetadataConfig{
			ChunkSize: intWithDefault(lookup, "METADATA_CHUNK_SIZE", defaultMetadataChunk),
			MaxFields: intWithDefault(lookup, "METADATA_MAX_FIELDS", defaultMetadataFields),
		},
		Idempotency: IdempotencyConfig{
			TTL:              durationWithDefault(lookup, "IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  durationWithDefault(lookup, "IDEMPOTENCY_CLEANUP_INTERVAL", defaultCleanupInterval),
			CleanupBatchSize: intWithDefault(lookup, "IDEMPOTENCY_CLEANUP_BATCH", defaultCleanupBatch),
		},
	}

	// The orders token falls back to the catalog token when not set separately.
	if strings.TrimSpace(cfg.Fulfillment.OrdersToken) == "" {
		cfg.Fulfillment.OrdersToken = cfg.Fulfillment.Token
	}

	// Resolve secrets when values reference an external secret store.
	secretFields := []*string{
		&cfg.PSP.StripeSecretKey,
		&cfg.PSP.StripeWebhookSecret,
		&cfg.Fulfillment.Token,
		&cfg.Fulfillment.OrdersToken,
	}
	for _, field := range secretFields {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !isSecretReference(value) {
		return value, nil
	}
	ref := strings.TrimSpace(value)
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func isSecretReference(value string) bool {
	return strings.HasPrefix(strings.TrimSpace(value), "secret://")
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if strings.TrimSpace(cfg.PSP.StripeSecretKey) == "" {
		missing = append(missing, "PSP.StripeSecretKey")
	}
	if strings.TrimSpace(cfg.Fulfillment.Token) == "" {
		missing = append(missing, "Fulfillment.Token")
	}
	if cfg.Pricing.RoundTo < 0 {
		missing = append(missing, "Pricing.RoundTo")
	}
	if cfg.Metadata.ChunkSize <= 0 {
		missing = append(missing, "Metadata.ChunkSize")
	}
	if cfg.Metadata.MaxFields <= 0 {
		missing = append(missing, "Metadata.MaxFields")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval <= 0 {
		missing = append(missing, "Idempotency.CleanupInterval")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		missing = append(missing, "Idempotency.CleanupBatchSize")
	}
	if _, err := regexp.Compile(cfg.Files.URLAllowlist); err != nil {
		missing = append(missing, "Files.URLAllowlist")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		value = strings.Trim(value, "\"'")
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func floatWithDefault(lookup func(string) (string, bool), key string, fallback float64) float64 {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
