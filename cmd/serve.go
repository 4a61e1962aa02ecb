package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/teemow/calagent/internal/agent"
	"github.com/teemow/calagent/internal/calendar"
	"github.com/teemow/calagent/internal/calendar/google"
	"github.com/teemow/calagent/internal/calendar/microsoft"
	"github.com/teemow/calagent/internal/credentials"
	"github.com/teemow/calagent/internal/instrumentation"
	"github.com/teemow/calagent/internal/llm"
	"github.com/teemow/calagent/internal/logging"
	"github.com/teemow/calagent/internal/oauth"
	"github.com/teemow/calagent/internal/server"
	"github.com/teemow/calagent/internal/tools"
)

// MetricsConfig holds configuration for the metrics server
type MetricsConfig struct {
	// Enabled determines whether to start the metrics server (default: true)
	Enabled bool

	// Addr is the address for the metrics server (e.g., ":9090")
	Addr string
}

// ModelConfig holds the language model tiers.
type ModelConfig struct {
	PrimaryURL    string
	PrimaryAPIKey string
	PrimaryModel  string
	LocalURL      string
	LocalModel    string
	ForceLocal    bool
	QuotaPerHour  float64
	QuotaBurst    int
	CallTimeout   time.Duration
}

// serveConfig is everything the serve command wires together.
type serveConfig struct {
	Debug           bool
	HTTPAddr        string
	BaseURL         string
	JWTSecret       string
	AllowUserHeader bool

	Storage storageFlags

	Google           oauth.ProviderConfig
	GoogleScopes     string
	GoogleCalendarID string
	Microsoft        oauth.ProviderConfig
	MicrosoftScopes  string
	ProviderRPS      float64

	TimeZone          string
	WorkingHoursStart string
	WorkingHoursEnd   string

	Models  ModelConfig
	Metrics MetricsConfig
}

func newServeCmd() *cobra.Command {
	var cfg serveConfig

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the calendar agent HTTP server",
		Long: `Start the HTTP server that accepts natural-language calendar instructions
on POST /agent/calendar and streams the run back as Server-Sent Events.

Calendar access:
  Users connect a calendar through GET /oauth/{provider}/login. Configure at
  least one OAuth client:
    --google-client-id / --google-client-secret (GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET)
    --microsoft-client-id / --microsoft-client-secret (MICROSOFT_CLIENT_ID, MICROSOFT_CLIENT_SECRET)

Credential storage:
  Tokens are encrypted with --encryption-key (CALAGENT_ENCRYPTION_KEY) and
  stored in memory, SQLite or Valkey (--storage-type).

Language models:
  The primary model is Gemini, reached through the Gemini API.
  The local fallback is an Ollama server. Without a primary API key, or with
  --force-local-llm, every request uses the local model.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loadServeEnvVars(cmd, &cfg)
			return runServe(cfg)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&cfg.Debug, "debug", false, "Enable debug logging. Can also use DEBUG env var.")
	f.StringVar(&cfg.HTTPAddr, "http-addr", server.DefaultHTTPAddr, "HTTP server address. Can also use HTTP_ADDR env var.")
	f.StringVar(&cfg.BaseURL, "base-url", "", "Public base URL used for OAuth redirect URLs. Can also use CALAGENT_BASE_URL env var. Example: https://calendar.example.com")
	f.StringVar(&cfg.JWTSecret, "jwt-secret", "", "HS256 secret for bearer tokens; the sub claim is the user id. Can also use CALAGENT_JWT_SECRET env var.")
	f.BoolVar(&cfg.AllowUserHeader, "allow-user-header", false, "WARNING: Accept the X-User-ID header without authentication (development only). Can also use CALAGENT_ALLOW_USER_HEADER env var.")

	cfg.Storage.register(cmd)

	f.StringVar(&cfg.Google.ClientID, "google-client-id", "", "Google OAuth client ID. Can also use GOOGLE_CLIENT_ID env var.")
	f.StringVar(&cfg.Google.ClientSecret, "google-client-secret", "", "Google OAuth client secret. Can also use GOOGLE_CLIENT_SECRET env var.")
	f.StringVar(&cfg.Google.RedirectURL, "google-redirect-url", "", "Google OAuth redirect URL (default: <base-url>/oauth/google/callback). Can also use GOOGLE_REDIRECT_URL env var.")
	f.StringVar(&cfg.GoogleScopes, "google-scopes", "", "Comma-separated Google OAuth scopes. Can also use GOOGLE_OAUTH_SCOPES env var.")
	f.StringVar(&cfg.GoogleCalendarID, "google-calendar-id", "primary", "Google calendar operated on. Can also use GOOGLE_CALENDAR_ID env var.")
	f.StringVar(&cfg.Microsoft.ClientID, "microsoft-client-id", "", "Microsoft OAuth client ID. Can also use MICROSOFT_CLIENT_ID env var.")
	f.StringVar(&cfg.Microsoft.ClientSecret, "microsoft-client-secret", "", "Microsoft OAuth client secret. Can also use MICROSOFT_CLIENT_SECRET env var.")
	f.StringVar(&cfg.Microsoft.Tenant, "microsoft-tenant", "common", "Azure AD tenant. Can also use MICROSOFT_TENANT env var.")
	f.StringVar(&cfg.Microsoft.RedirectURL, "microsoft-redirect-url", "", "Microsoft OAuth redirect URL (default: <base-url>/oauth/microsoft/callback). Can also use MICROSOFT_REDIRECT_URL env var.")
	f.StringVar(&cfg.MicrosoftScopes, "microsoft-scopes", "", "Comma-separated Microsoft OAuth scopes. Can also use MICROSOFT_OAUTH_SCOPES env var.")
	f.Float64Var(&cfg.ProviderRPS, "provider-rps", 5, "Maximum calendar API requests per second per provider (0 disables pacing). Can also use PROVIDER_RPS env var.")

	f.StringVar(&cfg.TimeZone, "time-zone", "UTC", "IANA time zone for timestamps without an offset. Can also use CALAGENT_TIME_ZONE env var.")
	f.StringVar(&cfg.WorkingHoursStart, "working-hours-start", "09:00", "Default start of working hours for free slot searches. Can also use WORKING_HOURS_START env var.")
	f.StringVar(&cfg.WorkingHoursEnd, "working-hours-end", "17:00", "Default end of working hours for free slot searches. Can also use WORKING_HOURS_END env var.")

	f.StringVar(&cfg.Models.PrimaryURL, "primary-model-url", llm.DefaultPrimaryBaseURL, "Gemini API base URL of the primary model. Can also use PRIMARY_MODEL_URL env var.")
	f.StringVar(&cfg.Models.PrimaryAPIKey, "primary-model-api-key", "", "API key of the primary model. Can also use PRIMARY_MODEL_API_KEY env var.")
	f.StringVar(&cfg.Models.PrimaryModel, "primary-model-name", llm.DefaultPrimaryModel, "Primary model name. Can also use PRIMARY_MODEL_NAME env var.")
	f.StringVar(&cfg.Models.LocalURL, "local-model-url", llm.DefaultLocalBaseURL, "Ollama base URL of the local fallback model. Can also use LOCAL_MODEL_URL env var.")
	f.StringVar(&cfg.Models.LocalModel, "local-model-name", llm.DefaultLocalModel, "Local fallback model name. Can also use LOCAL_MODEL_NAME env var.")
	f.BoolVar(&cfg.Models.ForceLocal, "force-local-llm", false, "Send every model call to the local fallback. Can also use FORCE_LOCAL_LLM env var.")
	f.Float64Var(&cfg.Models.QuotaPerHour, "primary-quota-per-hour", 0, "Primary model calls allowed per user per hour (0 disables the quota). Can also use PRIMARY_QUOTA_PER_HOUR env var.")
	f.IntVar(&cfg.Models.QuotaBurst, "primary-quota-burst", 10, "Burst size of the per-user primary quota. Can also use PRIMARY_QUOTA_BURST env var.")
	f.DurationVar(&cfg.Models.CallTimeout, "model-timeout", 60*time.Second, "Timeout of a single model call. Can also use MODEL_TIMEOUT env var.")

	f.BoolVar(&cfg.Metrics.Enabled, "metrics-enabled", true, "Enable the metrics server on a dedicated port. Can also use METRICS_ENABLED env var.")
	f.StringVar(&cfg.Metrics.Addr, "metrics-addr", server.DefaultMetricsAddr, "Metrics server address. Can also use METRICS_ADDR env var.")

	return cmd
}

func loadServeEnvVars(cmd *cobra.Command, cfg *serveConfig) {
	envBool(cmd, "debug", "DEBUG", &cfg.Debug)
	envString(cmd, "http-addr", "HTTP_ADDR", &cfg.HTTPAddr)
	envString(cmd, "base-url", "CALAGENT_BASE_URL", &cfg.BaseURL)
	envString(cmd, "jwt-secret", "CALAGENT_JWT_SECRET", &cfg.JWTSecret)
	envBool(cmd, "allow-user-header", "CALAGENT_ALLOW_USER_HEADER", &cfg.AllowUserHeader)

	cfg.Storage.loadEnv(cmd)

	envString(cmd, "google-client-id", "GOOGLE_CLIENT_ID", &cfg.Google.ClientID)
	envString(cmd, "google-client-secret", "GOOGLE_CLIENT_SECRET", &cfg.Google.ClientSecret)
	envString(cmd, "google-redirect-url", "GOOGLE_REDIRECT_URL", &cfg.Google.RedirectURL)
	envString(cmd, "google-scopes", "GOOGLE_OAUTH_SCOPES", &cfg.GoogleScopes)
	envString(cmd, "google-calendar-id", "GOOGLE_CALENDAR_ID", &cfg.GoogleCalendarID)
	envString(cmd, "microsoft-client-id", "MICROSOFT_CLIENT_ID", &cfg.Microsoft.ClientID)
	envString(cmd, "microsoft-client-secret", "MICROSOFT_CLIENT_SECRET", &cfg.Microsoft.ClientSecret)
	envString(cmd, "microsoft-tenant", "MICROSOFT_TENANT", &cfg.Microsoft.Tenant)
	envString(cmd, "microsoft-redirect-url", "MICROSOFT_REDIRECT_URL", &cfg.Microsoft.RedirectURL)
	envString(cmd, "microsoft-scopes", "MICROSOFT_OAUTH_SCOPES", &cfg.MicrosoftScopes)
	envFloat(cmd, "provider-rps", "PROVIDER_RPS", &cfg.ProviderRPS)

	envString(cmd, "time-zone", "CALAGENT_TIME_ZONE", &cfg.TimeZone)
	envString(cmd, "working-hours-start", "WORKING_HOURS_START", &cfg.WorkingHoursStart)
	envString(cmd, "working-hours-end", "WORKING_HOURS_END", &cfg.WorkingHoursEnd)

	envString(cmd, "primary-model-url", "PRIMARY_MODEL_URL", &cfg.Models.PrimaryURL)
	envString(cmd, "primary-model-api-key", "PRIMARY_MODEL_API_KEY", &cfg.Models.PrimaryAPIKey)
	envString(cmd, "primary-model-name", "PRIMARY_MODEL_NAME", &cfg.Models.PrimaryModel)
	envString(cmd, "local-model-url", "LOCAL_MODEL_URL", &cfg.Models.LocalURL)
	envString(cmd, "local-model-name", "LOCAL_MODEL_NAME", &cfg.Models.LocalModel)
	envBool(cmd, "force-local-llm", "FORCE_LOCAL_LLM", &cfg.Models.ForceLocal)
	envFloat(cmd, "primary-quota-per-hour", "PRIMARY_QUOTA_PER_HOUR", &cfg.Models.QuotaPerHour)
	envInt(cmd, "primary-quota-burst", "PRIMARY_QUOTA_BURST", &cfg.Models.QuotaBurst)
	envDuration(cmd, "model-timeout", "MODEL_TIMEOUT", &cfg.Models.CallTimeout)

	envBool(cmd, "metrics-enabled", "METRICS_ENABLED", &cfg.Metrics.Enabled)
	envString(cmd, "metrics-addr", "METRICS_ADDR", &cfg.Metrics.Addr)

	cfg.Google.Scopes = parseCommaSeparatedList(cfg.GoogleScopes)
	cfg.Microsoft.Scopes = parseCommaSeparatedList(cfg.MicrosoftScopes)
}

// resolveBaseURL falls back to a localhost URL derived from the listen
// address. Deployed instances must set --base-url.
func resolveBaseURL(baseURL, addr string) string {
	if baseURL != "" {
		return strings.TrimSuffix(baseURL, "/")
	}
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}

// oauthConfig fills in default redirect URLs under baseURL.
func (cfg serveConfig) oauthConfig(baseURL string) oauth.Config {
	gc, mc := cfg.Google, cfg.Microsoft
	if gc.RedirectURL == "" {
		gc.RedirectURL = baseURL + "/oauth/google/callback"
	}
	if mc.RedirectURL == "" {
		mc.RedirectURL = baseURL + "/oauth/microsoft/callback"
	}
	return oauth.Config{Google: gc, Microsoft: mc}
}

func runServe(cfg serveConfig) error {
	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := logging.New(os.Stderr, cfg.Debug)
	slog.SetDefault(logger)

	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		return fmt.Errorf("invalid time zone %q: %w", cfg.TimeZone, err)
	}
	hours, err := calendar.ParseWorkingHours(cfg.WorkingHoursStart, cfg.WorkingHoursEnd, loc)
	if err != nil {
		return err
	}

	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version
	provider, err := instrumentation.NewProvider(ctx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error during instrumentation shutdown", logging.Err(err))
		}
	}()

	var metrics *instrumentation.Metrics
	if provider.Enabled() {
		metrics = provider.Metrics()
	}
	audit := instrumentation.NewAuditLogger(logger, instrConfig.AuditLogging)

	if cfg.Metrics.Enabled && provider.Enabled() {
		metricsServer, err := server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    cfg.Metrics.Addr,
			Enabled:                 true,
			InstrumentationProvider: provider,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}
		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server stopped", logging.Err(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("Error during metrics server shutdown", logging.Err(err))
			}
		}()
	}

	store, err := credentials.Open(ctx, cfg.Storage.config())
	if err != nil {
		return fmt.Errorf("failed to open credential store: %w", err)
	}
	defer store.Close()
	if t := cfg.Storage.config().Type; t == "" || t == credentials.StorageTypeMemory {
		logger.Warn("Using in-memory credential storage; connected calendars are lost on restart")
	}

	cipher, err := cfg.Storage.cipher()
	if err != nil {
		return fmt.Errorf("credential encryption key: %w", err)
	}

	baseURL := resolveBaseURL(cfg.BaseURL, cfg.HTTPAddr)
	oauthCfg := cfg.oauthConfig(baseURL)
	if err := oauthCfg.Validate(); err != nil {
		return err
	}
	manager, err := oauth.NewManager(oauthCfg, store, cipher,
		oauth.WithLogger(logger),
		oauth.WithMetrics(metrics))
	if err != nil {
		return fmt.Errorf("failed to create token manager: %w", err)
	}

	adapters := buildAdapters(manager, cfg, metrics, logger)

	selector, err := buildSelector(ctx, cfg.Models, metrics, logger)
	if err != nil {
		return err
	}

	dispatcher := tools.NewDispatcher(adapters, selector,
		tools.Config{Location: loc, WorkingHours: hours},
		tools.WithMetrics(metrics),
		tools.WithAuditLogger(audit),
		tools.WithLogger(logger))
	orchestrator := agent.NewOrchestrator(dispatcher,
		agent.WithMetrics(metrics),
		agent.WithLogger(logger))

	serverContext := server.NewServerContext(ctx, orchestrator, manager, store, metrics, logger)
	srv, err := server.New(server.Config{
		Addr:      cfg.HTTPAddr,
		PublicURL: cfg.BaseURL,
		Auth: server.AuthConfig{
			JWTSecret:       cfg.JWTSecret,
			AllowUserHeader: cfg.AllowUserHeader,
		},
	}, serverContext)
	if err != nil {
		return err
	}
	if cfg.AllowUserHeader {
		logger.Warn("X-User-ID header authentication is enabled; do not expose this server publicly")
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	logger.Info("calagent started",
		"addr", cfg.HTTPAddr,
		"base_url", baseURL,
		"providers", manager.Providers(),
		"version", version)

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("error during server shutdown: %w", err)
	}
	return nil
}

func buildAdapters(manager *oauth.Manager, cfg serveConfig, metrics *instrumentation.Metrics, logger *slog.Logger) calendar.Registry {
	adapters := make(calendar.Registry)
	for _, p := range manager.Providers() {
		caller := calendar.NewCaller(p, manager, cfg.ProviderRPS, metrics, logger)
		switch p {
		case credentials.ProviderGoogle:
			adapters[p] = google.New(caller, google.Config{CalendarID: cfg.GoogleCalendarID})
		case credentials.ProviderMicrosoft:
			adapters[p] = microsoft.New(caller, microsoft.Config{})
		}
	}
	return adapters
}

func buildSelector(ctx context.Context, cfg ModelConfig, metrics *instrumentation.Metrics, logger *slog.Logger) (*llm.Selector, error) {
	var primary llm.Client
	if cfg.PrimaryAPIKey != "" {
		c, err := llm.NewPrimaryClient(ctx, cfg.PrimaryURL, cfg.PrimaryAPIKey, cfg.PrimaryModel)
		if err != nil {
			return nil, fmt.Errorf("failed to create primary model client: %w", err)
		}
		primary = c
	} else {
		logger.Warn("No primary model API key configured; using the local model only")
	}
	fallback, err := llm.NewLocalClient(cfg.LocalURL, cfg.LocalModel)
	if err != nil {
		return nil, fmt.Errorf("failed to create local model client: %w", err)
	}

	selector, err := llm.NewSelector(primary, fallback, llm.Config{
		ForceFallback: cfg.ForceLocal,
		QuotaPerHour:  cfg.QuotaPerHour,
		QuotaBurst:    cfg.QuotaBurst,
		CallTimeout:   cfg.CallTimeout,
	}, metrics, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create model selector: %w", err)
	}
	return selector, nil
}
