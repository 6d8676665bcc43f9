package main

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"civicreport/libs/mailer"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const (
	maxDescriptionLength       = 2000
	maxTagCount                = 10
	maxTagLength               = 40
	maxImageCount              = 10
	maxNotesLength             = 2000
	maxBulkIssueCount          = 500
	defaultListLimit           = 50
	maxListLimit               = 200
	defaultNearRadiusM         = 300
	maxNearRadiusM             = 50000
	publicAnnouncementLimit    = 10
	maxExportRows              = 5000
	sessionCookieName          = "civic_session"
	sessionDuration            = 7 * 24 * time.Hour
	minPasswordLength          = 8
	rateLimiterCleanupInterval = time.Minute
	rateLimiterIdleTTL         = 10 * time.Minute
	backgroundTaskTimeout      = 30 * time.Second
	shutdownTimeout            = 15 * time.Second
	anonymousVoterIP           = "0.0.0.0"
	devCORSOriginLocalhost     = "http://localhost:3000"
	devCORSOriginLoopback      = "http://127.0.0.1:3000"
	trustedProxyLoopbackIPv4   = "127.0.0.1"
	trustedProxyLoopbackIPv6   = "::1"
)

var (
	issueStatuses          = []string{"active", "under_progress", "under_review", "closed"}
	profileRoles           = []string{"citizen", "official", "admin"}
	staffRoles             = []string{"official", "admin"}
	announcementTypes      = []string{"general", "info", "maintenance", "alert", "offline"}
	announcementPriorities = []string{"low", "normal", "high", "urgent"}
	issueStatusLabels      = map[string]string{
		"active":         "Active",
		"under_progress": "In progress",
		"under_review":   "Under review",
		"closed":         "Closed",
	}
)

type Config struct {
	Addr                   string
	Env                    string
	DatabaseURL            string
	PublicBaseURL          string
	CORSAllowedOrigins     []string
	AppSigningSecret       string
	TurnstileSecretKey     string
	RedisAddr              string
	RedisPassword          string
	IssueRateLimit         int
	IssueRateWindow        time.Duration
	VoteRateLimit          int
	VoteRateWindow         time.Duration
	GeocoderProvider       string
	MapboxAccessToken      string
	ResendAPIKey           string
	MailerFromAddress      string
	BootstrapAdminEmail    string
	BootstrapAdminPassword string
}

type App struct {
	cfg *Config
	db  *sql.DB
	log *slog.Logger

	geocoder    Geocoder
	botVerifier BotVerifier
	mailer      *mailer.Mailer
	metrics     *appMetrics

	issueLimiter RateLimiter
	voteLimiter  RateLimiter

	adminTemplates *adminTemplateRenderer

	// runBackground schedules best-effort work detached from the request.
	// Tests replace it to run tasks inline.
	runBackground func(task func(ctx context.Context))
}

type Issue struct {
	ID            int      `json:"id"`
	Description   string   `json:"description"`
	Latitude      float64  `json:"latitude"`
	Longitude     float64  `json:"longitude"`
	Status        string   `json:"status"`
	Tags          []string `json:"tags"`
	Flagged       bool     `json:"flagged"`
	ReporterID    *string  `json:"reporter_id"`
	ReporterEmail *string  `json:"reporter_email,omitempty"`
	Address       *string  `json:"address"`
	City          *string  `json:"city"`
	CreatedAt     string   `json:"created_at"`
	UpdatedAt     string   `json:"updated_at"`
}

// IssueSummary.History is nil unless history was requested; a requested but
// empty history encodes as [].
type IssueSummary struct {
	Issue
	VoteCount      int                   `json:"vote_count"`
	Images         []string              `json:"images"`
	DepartmentID   *int                  `json:"department_id,omitempty"`
	DepartmentName *string               `json:"department_name,omitempty"`
	History        *[]StatusHistoryEntry `json:"history,omitempty"`
}

type IssueImage struct {
	ID        int    `json:"id"`
	IssueID   int    `json:"issue_id"`
	URL       string `json:"url"`
	Width     *int   `json:"width"`
	Height    *int   `json:"height"`
	CreatedAt string `json:"created_at"`
}

type StatusHistoryEntry struct {
	ID            int     `json:"id"`
	IssueID       int     `json:"issue_id"`
	FromStatus    *string `json:"from_status"`
	ToStatus      string  `json:"to_status"`
	Notes         *string `json:"notes"`
	ChangedBy     *string `json:"changed_by"`
	ChangedByName *string `json:"changed_by_name"`
	ChangedAt     string  `json:"changed_at"`
}

type Assignment struct {
	IssueID        int     `json:"issue_id"`
	DepartmentID   int     `json:"department_id"`
	DepartmentName *string `json:"department_name"`
	AssigneeID     *string `json:"assignee_id"`
	AssigneeName   *string `json:"assignee_name"`
	AssignedBy     *string `json:"assigned_by"`
	Notes          *string `json:"notes"`
	AssignedAt     string  `json:"assigned_at"`
}

type IssueDetails struct {
	Issue      Issue                `json:"issue"`
	Images     []IssueImage         `json:"images"`
	Votes      int                  `json:"votes"`
	History    []StatusHistoryEntry `json:"history"`
	Assignment *Assignment          `json:"assignment"`
}

type NearbyIssue struct {
	ID          int     `json:"id"`
	Description string  `json:"description"`
	Status      string  `json:"status"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Flagged     bool    `json:"flagged"`
	CreatedAt   string  `json:"created_at"`
	DistanceM   float64 `json:"distance_m"`
}

type IssueImageInput struct {
	URL    string `json:"url"`
	Width  *int   `json:"width,omitempty"`
	Height *int   `json:"height,omitempty"`
}

type IssueCreatePayload struct {
	Description    string
	Latitude       float64
	Longitude      float64
	Tags           []string
	Images         []IssueImageInput
	Flagged        bool
	ReporterID     *string
	ReporterEmail  *string
	TurnstileToken string
	ClientIP       string
}

type Department struct {
	ID                int      `json:"id"`
	Name              string   `json:"name"`
	Description       *string  `json:"description"`
	CreatedBy         *string  `json:"created_by,omitempty"`
	CreatedByName     *string  `json:"created_by_name,omitempty"`
	Categories        []string `json:"categories"`
	ActiveAssignments int      `json:"active_assignments"`
	CreatedAt         string   `json:"created_at"`
}

type Profile struct {
	ID           string  `json:"id"`
	Email        string  `json:"email"`
	Role         string  `json:"role"`
	DisplayName  *string `json:"display_name"`
	DepartmentID *int    `json:"department_id"`
	IsActive     bool    `json:"is_active"`
	IssueCount   int     `json:"issue_count"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
}

type Announcement struct {
	ID             int     `json:"id"`
	Title          string  `json:"title"`
	Content        string  `json:"content"`
	Type           string  `json:"type"`
	Priority       string  `json:"priority"`
	DepartmentID   *int    `json:"department_id"`
	DepartmentName *string `json:"department_name"`
	IsActive       bool    `json:"is_active"`
	ExpiresAt      *string `json:"expires_at"`
	CreatedBy      *string `json:"created_by,omitempty"`
	CreatedByName  *string `json:"created_by_name,omitempty"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
}

// AuthContext is the caller resolved once per request by resolveAuthContext.
type AuthContext struct {
	ProfileID    string  `json:"id"`
	Email        string  `json:"email"`
	Role         string  `json:"role"`
	DisplayName  *string `json:"display_name"`
	DepartmentID *int    `json:"department_id"`
}

func (a AuthContext) IsStaff() bool {
	return containsString(staffRoles, a.Role)
}

type apiError struct {
	Status  int
	Code    string
	Message string
	Debug   gin.H
}

func (e *apiError) Error() string { return e.Message }

func badRequest(code, message string) *apiError {
	return &apiError{Status: http.StatusBadRequest, Code: code, Message: message}
}

func notFound(code, message string) *apiError {
	return &apiError{Status: http.StatusNotFound, Code: code, Message: message}
}

func conflict(code, message string) *apiError {
	return &apiError{Status: http.StatusConflict, Code: code, Message: message}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadDotEnv reads KEY=VALUE pairs from path without overriding variables
// already present in the environment. A missing file is not an error.
func loadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func loadConfig() (*Config, error) {
	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		host := valueFromEnvKeys("PGHOST", "POSTGRES_HOST")
		if host == "" {
			host = "127.0.0.1"
		}
		port := valueFromEnvKeys("PGPORT", "POSTGRES_PORT")
		if port == "" {
			port = "5432"
		}
		dbname := valueFromEnvKeys("PGDATABASE", "POSTGRES_DB")
		user := valueFromEnvKeys("PGUSER", "POSTGRES_USER")
		password := valueFromEnvKeys("PGPASSWORD", "POSTGRES_PASSWORD")
		sslmode := valueFromEnvKeys("PGSSLMODE", "POSTGRES_SSLMODE")
		if sslmode == "" {
			sslmode = "disable"
		}
		if dbname != "" && user != "" {
			databaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, password, host, port, dbname, sslmode)
		}
	}
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL or PG*/POSTGRES_* variables must be configured")
	}

	secret := strings.TrimSpace(os.Getenv("APP_SIGNING_SECRET"))
	if len(secret) < 16 {
		return nil, fmt.Errorf("APP_SIGNING_SECRET must be at least 16 characters")
	}

	env := strings.ToLower(valueOrDefault("APP_ENV", "development"))
	switch env {
	case "development", "production", "test":
	default:
		return nil, fmt.Errorf("APP_ENV must be one of development, production, test")
	}

	cfg := &Config{
		Addr:                   valueOrDefault("GIN_ADDR", ":8080"),
		Env:                    env,
		DatabaseURL:            databaseURL,
		PublicBaseURL:          strings.TrimRight(strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL")), "/"),
		CORSAllowedOrigins:     splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		AppSigningSecret:       secret,
		TurnstileSecretKey:     strings.TrimSpace(os.Getenv("TURNSTILE_SECRET_KEY")),
		RedisAddr:              strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		GeocoderProvider:       strings.ToLower(valueOrDefault("GEOCODER_PROVIDER", "none")),
		MapboxAccessToken:      strings.TrimSpace(os.Getenv("MAPBOX_ACCESS_TOKEN")),
		ResendAPIKey:           strings.TrimSpace(os.Getenv("RESEND_API_KEY")),
		MailerFromAddress:      valueOrDefault("MAILER_FROM_ADDRESS", "noreply@civicreport.local"),
		BootstrapAdminEmail:    strings.ToLower(strings.TrimSpace(os.Getenv("BOOTSTRAP_ADMIN_EMAIL"))),
		BootstrapAdminPassword: strings.TrimSpace(os.Getenv("BOOTSTRAP_ADMIN_PASSWORD")),
	}

	var err error
	if cfg.IssueRateLimit, err = intFromEnv("ISSUE_RATE_LIMIT", 10); err != nil {
		return nil, err
	}
	if cfg.IssueRateWindow, err = durationFromEnv("ISSUE_RATE_WINDOW", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.VoteRateLimit, err = intFromEnv("VOTE_RATE_LIMIT", 30); err != nil {
		return nil, err
	}
	if cfg.VoteRateWindow, err = durationFromEnv("VOTE_RATE_WINDOW", time.Minute); err != nil {
		return nil, err
	}

	switch cfg.GeocoderProvider {
	case "none", "nominatim", "fallback":
	case "mapbox":
		if cfg.MapboxAccessToken == "" {
			return nil, fmt.Errorf("MAPBOX_ACCESS_TOKEN is required when GEOCODER_PROVIDER=mapbox")
		}
	default:
		return nil, fmt.Errorf("GEOCODER_PROVIDER must be one of none, nominatim, mapbox, fallback")
	}

	if (cfg.BootstrapAdminEmail == "") != (cfg.BootstrapAdminPassword == "") {
		return nil, fmt.Errorf("BOOTSTRAP_ADMIN_EMAIL and BOOTSTRAP_ADMIN_PASSWORD must be set together")
	}
	if cfg.BootstrapAdminPassword != "" && len(cfg.BootstrapAdminPassword) < minPasswordLength {
		return nil, fmt.Errorf("BOOTSTRAP_ADMIN_PASSWORD must be at least %d characters", minPasswordLength)
	}

	return cfg, nil
}

func valueOrDefault(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func valueFromEnvKeys(keys ...string) string {
	for _, key := range keys {
		value := strings.TrimSpace(os.Getenv(key))
		if value != "" {
			return value
		}
	}
	return ""
}

func intFromEnv(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		return 0, fmt.Errorf("%s must be a positive integer", key)
	}
	return value, nil
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration such as 10m", key)
	}
	return value, nil
}

func splitList(raw string) []string {
	values := []string{}
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimRight(strings.TrimSpace(part), "/"); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}

func (a *App) runMigrations(ctx context.Context) error {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return err
	}

	if _, err := a.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	for _, file := range files {
		var exists bool
		if err := a.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = $1)`, file).Scan(&exists); err != nil {
			return err
		}
		if exists {
			continue
		}

		content, err := migrationFiles.ReadFile(path.Join("migrations", file))
		if err != nil {
			return err
		}

		tx, err := a.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %s failed: %w", file, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, file); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}

		a.log.Info("applied migration", "file", file)
	}

	return nil
}

// bootstrapAdmin makes sure the configured admin account exists and can log in.
func (a *App) bootstrapAdmin(ctx context.Context) error {
	email := a.cfg.BootstrapAdminEmail
	password := a.cfg.BootstrapAdminPassword
	if email == "" || password == "" {
		a.log.Info("bootstrap admin not configured")
		return nil
	}

	if _, err := a.upsertAdminProfile(ctx, email, password, nil); err != nil {
		return err
	}
	a.log.Info("bootstrap admin ensured", "email", email)
	return nil
}

func (a *App) upsertAdminProfile(ctx context.Context, email, password string, displayName *string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	var id string
	err = a.db.QueryRowContext(ctx, `
		INSERT INTO profiles (email, password_hash, role, display_name, is_active)
		VALUES ($1, $2, 'admin', $3, TRUE)
		ON CONFLICT (email)
		DO UPDATE SET
			password_hash = EXCLUDED.password_hash,
			role = 'admin',
			display_name = COALESCE(EXCLUDED.display_name, profiles.display_name),
			is_active = TRUE,
			updated_at = NOW()
		RETURNING id::text
	`, strings.ToLower(strings.TrimSpace(email)), string(hash), displayName).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert admin profile: %w", err)
	}
	return id, nil
}

func writeAPIError(c *gin.Context, err error) {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		body := gin.H{"error": apiErr.Code, "message": apiErr.Message}
		if apiErr.Debug != nil {
			body["debug"] = apiErr.Debug
		}
		c.AbortWithStatusJSON(apiErr.Status, body)
		return
	}

	_ = c.Error(err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Internal server error"})
}
