package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"civicreport/libs/mailer"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newRootCommand() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:           "civicreport",
		Short:         "Civic issue reporting API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadDotEnv(envFile); err != nil {
				fmt.Fprintf(os.Stderr, "warning: %v\n", err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")

	root.AddCommand(
		newServeCommand(),
		newMigrateCommand(),
		newCreateAdminCommand(),
		newSeedCommand(),
		newExportCommand(),
	)
	return root
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run migrations and serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, closeApp, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp()
			return app.runMigrations(cmd.Context())
		},
	}
}

func newCreateAdminCommand() *cobra.Command {
	var email, password, name string
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create or promote an admin account",
		RunE: func(cmd *cobra.Command, args []string) error {
			email = strings.TrimSpace(email)
			if email == "" {
				return errors.New("--email is required")
			}
			if len(password) < minPasswordLength {
				return fmt.Errorf("--password must be at least %d characters", minPasswordLength)
			}

			app, closeApp, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp()

			var displayName *string
			if trimmed := strings.TrimSpace(name); trimmed != "" {
				displayName = &trimmed
			}
			id, err := app.upsertAdminProfile(cmd.Context(), email, password, displayName)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "admin %s ready (%s)\n", strings.ToLower(email), id)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "admin e-mail address")
	cmd.Flags().StringVar(&password, "password", "", "admin password")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	return cmd
}

func newSeedCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed departments and their categories",
		RunE: func(cmd *cobra.Command, args []string) error {
			seeds, err := loadDepartmentSeeds(file)
			if err != nil {
				return err
			}
			app, closeApp, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp()

			added, err := app.seedDepartments(cmd.Context(), seeds)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d departments, %d new categories\n", len(seeds), added)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "YAML file with a departments list (built-in defaults when empty)")
	return cmd
}

func newExportCommand() *cobra.Command {
	var format, out, status, tag string
	var department int
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write issue exports to a directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			formats := exportFormats
			if format != "all" {
				if !containsString(exportFormats, format) {
					return fmt.Errorf("--format must be all, csv, geojson or pdf")
				}
				formats = []string{format}
			}
			if status != "" && !containsString(issueStatuses, status) {
				return fmt.Errorf("--status must be one of %s", strings.Join(issueStatuses, ", "))
			}

			app, closeApp, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp()

			req := exportRequest{
				Filters:     IssueFilters{Status: status, Tag: normalizeTag(tag), DepartmentID: department},
				GeneratedAt: time.Now(),
			}
			issues, err := app.loadExportIssues(cmd.Context(), req.Filters)
			if err != nil {
				return err
			}
			paths, err := writeExportFiles(out, req, formats, issues)
			if err != nil {
				return err
			}
			for _, path := range paths {
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "all", "export format: all, csv, geojson or pdf")
	cmd.Flags().StringVar(&out, "out", "exports", "output directory")
	cmd.Flags().StringVar(&status, "status", "", "only issues with this status")
	cmd.Flags().StringVar(&tag, "tag", "", "only issues with this tag")
	cmd.Flags().IntVar(&department, "department", 0, "only issues assigned to this department id")
	return cmd
}

// openApp loads configuration and wires every dependency of App. The
// returned func releases the database and Redis connections.
func openApp(ctx context.Context) (*App, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}
	closers := []func() error{db.Close}

	var mailProvider mailer.Provider
	if cfg.ResendAPIKey != "" {
		mailProvider = mailer.NewResendProvider(cfg.ResendAPIKey)
	} else {
		mailProvider = mailer.NewLogProvider(logger)
	}
	logger.Info("mailer initialized", "provider", mailProvider.Name())

	app := &App{
		cfg:            cfg,
		db:             db,
		log:            logger,
		geocoder:       newGeocoder(cfg),
		mailer:         mailer.New(mailProvider, cfg.MailerFromAddress),
		metrics:        newAppMetrics(),
		adminTemplates: newAdminTemplateRenderer(cfg.Env),
	}
	if cfg.TurnstileSecretKey != "" {
		app.botVerifier = newTurnstileVerifier(cfg.TurnstileSecretKey)
	}

	if cfg.RedisAddr != "" {
		client := newRedisClient(cfg)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			_ = db.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		closers = append(closers, client.Close)
		app.issueLimiter = NewRedisRateLimiter(client, "civic:ratelimit:issue", cfg.IssueRateLimit, cfg.IssueRateWindow)
		app.voteLimiter = NewRedisRateLimiter(client, "civic:ratelimit:vote", cfg.VoteRateLimit, cfg.VoteRateWindow)
		logger.Info("rate limiter initialized", "backend", "redis")
	} else {
		app.issueLimiter = NewMemoryRateLimiter(cfg.IssueRateLimit, cfg.IssueRateWindow)
		app.voteLimiter = NewMemoryRateLimiter(cfg.VoteRateLimit, cfg.VoteRateWindow)
		logger.Info("rate limiter initialized", "backend", "memory")
	}

	closeApp := func() {
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				logger.Error("close resource failed", "err", err)
			}
		}
	}
	return app, closeApp, nil
}

func runServe(ctx context.Context) error {
	app, closeApp, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp()

	if err := app.runMigrations(ctx); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	if err := app.bootstrapAdmin(ctx); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}

	router, err := app.buildRouter()
	if err != nil {
		return err
	}
	server := &http.Server{
		Addr:              app.cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		app.log.Info("api listening", "addr", app.cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		app.log.Info("shutting down")
		return server.Shutdown(shutdownCtx)
	})
	for _, limiter := range []RateLimiter{app.issueLimiter, app.voteLimiter} {
		if memory, ok := limiter.(*MemoryRateLimiter); ok {
			group.Go(func() error {
				return memory.runCleanup(groupCtx, rateLimiterCleanupInterval)
			})
		}
	}
	return group.Wait()
}
