package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/lims/lims/internal/config"
	"github.com/lims/lims/internal/domain/assignment"
	"github.com/lims/lims/internal/domain/audit"
	"github.com/lims/lims/internal/domain/catalog"
	"github.com/lims/lims/internal/domain/instrument"
	"github.com/lims/lims/internal/domain/inventory"
	"github.com/lims/lims/internal/domain/personnel"
	"github.com/lims/lims/internal/domain/reporting"
	"github.com/lims/lims/internal/domain/result"
	"github.com/lims/lims/internal/domain/sample"
	"github.com/lims/lims/internal/platform/auth"
	"github.com/lims/lims/internal/platform/blobstore"
	"github.com/lims/lims/internal/platform/db"
	"github.com/lims/lims/internal/platform/metrics"
	"github.com/lims/lims/internal/platform/middleware"
	"github.com/lims/lims/migrations"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:          "lims-server",
		Short:        "Laboratory information management API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(catalogCmd())
	rootCmd.AddCommand(reportCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the LIMS API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrationFiles(dir), logger).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrationFiles(dir), logger).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(cmd.OutOrStdout(), statuses)
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(statusCmd)

	return cmd
}

func migrationFiles(dir string) fs.FS {
	if dir != "" {
		return os.DirFS(dir)
	}
	return migrations.FS
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the test catalog",
	}

	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Create or update tests and parameters from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()

			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := catalog.NewService(catalog.NewTestRepoPG(pool), db.NewTxRunner(pool), logger)
			sum, err := svc.ImportCatalog(ctx, f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Tests: %d created, %d updated. Parameters: %d created, %d updated.\n",
				sum.TestsCreated, sum.TestsUpdated, sum.ParametersCreated, sum.ParametersUpdated)
			return nil
		},
	}
	importCmd.Flags().String("file", "", "Path to the catalog YAML file")
	cmd.AddCommand(importCmd)

	return cmd
}

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate reports",
	}

	exportCmd := &cobra.Command{
		Use:       "export <samples|tests|inventory|instruments>",
		Short:     "Write a report as CSV to stdout",
		Args:      cobra.ExactArgs(1),
		ValidArgs: reporting.ExportKinds,
		RunE: func(cmd *cobra.Command, args []string) error {
			archive, _ := cmd.Flags().GetBool("archive")
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()
			files, err := newBlobStore(ctx, cfg)
			if err != nil {
				return err
			}

			svc := newServices(pool, cfg, files, nil, logger).reporting
			return runReportExport(ctx, svc, args[0], archive, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	exportCmd.Flags().Bool("archive", false, "Also store the CSV in the configured blob store")
	cmd.AddCommand(exportCmd)

	return cmd
}

type reportExporter interface {
	ExportCSV(ctx context.Context, kind string, f reporting.ExportFilter, archive bool) ([]byte, *blobstore.Object, error)
}

// runReportExport writes the CSV to stdout and the archive key, if any, to stderr.
func runReportExport(ctx context.Context, svc reportExporter, kind string, archive bool, stdout, stderr io.Writer) error {
	data, obj, err := svc.ExportCSV(ctx, kind, reporting.ExportFilter{}, archive)
	if err != nil {
		return err
	}
	if _, err := stdout.Write(data); err != nil {
		return err
	}
	if obj != nil {
		fmt.Fprintf(stderr, "archived as %s\n", obj.Key)
	}
	return nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, newLogger(nil), err
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, logger, err
	}
	return cfg, logger, nil
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, db.PoolConfig{
		URL:         cfg.DatabaseURL,
		MaxConns:    cfg.DBMaxConns,
		MinConns:    cfg.DBMinConns,
		ConnTimeout: 10 * time.Second,
	})
}

func newBlobStore(ctx context.Context, cfg *config.Config) (blobstore.Store, error) {
	if cfg.BlobDriver == config.BlobDriverS3 {
		return blobstore.NewS3Store(ctx, blobstore.S3Config{
			Bucket:    cfg.BlobS3Bucket,
			Region:    cfg.BlobS3Region,
			Endpoint:  cfg.BlobS3Endpoint,
			PathStyle: cfg.BlobS3PathStyle,
		})
	}
	return blobstore.NewMemoryStore(), nil
}

func jwtConfig(cfg *config.Config) auth.JWTConfig {
	jc := auth.JWTConfig{
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
		JWKSURL:  cfg.AuthJWKSURL,
	}
	if cfg.AuthSigningKey != "" {
		jc.SigningKey = []byte(cfg.AuthSigningKey)
	}
	return jc
}

type services struct {
	people     personnel.PersonRepository
	personnel  *personnel.Service
	catalog    *catalog.Service
	samples    *sample.Service
	assignment *assignment.Service
	results    *result.Service
	inventory  *inventory.Service
	instrument *instrument.Service
	audit      *audit.Service
	reporting  *reporting.Service
}

func newServices(pool *pgxpool.Pool, cfg *config.Config, files blobstore.Store, m *metrics.Metrics, logger zerolog.Logger) *services {
	tx := db.NewTxRunner(pool)
	s := &services{people: personnel.NewPersonRepoPG(pool)}

	s.personnel = personnel.NewService(personnel.NewLabRepoPG(pool), s.people)
	s.catalog = catalog.NewService(catalog.NewTestRepoPG(pool), tx, logger)
	s.samples = sample.NewService(sample.NewSampleRepoPG(pool), m, logger, cfg.SampleIDMaxRetries)
	s.assignment = assignment.NewService(assignment.NewRepoPG(pool), s.samples, s.catalog, tx, m, logger)
	s.results = result.NewService(result.NewRepoPG(pool), s.assignment, s.catalog, files, tx, m, logger)
	s.inventory = inventory.NewService(inventory.Repos{
		Reagents:     inventory.NewReagentRepoPG(pool),
		StockItems:   inventory.NewStockItemRepoPG(pool),
		Transactions: inventory.NewTransactionRepoPG(pool),
		CostCenters:  inventory.NewCostCenterRepoPG(pool),
		Usages:       inventory.NewUsageRepoPG(pool),
	}, s.assignment, tx, inventory.Config{
		NegativeStockPolicy: cfg.NegativeStockPolicy,
		ExpiryWarningDays:   cfg.ExpiryWarningDays,
	}, m, logger)
	s.instrument = instrument.NewService(instrument.NewRepoPG(pool), tx, logger)
	s.audit = audit.NewService(audit.NewRepoPG(pool), logger)
	s.reporting = reporting.NewService(reporting.NewRepoPG(pool), reporting.Deps{
		Tests:     s.catalog,
		Inventory: s.inventory,
		People:    s.personnel,
		Activity:  s.audit,
	}, files, m, logger)
	return s
}

type routeRegistrar interface {
	RegisterRoutes(api *echo.Group)
}

func (s *services) handlers() []routeRegistrar {
	return []routeRegistrar{
		personnel.NewHandler(s.personnel),
		catalog.NewHandler(s.catalog),
		sample.NewHandler(s.samples),
		assignment.NewHandler(s.assignment),
		result.NewHandler(s.results),
		inventory.NewHandler(s.inventory),
		instrument.NewHandler(s.instrument),
		audit.NewHandler(s.audit),
		reporting.NewHandler(s.reporting),
	}
}

// newServer assembles the echo instance. Routes under /api/v1 pass through
// authentication, actor resolution and auditing; /health and /metrics do not
// require a token.
func newServer(cfg *config.Config, svcs *services, m *metrics.Metrics, health db.HealthSource, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	if m != nil {
		e.Use(m.Middleware())
	}
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders:  []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposeHeaders: []string{echo.HeaderContentDisposition, "X-Archive-Key"},
	}))
	e.Use(echomw.BodyLimit("10M"))
	e.Use(echomw.Secure())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	if health != nil {
		e.GET("/health/db", db.HealthHandler(health, version))
	}
	if m != nil {
		e.GET("/metrics", m.Handler())
	}

	authMW := auth.JWTMiddleware(jwtConfig(cfg))
	if cfg.IsDev() {
		authMW = auth.DevAuthMiddleware(jwtConfig(cfg))
	}
	api := e.Group("/api/v1",
		authMW,
		personnel.ActorMiddleware(svcs.people, logger),
		middleware.Audit(logger, svcs.audit),
	)
	for _, h := range svcs.handlers() {
		h.RegisterRoutes(api)
	}
	return e
}

func runServer() error {
	cfg, logger, err := loadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	ctx := context.Background()
	pool, err := openPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
		m.RegisterPool(func() metrics.PoolStats { return pool.Stat() })
	}

	files, err := newBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open blob store")
	}
	logger.Info().Str("driver", files.Driver()).Msg("blob store ready")

	e := newServer(cfg, newServices(pool, cfg, files, m, logger), m, pool, logger)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
