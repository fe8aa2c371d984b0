package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/lmittmann/tint"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"gorm.io/gorm"

	"github.com/totegamma/agrichain/internal/config"
	"github.com/totegamma/agrichain/internal/daemon"
	"github.com/totegamma/agrichain/internal/domain"
	"github.com/totegamma/agrichain/internal/infra/database"
	"github.com/totegamma/agrichain/internal/infra/ledger"
	"github.com/totegamma/agrichain/internal/infra/repository"
	"github.com/totegamma/agrichain/internal/present/rest"
	"github.com/totegamma/agrichain/internal/service"
	"github.com/totegamma/agrichain/internal/usecase"
)

const serviceName = "agrichain"

var (
	version    = "dev"
	configPath string
	logLevel   string
)

func main() {
	root := &cobra.Command{
		Use:           serviceName,
		Short:         "Agricultural supply chain traceability backend",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			initLogger(logLevel)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the yaml config file")
	root.PersistentFlags().StringVar(&logLevel, "logLevel", "info", "debug, info, warn or error")

	root.AddCommand(serveCmd(), migrateCmd(), createAdminCmd(), seedLocationsCmd(), reconcileCmd())

	if err := root.ExecuteContext(context.Background()); err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}

func initLogger(level string) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      l,
			AddSource:  l == slog.LevelDebug,
			TimeFormat: time.Kitchen,
		}),
	))
}

func loadConfig() (config.Config, error) {
	conf, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if err := conf.Validate(); err != nil {
		return config.Config{}, err
	}
	return conf, nil
}

func openDB(conf config.Config) (*gorm.DB, error) {
	db, err := database.NewPostgres(conf.Server.PostgresDsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect database")
	}
	if err := database.MigratePostgres(db); err != nil {
		return nil, errors.Wrap(err, "failed to migrate database")
	}
	return db, nil
}

func setupTraceProvider(ctx context.Context, endpoint string) (func(context.Context) error, error) {
	exporter, err := otlptracehttp.New(
		ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", serviceName),
		attribute.String("service.version", version),
	)

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(1.0))),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return provider.Shutdown, nil
}

type app struct {
	db       *gorm.DB
	rdb      *redis.Client
	ledger   *ledger.Client
	mirror   *usecase.MirrorUsecase
	identity *usecase.IdentityUsecase
	users    *usecase.UserUsecase
	products *usecase.ProductUsecase
	steps    *usecase.StepUsecase
	certs    *usecase.CertificateUsecase
	signal   *service.SignalService
	qr       *service.QRImageService
}

func buildApp(ctx context.Context, conf config.Config) (*app, error) {
	db, err := openDB(conf)
	if err != nil {
		return nil, err
	}

	rdb, err := database.NewRedis(ctx, conf.Server.RedisAddr, conf.Server.RedisPassword, conf.Server.RedisDB)
	if err != nil {
		return nil, err
	}
	mc := database.NewMemcached(conf.Server.MemcachedAddr)

	ledgerClient, err := ledger.NewClient(ctx, conf.Ledger)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect ledger")
	}

	productRepo := repository.NewProductRepository(db)
	stepRepo := repository.NewStepRepository(db)
	certRepo := repository.NewCertificateRepository(db)
	locationRepo := repository.NewLocationRepository(db)
	userRepo := repository.NewUserRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)

	sessions := service.NewSessionStore(rdb, conf.Server.SessionTTL)
	signalService := service.NewSignalService(rdb)
	qrService := service.NewQRImageService(mc)

	mirror := usecase.NewMirrorUsecase(ledgerClient, outboxRepo, stepRepo, conf.Ledger.MaxAttempts, 2*conf.Ledger.ConfirmTimeout)
	products := usecase.NewProductUsecase(
		productRepo,
		certRepo,
		stepRepo,
		locationRepo,
		userRepo,
		mirror,
		signalService,
		conf.Ledger.ContractAddress,
	)

	return &app{
		db:       db,
		rdb:      rdb,
		ledger:   ledgerClient,
		mirror:   mirror,
		identity: usecase.NewIdentityUsecase(userRepo, sessions),
		users:    usecase.NewUserUsecase(userRepo, locationRepo),
		products: products,
		steps:    usecase.NewStepUsecase(products, stepRepo, locationRepo, mirror, signalService),
		certs:    usecase.NewCertificateUsecase(certRepo, productRepo, stepRepo),
		signal:   signalService,
		qr:       qrService,
	}, nil
}

func (a *app) Close() {
	a.ledger.Close()
	if err := a.rdb.Close(); err != nil {
		slog.Warn("failed to close redis", "err", err)
	}
	if err := database.ClosePostgres(a.db); err != nil {
		slog.Warn("failed to close database", "err", err)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the ledger outbox reconciler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			conf, err := loadConfig()
			if err != nil {
				return err
			}

			if conf.Server.EnableTrace {
				shutdown, err := setupTraceProvider(ctx, conf.Server.TraceEndpoint)
				if err != nil {
					return errors.Wrap(err, "failed to setup trace provider")
				}
				defer func() {
					if err := shutdown(context.Background()); err != nil {
						slog.Error("failed to shutdown trace provider", "err", err)
					}
				}()
			}

			a, err := buildApp(ctx, conf)
			if err != nil {
				return err
			}
			defer a.Close()

			e := echo.New()
			e.HideBanner = true
			if conf.Server.EnableTrace {
				e.Use(otelecho.Middleware(serviceName, otelecho.WithSkipper(func(c echo.Context) bool {
					return c.Path() == "/metrics" || c.Path() == "/api/health"
				})))
			}
			e.Use(middleware.Logger())
			e.Use(middleware.Recover())
			e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
				AllowOrigins:     []string{conf.Server.CorsOrigin},
				AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
				AllowCredentials: true,
			}))

			handler := rest.NewHandler(
				conf.Server,
				a.identity,
				a.users,
				a.products,
				a.steps,
				a.certs,
				a.qr,
				a.signal,
			)
			handler.RegisterRoutes(e)
			e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

			reconcilerDone := daemon.NewReconciler(a.mirror, conf.Ledger.ReconcileInterval).Start(ctx)

			go func() {
				slog.Info("listening", "addr", conf.Server.ListenAddr, "version", version)
				if err := e.Start(conf.Server.ListenAddr); err != nil && err != http.ErrServerClosed {
					slog.Error("server stopped", "err", err)
					stop()
				}
			}()

			<-ctx.Done()
			slog.Info("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			err = e.Shutdown(shutdownCtx)

			// a.Close must not run under a pass that still holds the database
			<-reconcilerDone
			return err
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openDB(conf)
			if err != nil {
				return err
			}
			slog.Info("migration complete")
			return database.ClosePostgres(db)
		},
	}
}

func createAdminCmd() *cobra.Command {
	var username, password, name string

	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Provision an administrator account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" || len(password) < 6 {
				return fmt.Errorf("--username and a --password of at least 6 characters are required")
			}

			conf, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openDB(conf)
			if err != nil {
				return err
			}
			defer database.ClosePostgres(db)

			hash, err := usecase.HashPassword(password)
			if err != nil {
				return err
			}
			if name == "" {
				name = username
			}

			users := repository.NewUserRepository(db)
			err = users.Create(cmd.Context(), domain.User{
				Username: username,
				Name:     name,
				Role:     domain.RoleAdmin,
			}, hash)
			if err != nil {
				return err
			}

			slog.Info("admin created", "username", username)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "login name")
	cmd.Flags().StringVar(&password, "password", "", "login password")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	return cmd
}

func seedLocationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed-locations <file.yaml>",
		Short: "Insert or update locations from a YAML list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seeds, err := config.LoadLocations(args[0])
			if err != nil {
				return err
			}

			conf, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openDB(conf)
			if err != nil {
				return err
			}
			defer database.ClosePostgres(db)

			locations := make([]domain.Location, 0, len(seeds))
			for _, l := range seeds {
				locations = append(locations, domain.Location{
					ID:        l.ID,
					Name:      l.Name,
					Latitude:  l.Latitude,
					Longitude: l.Longitude,
					Address:   l.Address,
				})
			}

			n, err := usecase.NewLocationUsecase(repository.NewLocationRepository(db)).Seed(cmd.Context(), locations)
			if err != nil {
				return err
			}
			slog.Info("locations seeded", "count", n)
			return nil
		},
	}
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Forward pending ledger outbox entries once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), conf)
			if err != nil {
				return err
			}
			defer a.Close()

			confirmed := daemon.NewReconciler(a.mirror, conf.Ledger.ReconcileInterval).RunOnce(cmd.Context())
			slog.Info("reconcile complete", "confirmed", confirmed)
			return nil
		},
	}
}
