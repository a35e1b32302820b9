package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ardanlabs/conf/v3"
	"github.com/irsalhamdi/storefront/api"
	"github.com/irsalhamdi/storefront/config"
	"github.com/irsalhamdi/storefront/core/auth"
	"github.com/irsalhamdi/storefront/core/cart"
	"github.com/irsalhamdi/storefront/core/order"
	"github.com/irsalhamdi/storefront/core/product"
	"github.com/irsalhamdi/storefront/database"
	"github.com/irsalhamdi/storefront/rate"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

var build = "develop"

func main() {
	log := logrus.New()
	log.SetOutput(os.Stdout)

	if err := Run(log); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func Run(logger *logrus.Logger) error {
	// A missing .env is fine, the environment may already be set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	const prefix = "STOREFRONT"
	cfg := config.Config{
		Version: conf.Version{
			Build: build,
			Desc:  "storefront order service",
		},
	}
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	if err := setupLogger(logger, cfg.Log); err != nil {
		return err
	}

	logger.Infof("starting server, build %s", build)
	defer logger.Info("shutdown complete")

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	logger.Infof("startup config:\n%s", out)

	lw := logger.Writer()
	defer lw.Close()
	errLog := log.New(lw, "", 0)

	if err := database.Migrate(cfg.DB); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	db, err := database.Open(cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to open db connection: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Auth.DiscoveryTimeout)
	defer cancel()
	verifier, err := auth.NewOIDCVerifier(ctx, cfg.Auth.Issuer, cfg.Auth.ClientID)
	if err != nil {
		return fmt.Errorf("failed to discover the identity provider: %w", err)
	}

	engine := order.NewEngine(
		logger.WithField("component", "orders"),
		db,
		cart.Repository{},
		product.StockStore{AllowNegative: cfg.Orders.AllowNegativeStock},
	)

	bg, stopBg := context.WithCancel(context.Background())
	defer stopBg()
	limiter := rate.NewLimiter(cfg.Rate.CheckoutBurst, cfg.Rate.CheckoutInterval, cfg.Rate.Expiry)
	go limiter.Run(bg)

	mux := api.APIMux(api.APIConfig{
		CorsOrigin:      cfg.Cors.Origin,
		Log:             logger,
		DB:              db,
		Verifier:        verifier,
		Orders:          engine,
		CheckoutLimiter: limiter,
	})

	api := http.Server{
		Handler:      mux,
		Addr:         cfg.Web.Address,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     errLog,
	}

	serverErrors := make(chan error, 1)

	go func() {
		logger.Infof("starting api router at %s", api.Addr)
		serverErrors <- api.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		logger.Infof("shutting down: signal %s", sig)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := api.Shutdown(ctx); err != nil {
			api.Close()
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
	}
	return nil
}

func setupLogger(logger *logrus.Logger, cfg config.Log) error {
	lvl, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}
	logger.SetLevel(lvl)

	switch cfg.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return nil
}
