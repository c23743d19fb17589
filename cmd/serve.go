package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"

	"github.com/yeremiapane/restaurant-sync/config"
	"github.com/yeremiapane/restaurant-sync/kds"
	"github.com/yeremiapane/restaurant-sync/models"
	"github.com/yeremiapane/restaurant-sync/router"
	"github.com/yeremiapane/restaurant-sync/services"
	"github.com/yeremiapane/restaurant-sync/utils"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the order store and the kitchen display push hub",
	Long: `Run the HTTP store for orders, kitchen tickets and tables together with
the websocket hub that pushes every committed change to connected staff.

Optional integrations:
- redis.addr fans hub frames out to the other replicas
- amqp.url forwards pantry disbursements to the kitchen rooms`,
	RunE: runServe,
}

var (
	seedEmail    string
	seedPassword string
)

func init() {
	serveCmd.Flags().String("port", "", "listen port")
	serveCmd.Flags().String("db-driver", "", "database driver (mysql, sqlite)")
	serveCmd.Flags().String("db-dsn", "", "database DSN")
	serveCmd.Flags().StringVar(&seedEmail, "seed-manager", "", "create a manager account with this email if missing")
	serveCmd.Flags().StringVar(&seedPassword, "seed-password", "", "password for --seed-manager")
	bindFlags(serveCmd, map[string]string{
		"port":      "server.port",
		"db-driver": "db.driver",
		"db-dsn":    "db.dsn",
	})
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	utils.SetJWTSecret(cfg.JWT.Secret)
	if cfg.Server.GinMode == gin.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := config.InitDB(cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := config.AutoMigrate(db); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	utils.InfoLogger.Println("AutoMigrate completed.")

	if seedEmail != "" {
		if seedPassword == "" {
			return errors.New("--seed-password is required with --seed-manager")
		}
		user, err := config.SeedStaff(db, "Manager", seedEmail, seedPassword, models.SubRoleManager)
		if err != nil {
			return err
		}
		utils.InfoLogger.Printf("Manager account ready: %s (id=%d)", user.Email, user.ID)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := kds.NewHub(utils.InfoLogger)
	p := pool.New().WithContext(ctx).WithCancelOnError()

	if cfg.Redis.Addr != "" {
		rdb, err := kds.DialRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		backplane := kds.NewRedisBackplane(rdb, cfg.Redis.Channel)
		defer backplane.Close()
		hub.SetBackplane(backplane)
		p.Go(hub.RunBackplane)
	}

	if cfg.AMQP.URL != "" {
		consumer := services.NewInventoryConsumer(cfg.AMQP.URL, hub, utils.InfoLogger)
		if cfg.AMQP.Queue != "" {
			consumer.Queue = cfg.AMQP.Queue
		}
		p.Go(consumer.Run)
	}

	r := router.SetupRouter(db, hub, router.Options{
		RateLimit:  cfg.Server.RateLimit,
		RateBurst:  cfg.Server.RateBurst,
		CORSOrigin: cfg.Server.CORSOrigin,
	})
	if err := r.SetTrustedProxies([]string{"127.0.0.1"}); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	p.Go(func(ctx context.Context) error {
		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()
		utils.InfoLogger.WithFields(logrus.Fields{
			"port":      cfg.Server.Port,
			"driver":    cfg.DB.Driver,
			"backplane": cfg.Redis.Addr != "",
			"inventory": cfg.AMQP.URL != "",
		}).Info("Listening")

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		}
	})

	err = p.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
