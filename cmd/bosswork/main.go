package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/outwareai/boss-workflow/internal/profile"
	"github.com/outwareai/boss-workflow/plugin/ai"
	"github.com/outwareai/boss-workflow/plugin/planning"
	"github.com/outwareai/boss-workflow/plugin/session"
	"github.com/outwareai/boss-workflow/server"
	"github.com/outwareai/boss-workflow/store"
	"github.com/outwareai/boss-workflow/store/db"
)

var rootCmd = &cobra.Command{
	Use:   "bosswork",
	Short: "Workflow coordination service: sessions, timeouts, and planning",
	RunE: func(_ *cobra.Command, _ []string) error {
		serviceProfile := &profile.Profile{
			Mode:    viper.GetString("mode"),
			Addr:    viper.GetString("addr"),
			Port:    viper.GetInt("port"),
			Data:    viper.GetString("data"),
			Driver:  viper.GetString("driver"),
			DSN:     viper.GetString("dsn"),
			Version: version,
		}
		serviceProfile.FromEnv()
		if err := serviceProfile.Validate(); err != nil {
			return err
		}
		return run(serviceProfile)
	},
}

const version = "0.1.0"

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("addr", "")
	viper.SetDefault("port", 8081)
	viper.SetDefault("data", "")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("dsn", "")

	rootCmd.PersistentFlags().String("mode", "dev", `mode of the service, can be "prod" or "dev"`)
	rootCmd.PersistentFlags().String("addr", "", "binding address for the admin server")
	rootCmd.PersistentFlags().Int("port", 8081, "binding port for the admin server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", `database driver, can be "sqlite" or "postgres"`)
	rootCmd.PersistentFlags().String("dsn", "", "database connection string")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		panic(err)
	}
	viper.SetEnvPrefix("bosswork")
	viper.AutomaticEnv()
}

func run(serviceProfile *profile.Profile) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbDriver, err := db.NewDBDriver(serviceProfile)
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}
	storeInstance := store.New(dbDriver, serviceProfile)
	defer storeInstance.Close()

	if err := storeInstance.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	sessionConfig := session.ServiceConfig{
		BackendTimeout: serviceProfile.BackendTimeout,
	}
	if serviceProfile.IsRedisEnabled() {
		sessionConfig.Redis = &session.RedisConfig{
			Addr:      serviceProfile.RedisAddr,
			Password:  serviceProfile.RedisPassword,
			DB:        serviceProfile.RedisDB,
			KeyPrefix: serviceProfile.RedisKeyPrefix,
		}
	}
	sessions := session.NewService(sessionConfig)
	defer sessions.Close()

	var generator planning.Generator = planning.DisabledGenerator{}
	if serviceProfile.IsAIEnabled() {
		generator, err = ai.NewGenerator(&ai.Config{
			BaseURL: serviceProfile.OpenAIBaseURL,
			APIKey:  serviceProfile.OpenAIAPIKey,
			Model:   serviceProfile.OpenAIModel,
		})
		if err != nil {
			return fmt.Errorf("failed to create AI generator: %w", err)
		}
	}

	machine := planning.NewMachine(sessions, storeInstance, generator, planning.LogNotifier{}, planning.MachineConfig{
		InactivityWindow: serviceProfile.PlanningTimeout,
		StaleAfter:       serviceProfile.PlanningStaleAfter,
		Retention:        serviceProfile.PlanningRetention,
	})
	defer machine.Shutdown()

	retentionJob := planning.NewRetentionJob(storeInstance, planning.RetentionConfig{
		Retention: serviceProfile.PlanningRetention,
	})

	adminServer := server.NewServer(serviceProfile, sessions, storeInstance)

	slog.Info("service started",
		"version", serviceProfile.Version,
		"mode", serviceProfile.Mode,
		"driver", serviceProfile.Driver,
		"session_backend", sessions.BackendMode())

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return adminServer.Start(groupCtx)
	})
	group.Go(func() error {
		return retentionJob.Start(groupCtx)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		slog.Info("shutting down")
		retentionJob.Stop()
		adminServer.Shutdown(context.Background())
		return nil
	})

	return group.Wait()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("service exited", "error", err)
		os.Exit(1)
	}
}
