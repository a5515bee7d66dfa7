package main

import (
	"os"

	"backend-skatespots/internal/config"
	"backend-skatespots/internal/db"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var cfg config.Config

var (
	loadConfig   = config.Load
	connectRedis = db.ConnectRedis
)

var rootCmd = &cobra.Command{
	Use:           "spotctl",
	Short:         "Maintenance tasks for the skate spot map",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = loadConfig()
		if err := config.InitLogger(cfg); err != nil {
			return eris.Wrap(err, "init logger")
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd, importCmd, purgeMeetupsCmd, tokenCmd)
}

// redisClient connects to the configured store and verifies it answers.
func redisClient(cmd *cobra.Command) (*redis.Client, error) {
	rdb := connectRedis(cfg)
	if rdb == nil {
		return nil, eris.New("REDIS_ADDR is not set")
	}
	if err := rdb.Ping(cmd.Context()).Err(); err != nil {
		_ = rdb.Close()
		return nil, eris.Wrap(err, "ping redis")
	}
	return rdb, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		zap.L().Error("spotctl failed", zap.Error(err))
		os.Exit(1)
	}
}
