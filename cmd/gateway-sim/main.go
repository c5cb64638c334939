package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/tablestakes/game-session/internal/gatewaysim"
)

var rootCmd = &cobra.Command{
	Use:   "gateway-sim",
	Short: "Local game gateway for development",
	Long: `gateway-sim serves the game gateway protocol on /ws for running the
session client locally with --dev. POST /admin/drop severs every connection
and POST /admin/balance {"value":N} pushes a new balance.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	defaults := gatewaysim.DefaultConfig()

	rootCmd.Flags().String("addr", "127.0.0.1:9000", "listen address")
	rootCmd.Flags().Uint64("balance", defaults.StartBalance, "starting balance")
	rootCmd.Flags().Float64("win-chance", defaults.WinChance, "probability a bet wins")
	rootCmd.Flags().Uint64("payout-ratio", defaults.PayoutRatio, "payout multiple on a win")
	rootCmd.Flags().Duration("delay", defaults.ResultDelay, "delay before a bet settles")
	rootCmd.Flags().Int64("seed", defaults.Seed, "random seed")
	rootCmd.Flags().Bool("debug", false, "log every frame")

	viper.BindPFlag("addr", rootCmd.Flags().Lookup("addr"))
	viper.BindPFlag("start_balance", rootCmd.Flags().Lookup("balance"))
	viper.BindPFlag("win_chance", rootCmd.Flags().Lookup("win-chance"))
	viper.BindPFlag("payout_ratio", rootCmd.Flags().Lookup("payout-ratio"))
	viper.BindPFlag("result_delay", rootCmd.Flags().Lookup("delay"))
	viper.BindPFlag("seed", rootCmd.Flags().Lookup("seed"))
	viper.BindPFlag("debug", rootCmd.Flags().Lookup("debug"))

	viper.SetEnvPrefix("GATEWAY_SIM")
	viper.AutomaticEnv()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	var config gatewaysim.Config
	if err := viper.Unmarshal(&config); err != nil {
		return fmt.Errorf("failed to read flags: %w", err)
	}

	logger, err := zap.NewProduction()
	if viper.GetBool("debug") {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()

	gateway, err := gatewaysim.New(config, logger)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         viper.GetString("addr"),
		Handler:      gateway.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("Gateway simulator listening",
			zap.String("addr", server.Addr),
			zap.String("public_key", gateway.PublicKey()),
			zap.Uint64("balance", config.StartBalance))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Gateway simulator failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()

	gateway.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
