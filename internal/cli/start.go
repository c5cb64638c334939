package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/fx"

	"github.com/tablestakes/game-session/internal/app"
)

var startCmd = &cobra.Command{
	Use:     "start",
	Aliases: []string{"run"},
	Short:   "Start the session client",
	Long: `Start the session client: connect to the game gateway, keep the balance
synchronized and serve the local control API until interrupted.`,
	RunE: runStart,
}

var startPIDFile string

func init() {
	rootCmd.AddCommand(startCmd)

	startCmd.Flags().String("gateway", "", "gateway websocket URL (overrides config)")
	startCmd.Flags().Bool("dev", false, "allow plain ws:// gateway URLs")
	startCmd.Flags().String("bind", "", "bind address for API server (overrides config)")
	startCmd.Flags().Int("port", 0, "port for API server (overrides config)")
	startCmd.Flags().Uint64("faucet", 0, "claim this many credits once connected")
	startCmd.Flags().StringVar(&startPIDFile, "pid-file", "", "write the process id to this file")

	viper.BindPFlag("gateway.url", startCmd.Flags().Lookup("gateway"))
	viper.BindPFlag("gateway.dev_mode", startCmd.Flags().Lookup("dev"))
	viper.BindPFlag("server.host", startCmd.Flags().Lookup("bind"))
	viper.BindPFlag("server.port", startCmd.Flags().Lookup("port"))
	viper.BindPFlag("session.faucet_amount", startCmd.Flags().Lookup("faucet"))
}

func runStart(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "🚀 Starting game session client...")

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	fxApp := fx.New(
		fx.Supply(cfg),
		app.Module,
	)
	if err := fxApp.Err(); err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startCtx, cancelStart := context.WithTimeout(ctx, fxApp.StartTimeout())
	defer cancelStart()
	if err := fxApp.Start(startCtx); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}

	if startPIDFile != "" {
		if err := os.WriteFile(startPIDFile, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
			fmt.Fprintf(out, "⚠️  Warning: failed to write PID file: %v\n", err)
		} else {
			defer os.Remove(startPIDFile)
		}
	}

	fmt.Fprintf(out, "✅ Session started (gateway %s, control API %s:%d)\n", cfg.Gateway.URL, cfg.Server.Host, cfg.Server.Port)

	<-ctx.Done()
	fmt.Fprintln(out, "\n🛑 Shutdown signal received, stopping...")

	stopCtx, cancelStop := context.WithTimeout(context.Background(), fxApp.StopTimeout())
	defer cancelStop()
	if err := fxApp.Stop(stopCtx); err != nil {
		fmt.Fprintf(out, "⚠️  Error during shutdown: %v\n", err)
	}

	fmt.Fprintln(out, "✅ Session client stopped")
	return nil
}
