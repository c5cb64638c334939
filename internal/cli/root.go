package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tablestakes/game-session/internal/api"
	"github.com/tablestakes/game-session/internal/config"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "session-client",
	Short: "Realtime game session client",
	Long: `session-client keeps a single connection to a realtime game gateway alive,
queues outbound frames across outages and keeps the local balance in step with
the server's sequenced updates. A local control API exposes status and accepts
bets, sends and reconnect requests.`,
	Version:       api.Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./configs/config.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false, "development logging")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("api", "", "control API base URL (default http://<server.host>:<server.port>)")

	viper.BindPFlag("logging.development", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("api_url", rootCmd.PersistentFlags().Lookup("api"))
}

// initConfig points viper at an explicit config file when one was given
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// loadConfig loads configuration through the global viper so bound flags apply
func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.LoadFile(cfgFile)
	}
	return config.Load()
}

// apiBaseURL resolves the control API address for client commands
func apiBaseURL() string {
	if u := viper.GetString("api_url"); u != "" {
		return strings.TrimRight(u, "/")
	}

	host := viper.GetString("server.host")
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	port := viper.GetInt("server.port")
	if port == 0 {
		port = 8090
	}
	return fmt.Sprintf("http://%s:%d", host, port)
}

func newAPIClient() *api.Client {
	return api.NewClient(apiBaseURL(), 5*time.Second)
}
