package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Breadsandwich/visual-context-interface-app/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "vci-agent",
	Short: "Visual-context agent service",
	Long: `vci-agent runs the agent service behind the visual context interface:
it receives element selections exported from the browser inspector, plans
the requested code changes, and drives sandboxed agents that edit the
project's source with pre-edit snapshots for undo.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is ./vci.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("vci")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/vci")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("VCI")
	// Replace dots with underscores for nested keys in env vars
	// e.g., VCI_SERVER_PORT for server.port
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
