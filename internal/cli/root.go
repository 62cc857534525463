package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var version = "0.1.0"

// envPrefix prefixes the environment variables that override flags,
// e.g. STORELOAD_HOST or STORELOAD_SPAWN_RATE.
const envPrefix = "STORELOAD"

// NewRootCmd builds the storeload command tree. Every call returns fresh
// commands bound to their own viper instance.
func NewRootCmd() *cobra.Command {
	v := newViper()

	root := &cobra.Command{
		Use:     "storeload",
		Short:   "Load test a Shopware storefront with simulated shoppers",
		Version: version,
		Long: `Storeload simulates a product launch against a Shopware storefront:
anonymous visitors browse listings while registered customers rush to
order the advertised product.

Every flag can also be set through the environment, e.g.
STORELOAD_HOST=https://shop.example.com or STORELOAD_SPAWN_RATE=10.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// If no subcommand is provided, print help
			return cmd.Help()
		},
	}
	root.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error")

	root.AddCommand(newRunCmd(v))
	root.AddCommand(newFixturesCmd(v))
	root.AddCommand(newScriptsCmd())
	return root
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// bindFlags binds the flags of the command being executed. Binding happens
// at run time so commands sharing a flag name do not shadow each other.
func bindFlags(v *viper.Viper) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return v.BindPFlags(cmd.Flags())
	}
}

// Execute runs the root command. This is called by main.main().
func Execute() error {
	if err := NewRootCmd().Execute(); err != nil {
		if !errors.Is(err, ErrTestFailed) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		return err
	}
	return nil
}
