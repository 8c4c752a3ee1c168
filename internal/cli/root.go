package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kamiwaza-ai/appgarden/internal/cli/commands"
)

var version = "dev" // Will be set during build

// NewRootCmd builds the appgarden command tree around g
func NewRootCmd(g *commands.Globals) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "appgarden",
		Short: "App Garden - session and auth tooling for Kamiwaza extensions",
		Long: `App Garden CLI - inspect the session of an App Garden app and call the
Kamiwaza platform API.

The app is addressed with APPGARDEN_URL (or --url); the platform with
KAMIWAZA_API_URL. Both can be set in .env or .env.local.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&g.AppURL, "url", "", "App URL (overrides APPGARDEN_URL)")
	flags.StringVar(&g.Token, "token", "", "Bearer token for session calls (overrides APPGARDEN_TOKEN)")
	flags.StringVar(&g.BasePath, "base-path", "", "App base path for path routing (overrides NEXT_PUBLIC_APP_BASE_PATH)")
	flags.StringVar(&g.LogLevel, "log-level", "warn", "Log level for diagnostics on stderr")

	rootCmd.AddCommand(commands.NewVersionCmd(version))
	rootCmd.AddCommand(commands.NewSessionCmd(g))
	rootCmd.AddCommand(commands.NewLogoutCmd(g))
	rootCmd.AddCommand(commands.NewLoginURLCmd(g))
	rootCmd.AddCommand(commands.NewCheckCmd(g))
	rootCmd.AddCommand(commands.NewAPICmd(g))
	rootCmd.AddCommand(commands.NewLoginCmd(g))
	rootCmd.AddCommand(commands.NewEdgeConfigCmd(g, nil))

	return rootCmd
}

// Execute runs the root command
func Execute() error {
	if err := NewRootCmd(commands.NewGlobals()).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
