package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// NewLoginCmd creates the login command
func NewLoginCmd(g *Globals) *cobra.Command {
	var apiKey string
	var forget bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save a Kamiwaza API key for the configured platform",
		Long: `Store an API key in the OS keyring. The key is used by 'appgarden api'
when KAMIWAZA_API_KEY is not set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.Config()
			if err != nil {
				return err
			}

			apiURL := cfg.Kamiwaza.EffectiveAPIURL()
			if apiURL == "" {
				return fmt.Errorf("KAMIWAZA_API_URL is not set")
			}

			out := cmd.OutOrStdout()

			if forget {
				if err := g.store().DeleteKey(apiURL); err != nil {
					return err
				}
				fmt.Fprintf(out, "✓ Removed API key for %s\n", apiURL)
				return nil
			}

			// Prompt for the key if not provided via flag
			if apiKey == "" {
				f, ok := cmd.InOrStdin().(*os.File)
				if !ok || !term.IsTerminal(int(f.Fd())) {
					return fmt.Errorf("API key is required in non-interactive mode (use --api-key flag)")
				}

				fmt.Fprint(out, "API key: ")
				raw, err := term.ReadPassword(int(f.Fd()))
				if err != nil {
					return fmt.Errorf("failed to read API key: %w", err)
				}
				apiKey = string(raw)
				fmt.Fprintln(out) // New line after masked input
			}

			apiKey = strings.TrimSpace(apiKey)
			if apiKey == "" {
				return fmt.Errorf("API key must not be empty")
			}

			if err := g.store().SaveKey(apiURL, apiKey); err != nil {
				return err
			}

			fmt.Fprintf(out, "✓ API key saved for %s\n", apiURL)
			return nil
		},
	}

	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key (will prompt if not provided)")
	cmd.Flags().BoolVar(&forget, "forget", false, "Remove the saved API key instead")

	return cmd
}
