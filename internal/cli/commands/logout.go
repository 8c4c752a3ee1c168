package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// NewLogoutCmd creates the logout command
func NewLogoutCmd(g *Globals) *cobra.Command {
	var redirectURI string

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "End the platform session",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := g.SessionClient()
			if err != nil {
				return err
			}

			manager := g.NewManager(client)
			defer manager.Close()

			resp := manager.Logout(cmd.Context(), redirectURI)

			out := cmd.OutOrStdout()
			if resp.Success {
				fmt.Fprintf(out, "%s %s\n", color.GreenString("✓"), resp.Message)
			} else {
				fmt.Fprintf(out, "%s %s\n", color.YellowString("!"), resp.Message)
			}
			if resp.RedirectURL != "" {
				fmt.Fprintf(out, "  Redirect: %s\n", resp.RedirectURL)
			}
			if resp.FrontChannelLogoutURL != "" {
				fmt.Fprintf(out, "  Front-channel logout: %s\n", resp.FrontChannelLogoutURL)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&redirectURI, "redirect-uri", "", "Where the platform should send the browser after logout")

	return cmd
}
