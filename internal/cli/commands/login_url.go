package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewLoginURLCmd creates the login-url command
func NewLoginURLCmd(g *Globals) *cobra.Command {
	var redirectURI string

	cmd := &cobra.Command{
		Use:   "login-url",
		Short: "Print the platform login URL for a return address",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := g.SessionClient()
			if err != nil {
				return err
			}

			loginURL, err := client.LoginURL(cmd.Context(), redirectURI)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), loginURL)
			return nil
		},
	}

	cmd.Flags().StringVar(&redirectURI, "redirect-uri", "", "App URL the platform returns to after login")
	_ = cmd.MarkFlagRequired("redirect-uri")

	return cmd
}
