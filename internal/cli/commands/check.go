package commands

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kamiwaza-ai/appgarden/internal/guard"
)

// NewCheckCmd creates the check command
func NewCheckCmd(g *Globals) *cobra.Command {
	var public []string

	cmd := &cobra.Command{
		Use:   "check <path>",
		Short: "Show what the route guard does for a path",
		Long: `Load the live session and print the route guard decision for a UI path:
render, loading, or redirect with the login URL.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.Config()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("public") {
				public = cfg.Auth.PublicRoutes
			}

			client, err := g.SessionClient()
			if err != nil {
				return err
			}

			target, err := url.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid path %q: %w", args[0], err)
			}
			if !strings.HasPrefix(target.Path, "/") {
				target.Path = "/" + target.Path
			}

			routeGuard := guard.New(client.BasePath(), public)

			// Public routes never need the session
			if routeGuard.IsPublic(target.Path) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", color.GreenString(string(guard.ActionRender)), guard.ReasonPublicRoute)
				return nil
			}

			manager := g.NewManager(client)
			defer manager.Close()

			state := manager.Init(cmd.Context())
			decision := routeGuard.Decide(target.Path, state)

			out := cmd.OutOrStdout()
			switch decision.Action {
			case guard.ActionRender:
				fmt.Fprintf(out, "%s (%s)\n", color.GreenString(string(decision.Action)), decision.Reason)
			case guard.ActionLoading:
				fmt.Fprintf(out, "%s (%s)\n", color.YellowString(string(decision.Action)), decision.Reason)
			default:
				app, err := url.Parse(client.AppURL())
				if err != nil {
					return err
				}
				current := &url.URL{Scheme: app.Scheme, Host: app.Host, Path: target.Path, RawQuery: target.RawQuery}

				loginURL, err := manager.LoginURL(cmd.Context(), routeGuard.ReturnURLFor(current))
				if err != nil {
					return fmt.Errorf("route requires login but the login URL is unavailable: %w", err)
				}
				fmt.Fprintf(out, "%s %s (%s)\n", color.RedString(string(decision.Action)), loginURL, decision.Reason)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&public, "public", nil, "Public route prefix, relative to the base path (repeatable; defaults to PUBLIC_ROUTES)")

	return cmd
}
