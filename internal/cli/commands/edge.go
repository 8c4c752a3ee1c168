package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kamiwaza-ai/appgarden/internal/edge"
)

// NewEdgeConfigCmd creates the edge-config command
func NewEdgeConfigCmd(g *Globals, run edge.CommandRunner) *cobra.Command {
	var address, gateway, output string
	var tlsInternal, reload bool

	cmd := &cobra.Command{
		Use:   "edge-config",
		Short: "Generate a Caddy edge proxy config for local development",
		Long: `Render a Caddyfile that forward-authenticates requests against the platform
validate endpoint and relays the X-User-* identity headers to the gateway,
as the platform edge proxy does in production.

Without --output the Caddyfile is printed. With --output it is validated with
'caddy validate' and written atomically; --reload also reloads Caddy.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.Config()
			if err != nil {
				return err
			}

			if cfg.Kamiwaza.EffectiveAPIURL() == "" && cfg.Kamiwaza.ValidateURL == "" {
				return fmt.Errorf("KAMIWAZA_API_URL or AUTH_VALIDATE_URL is required")
			}
			if gateway == "" {
				gateway = gatewayUpstream(cfg.HTTP.Addr)
			}

			edgeCfg := edge.Config{
				Address:      address,
				TLSInternal:  tlsInternal,
				Gateway:      gateway,
				ValidateURL:  cfg.Kamiwaza.EffectiveValidateURL(),
				BasePath:     cfg.BasePath,
				PublicRoutes: cfg.Auth.PublicRoutes,
			}

			svc, err := edge.NewService(g.Logger(), run)
			if err != nil {
				return err
			}

			if output == "" {
				return svc.Render(cmd.OutOrStdout(), edgeCfg)
			}

			if err := svc.Install(cmd.Context(), edgeCfg, output, reload); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVar(&address, "address", "localhost:8443", "Site address Caddy listens on")
	cmd.Flags().BoolVar(&tlsInternal, "tls-internal", true, "Serve HTTPS with Caddy's internal CA")
	cmd.Flags().StringVar(&gateway, "gateway", "", "Gateway upstream (defaults to HTTP_ADDR on localhost)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the Caddyfile here instead of printing it (e.g. "+edge.DefaultCaddyfilePath+")")
	cmd.Flags().BoolVar(&reload, "reload", false, "Reload Caddy after writing --output")

	return cmd
}

// gatewayUpstream turns a listen address such as ":3000" into a dialable upstream
func gatewayUpstream(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}
