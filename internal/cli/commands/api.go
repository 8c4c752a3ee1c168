package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kamiwaza-ai/appgarden/internal/apiclient"
	"github.com/kamiwaza-ai/appgarden/internal/authenticator"
)

var apiMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true, "DELETE": true,
}

// NewAPICmd creates the api command
func NewAPICmd(g *Globals) *cobra.Command {
	var data string

	cmd := &cobra.Command{
		Use:   "api <METHOD> <path>",
		Short: "Call the Kamiwaza platform API",
		Long: `Send a request to the platform API configured by KAMIWAZA_API_URL.

Credentials are picked in order: KAMIWAZA_API_KEY, a key saved with
'appgarden login', OAuth client credentials, and finally none. A 401 triggers
one token refresh and a single retry.`,
		Example: `  appgarden api GET models
  appgarden api POST serving/deploy --data '{"model_id":"abc"}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			method := strings.ToUpper(args[0])
			if !apiMethods[method] {
				return fmt.Errorf("unsupported method %q", args[0])
			}

			cfg, err := g.Config()
			if err != nil {
				return err
			}

			httpClient := apiclient.HTTPClient(cfg.Kamiwaza.TLSVerifyEnabled())
			auth, strategy := authenticator.FromConfig(cfg.Kamiwaza, g.store(), httpClient)

			log := g.Logger()
			log.Debug().Str("strategy", strategy).Msg("Selected authenticator")

			client, err := apiclient.NewFromConfig(cfg.Kamiwaza, auth, log)
			if err != nil {
				return err
			}

			req := apiclient.Request{Method: method, Path: args[1]}
			if data != "" {
				if !json.Valid([]byte(data)) {
					return fmt.Errorf("--data is not valid JSON")
				}
				req.Body = json.RawMessage(data)
			}

			resp, err := client.Do(cmd.Context(), req)
			if err != nil {
				var apiErr *apiclient.APIError
				if errors.As(err, &apiErr) && apiErr.Body != "" {
					fmt.Fprintln(cmd.ErrOrStderr(), apiErr.Body)
				}
				return err
			}

			return printResponse(cmd, resp)
		},
	}

	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON request body")

	return cmd
}

func printResponse(cmd *cobra.Command, resp *apiclient.Response) error {
	value, err := resp.Value()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch v := value.(type) {
	case nil:
		fmt.Fprintf(out, "%d\n", resp.StatusCode)
	case string:
		fmt.Fprintln(out, v)
	default:
		pretty, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to format response: %w", err)
		}
		fmt.Fprintln(out, string(pretty))
	}
	return nil
}
