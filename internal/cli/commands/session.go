package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kamiwaza-ai/appgarden/internal/session"
)

// Output formats
const (
	OutputText = "text"
	OutputJSON = "json"
	OutputYAML = "yaml"
)

// sessionView is the printable form of a session
type sessionView struct {
	UserID           string   `json:"user_id"                      yaml:"user_id"`
	Email            string   `json:"email"                        yaml:"email"`
	Name             string   `json:"name,omitempty"               yaml:"name,omitempty"`
	Roles            []string `json:"roles"                        yaml:"roles"`
	RequestID        string   `json:"request_id,omitempty"         yaml:"request_id,omitempty"`
	AuthEnabled      bool     `json:"auth_enabled"                 yaml:"auth_enabled"`
	SessionExpiresAt *int64   `json:"session_expires_at,omitempty" yaml:"session_expires_at,omitempty"`
	SecondsRemaining *int64   `json:"seconds_remaining,omitempty"  yaml:"seconds_remaining,omitempty"`
}

// NewSessionCmd creates the session command
func NewSessionCmd(g *Globals) *cobra.Command {
	var watch bool
	var output string

	cmd := &cobra.Command{
		Use:   "session",
		Short: "Show the current session",
		Long: `Fetch the session of the configured app and print the signed-in user.

With --watch the command keeps running and prints the time left until the
platform session ends.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch output {
			case OutputText, OutputJSON, OutputYAML:
			default:
				return fmt.Errorf("unsupported output %q (use text, json or yaml)", output)
			}
			return runSession(cmd.Context(), cmd.OutOrStdout(), g, watch, output)
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep printing the session countdown")
	cmd.Flags().StringVarP(&output, "output", "o", OutputText, "Output format: text, json or yaml")

	return cmd
}

func runSession(ctx context.Context, out io.Writer, g *Globals, watch bool, output string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	client, err := g.SessionClient()
	if err != nil {
		return err
	}

	ticks := make(chan int64, 1)
	quit := make(chan struct{})

	var opts []session.Option
	if watch {
		opts = append(opts, session.WithTickHandler(func(remaining int64) {
			select {
			case ticks <- remaining:
			case <-quit:
			}
		}))
	}

	manager := g.NewManager(client, opts...)
	defer func() {
		close(quit)
		manager.Close()
	}()

	state := manager.Init(ctx)
	if state.Status == session.StatusError {
		if state.SessionExpired() {
			return fmt.Errorf("%w: sign in again through %s", state.Err, client.AppURL())
		}
		return fmt.Errorf("failed to load session: %w", state.Err)
	}

	view := toView(state.Session)
	if remaining, ok := manager.SecondsRemaining(); ok {
		view.SecondsRemaining = &remaining
	}
	if err := printSession(out, view, output); err != nil {
		return err
	}

	if !watch || view.SecondsRemaining == nil {
		return nil
	}
	if *view.SecondsRemaining == 0 {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case remaining := <-ticks:
			printCountdown(out, remaining)
			if remaining == 0 {
				return nil
			}
		}
	}
}

func toView(s *session.SessionData) sessionView {
	if s == nil {
		return sessionView{Roles: []string{}}
	}
	roles := s.Roles
	if roles == nil {
		roles = []string{}
	}
	return sessionView{
		UserID:           s.UserID,
		Email:            s.Email,
		Name:             s.Name,
		Roles:            roles,
		RequestID:        s.RequestID,
		AuthEnabled:      s.AuthEnabled,
		SessionExpiresAt: s.SessionExpiresAt,
	}
}

func printSession(out io.Writer, v sessionView, output string) error {
	switch output {
	case OutputJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case OutputYAML:
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode session: %w", err)
		}
		return enc.Close()
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	user := v.Email
	if v.Name != "" {
		user = fmt.Sprintf("%s (%s)", v.Name, v.Email)
	}
	fmt.Fprintf(w, "User:\t%s\n", user)
	fmt.Fprintf(w, "User ID:\t%s\n", v.UserID)
	fmt.Fprintf(w, "Roles:\t%s\n", joinRoles(v.Roles))
	if v.AuthEnabled {
		fmt.Fprintf(w, "Auth:\t%s\n", color.GreenString("enabled"))
	} else {
		fmt.Fprintf(w, "Auth:\t%s\n", color.YellowString("disabled"))
	}
	if v.SessionExpiresAt != nil {
		expires := time.Unix(*v.SessionExpiresAt, 0).Local().Format(time.RFC3339)
		if v.SecondsRemaining != nil {
			expires += fmt.Sprintf(" (in %s)", formatRemaining(*v.SecondsRemaining))
		}
		fmt.Fprintf(w, "Expires:\t%s\n", expires)
	}
	return w.Flush()
}

func printCountdown(out io.Writer, remaining int64) {
	switch {
	case remaining == 0:
		fmt.Fprintln(out, color.RedString("Session expired"))
	case remaining <= 300:
		fmt.Fprintf(out, "Session expires in %s\n", color.YellowString(formatRemaining(remaining)))
	default:
		fmt.Fprintf(out, "Session expires in %s\n", formatRemaining(remaining))
	}
}
