package cmd

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/telekom/cli-auth-broker/pkg/authctl/client"
	"github.com/telekom/cli-auth-broker/pkg/authctl/output"
	"github.com/telekom/cli-auth-broker/pkg/authctl/tokenstore"
	"github.com/telekom/cli-auth-broker/pkg/version"
)

type loginOptions struct {
	noBrowser    bool
	pollInterval time.Duration
	timeout      time.Duration
	deviceName   string
}

func NewLoginCommand() *cobra.Command {
	opts := &loginOptions{}

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in through the browser and print temporary credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			return runLogin(cmd.Context(), rt, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.noBrowser, "no-browser", false, "Print the login URL instead of opening a browser")
	cmd.Flags().DurationVar(&opts.pollInterval, "poll-interval", client.DefaultPollInterval, "Interval between status polls")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 5*time.Minute, "Give up waiting for the browser login after this long")
	cmd.Flags().StringVar(&opts.deviceName, "device-name", "", "Device name reported to the broker (default: hostname)")

	return cmd
}

func runLogin(ctx context.Context, rt *runtimeState, opts *loginOptions) error {
	format, err := rt.OutputFormat()
	if err != nil {
		return err
	}
	store, err := rt.Store()
	if err != nil {
		return err
	}
	c, err := rt.Client()
	if err != nil {
		return err
	}

	deviceName := opts.deviceName
	if deviceName == "" && rt.hostname != nil {
		deviceName, _ = rt.hostname()
	}

	started, err := c.Start(ctx, client.DeviceInfo{
		DeviceName: deviceName,
		OS:         runtime.GOOS,
		CLIVersion: version.Version,
	})
	if err != nil {
		return fmt.Errorf("failed to start login: %w", err)
	}
	state, err := started.State()
	if err != nil {
		return err
	}

	errw := rt.ErrWriter()
	if opts.noBrowser {
		_, _ = fmt.Fprintf(errw, "Open the following URL in your browser to sign in:\n\n  %s\n\n", started.AuthURL)
	} else {
		_, _ = fmt.Fprintf(errw, "Opening browser to sign in. If it does not open, visit:\n\n  %s\n\n", started.AuthURL)
		if err := rt.openBrowser(started.AuthURL); err != nil {
			_, _ = fmt.Fprintf(errw, "warning: could not open browser: %v\n", err)
		}
	}
	_, _ = fmt.Fprintln(errw, "Waiting for authentication...")

	waitCtx := ctx
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	resp, err := c.WaitForAuthorization(waitCtx, state, opts.pollInterval)
	if err != nil {
		if waitCtx.Err() != nil && ctx.Err() == nil {
			return fmt.Errorf("login timed out after %s", opts.timeout)
		}
		return err
	}

	if resp.RefreshToken != "" {
		token := tokenstore.Token{RefreshToken: resp.RefreshToken, Server: rt.server, SavedAt: time.Now().UTC()}
		if err := store.Save(rt.ProfileName(), token); err != nil {
			_, _ = fmt.Fprintf(errw, "warning: could not save refresh token: %v\n", err)
		}
	}

	_, _ = fmt.Fprintln(errw, "Authenticated.")
	return output.WriteCredentials(rt.Writer(), format, credentialsFrom(resp))
}

func credentialsFrom(resp *client.StatusResponse) output.Credentials {
	return output.Credentials{
		AccessKeyID:     resp.AccessKeyID,
		SecretAccessKey: resp.SecretAccessKey,
		SessionToken:    resp.SessionToken,
		ExpiresAt:       resp.ExpiresAt,
	}
}
