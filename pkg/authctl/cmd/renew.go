package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/telekom/cli-auth-broker/pkg/authctl/output"
	"github.com/telekom/cli-auth-broker/pkg/authctl/tokenstore"
)

func NewRenewCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "renew",
		Aliases: []string{"credentials"},
		Short:   "Print fresh credentials using the stored refresh token",
		Long: "Print fresh credentials using the stored refresh token.\n\n" +
			"With the default output this command can be used as an AWS credential_process:\n\n" +
			"  credential_process = authctl renew --profile dev",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			format, err := rt.OutputFormat()
			if err != nil {
				return err
			}
			store, err := rt.Store()
			if err != nil {
				return err
			}
			token, err := store.Load(rt.ProfileName())
			if errors.Is(err, tokenstore.ErrNotFound) {
				return fmt.Errorf("profile %q is not logged in, run \"authctl login\" first", rt.ProfileName())
			}
			if err != nil {
				return err
			}

			c, err := rt.Client()
			if err != nil {
				return err
			}
			resp, err := c.Renew(cmd.Context(), token.RefreshToken)
			if err != nil {
				return fmt.Errorf("failed to renew credentials: %w", err)
			}
			if resp.RefreshToken != "" && resp.RefreshToken != token.RefreshToken {
				token.RefreshToken = resp.RefreshToken
				token.SavedAt = time.Now().UTC()
				if err := store.Save(rt.ProfileName(), token); err != nil {
					_, _ = fmt.Fprintf(rt.ErrWriter(), "warning: could not save refresh token: %v\n", err)
				}
			}
			return output.WriteCredentials(rt.Writer(), format, credentialsFrom(resp))
		},
	}
}
