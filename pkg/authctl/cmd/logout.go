package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telekom/cli-auth-broker/pkg/authctl/tokenstore"
)

func NewLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored refresh token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			store, err := rt.Store()
			if err != nil {
				return err
			}
			err = store.Delete(rt.ProfileName())
			switch {
			case errors.Is(err, tokenstore.ErrNotFound):
				_, _ = fmt.Fprintf(rt.Writer(), "Profile %q is not logged in.\n", rt.ProfileName())
				return nil
			case err != nil:
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Logged out of profile %q (%s).\n", rt.ProfileName(), store.Backend())
			return nil
		},
	}
}
