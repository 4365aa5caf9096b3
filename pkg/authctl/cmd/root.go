package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	"github.com/telekom/cli-auth-broker/pkg/authctl/client"
	"github.com/telekom/cli-auth-broker/pkg/authctl/output"
	"github.com/telekom/cli-auth-broker/pkg/authctl/tokenstore"
	"github.com/telekom/cli-auth-broker/pkg/version"
)

const defaultServer = "http://127.0.0.1:8080"

type Config struct {
	OutputWriter io.Writer
	ErrWriter    io.Writer
	// OpenBrowser opens the login URL. Defaults to browser.OpenURL.
	OpenBrowser func(url string) error
	// TokenStore overrides the --token-storage selection.
	TokenStore tokenstore.Store
	Hostname   func() (string, error)
}

type runtimeState struct {
	server                string
	profile               string
	tokenStorage          string
	tokenPath             string
	caFile                string
	insecureSkipTLSVerify bool
	outputFormat          string
	writer                io.Writer
	errWriter             io.Writer
	openBrowser           func(string) error
	store                 tokenstore.Store
	hostname              func() (string, error)
}

type runtimeKey struct{}

func DefaultConfig() Config {
	return Config{
		OutputWriter: os.Stdout,
		ErrWriter:    os.Stderr,
		OpenBrowser:  browser.OpenURL,
		Hostname:     os.Hostname,
	}
}

func NewRootCommand(cfg Config) *cobra.Command {
	rt := &runtimeState{
		writer:      cfg.OutputWriter,
		errWriter:   cfg.ErrWriter,
		openBrowser: cfg.OpenBrowser,
		store:       cfg.TokenStore,
		hostname:    cfg.Hostname,
	}

	root := &cobra.Command{
		Use:           "authctl",
		Short:         "Obtain temporary AWS credentials through the CLI auth broker",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if rt.writer == nil {
				rt.writer = os.Stdout
			}
			if rt.errWriter == nil {
				rt.errWriter = os.Stderr
			}
			if rt.openBrowser == nil {
				rt.openBrowser = browser.OpenURL
			}
			if rt.hostname == nil {
				rt.hostname = os.Hostname
			}
			if rt.server == "" {
				rt.server = os.Getenv("AUTHCTL_SERVER")
			}
			if rt.server == "" {
				rt.server = defaultServer
			}
			if rt.profile == "" {
				rt.profile = os.Getenv("AUTHCTL_PROFILE")
			}
			if rt.tokenStorage == "" {
				rt.tokenStorage = os.Getenv("AUTHCTL_TOKEN_STORAGE")
			}
			if rt.outputFormat == "" {
				rt.outputFormat = os.Getenv("AUTHCTL_OUTPUT")
			}
			if !rt.insecureSkipTLSVerify {
				rt.insecureSkipTLSVerify = strings.EqualFold(os.Getenv("AUTHCTL_INSECURE_SKIP_TLS_VERIFY"), "true")
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&rt.server, "server", "", "Broker URL (env AUTHCTL_SERVER, default "+defaultServer+")")
	root.PersistentFlags().StringVarP(&rt.profile, "profile", "p", "", "Profile name for the stored refresh token")
	root.PersistentFlags().StringVar(&rt.tokenStorage, "token-storage", "", "Token storage backend: keychain or file")
	root.PersistentFlags().StringVar(&rt.tokenPath, "token-file", "", "Token file used by the file backend")
	root.PersistentFlags().StringVar(&rt.caFile, "ca-file", "", "CA bundle for the broker's TLS certificate")
	root.PersistentFlags().BoolVar(&rt.insecureSkipTLSVerify, "insecure-skip-tls-verify", false, "Skip TLS verification")
	root.PersistentFlags().StringVarP(&rt.outputFormat, "output", "o", "", "Credential output: credential-process, env, json, yaml")

	root.SetContext(context.WithValue(context.Background(), runtimeKey{}, rt))

	root.AddCommand(
		NewLoginCommand(),
		NewRenewCommand(),
		NewLogoutCommand(),
		NewCompletionCommand(),
		NewVersionCommand(),
	)

	return root
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

func (rt *runtimeState) Writer() io.Writer {
	if rt.writer != nil {
		return rt.writer
	}
	return os.Stdout
}

func (rt *runtimeState) ErrWriter() io.Writer {
	if rt.errWriter != nil {
		return rt.errWriter
	}
	return os.Stderr
}

func (rt *runtimeState) Client() (*client.Client, error) {
	return client.New(
		client.WithServer(rt.server),
		client.WithUserAgent(version.UserAgent("authctl")),
		client.WithTLSConfig(rt.caFile, rt.insecureSkipTLSVerify),
		client.WithRetries(2),
	)
}

func (rt *runtimeState) Store() (tokenstore.Store, error) {
	if rt.store != nil {
		return rt.store, nil
	}
	store, err := tokenstore.New(rt.tokenStorage, rt.tokenPath)
	if err != nil {
		return nil, err
	}
	rt.store = store
	return store, nil
}

func (rt *runtimeState) OutputFormat() (output.Format, error) {
	return output.ParseFormat(rt.outputFormat)
}

func (rt *runtimeState) ProfileName() string {
	if rt.profile == "" {
		return "default"
	}
	return rt.profile
}
