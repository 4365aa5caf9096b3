// Package output renders broker credentials for the shell, the AWS SDK
// credential_process hook or a human.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatCredentialProcess Format = "credential-process"
	FormatEnv               Format = "env"
	FormatJSON              Format = "json"
	FormatYAML              Format = "yaml"
)

// Credentials are temporary AWS credentials as handed out by the broker.
type Credentials struct {
	AccessKeyID     string    `json:"access_key_id" yaml:"accessKeyId"`
	SecretAccessKey string    `json:"secret_access_key" yaml:"secretAccessKey"`
	SessionToken    string    `json:"session_token" yaml:"sessionToken"`
	ExpiresAt       time.Time `json:"expires_at" yaml:"expiresAt"`
}

// credentialProcess is the document the AWS SDKs expect from a
// credential_process command.
type credentialProcess struct {
	Version         int    `json:"Version"`
	AccessKeyID     string `json:"AccessKeyId"`
	SecretAccessKey string `json:"SecretAccessKey"`
	SessionToken    string `json:"SessionToken"`
	Expiration      string `json:"Expiration,omitempty"`
}

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatCredentialProcess, nil
	case FormatCredentialProcess, FormatEnv, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format: %s", s)
	}
}

func WriteCredentials(w io.Writer, format Format, creds Credentials) error {
	switch format {
	case FormatCredentialProcess, "":
		doc := credentialProcess{
			Version:         1,
			AccessKeyID:     creds.AccessKeyID,
			SecretAccessKey: creds.SecretAccessKey,
			SessionToken:    creds.SessionToken,
		}
		if !creds.ExpiresAt.IsZero() {
			doc.Expiration = creds.ExpiresAt.UTC().Format(time.RFC3339)
		}
		return WriteObject(w, FormatJSON, doc)
	case FormatEnv:
		_, err := fmt.Fprintf(w, "export AWS_ACCESS_KEY_ID=%s\nexport AWS_SECRET_ACCESS_KEY=%s\nexport AWS_SESSION_TOKEN=%s\n",
			shellQuote(creds.AccessKeyID), shellQuote(creds.SecretAccessKey), shellQuote(creds.SessionToken))
		return err
	default:
		return WriteObject(w, format, creds)
	}
}

func WriteObject(w io.Writer, format Format, obj any) error {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(obj, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case FormatYAML:
		data, err := yaml.Marshal(obj)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(w, string(data))
		return err
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
