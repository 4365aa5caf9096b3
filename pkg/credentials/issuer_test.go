package credentials

import (
	"context"
	"errors"
	"math/rand"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/aws-sdk-go-v2/service/sts/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeSTS struct {
	calls  []*sts.AssumeRoleInput
	out    *sts.AssumeRoleOutput
	err    error
	hasDdl bool
}

func (f *fakeSTS) AssumeRole(ctx context.Context, in *sts.AssumeRoleInput, _ ...func(*sts.Options)) (*sts.AssumeRoleOutput, error) {
	f.calls = append(f.calls, in)
	_, f.hasDdl = ctx.Deadline()
	return f.out, f.err
}

func validOutput(exp time.Time) *sts.AssumeRoleOutput {
	return &sts.AssumeRoleOutput{Credentials: &types.Credentials{
		AccessKeyId:     aws.String("ASIAEXAMPLE"),
		SecretAccessKey: aws.String("secret"),
		SessionToken:    aws.String("token"),
		Expiration:      aws.Time(exp),
	}}
}

func TestRoleSessionName(t *testing.T) {
	cases := []struct {
		subject string
		want    string
	}{
		{subject: "abc-123", want: "cli-abc-123"},
		{subject: "user@example.com", want: "cli-user@example.com"},
		{subject: "a b/c:d", want: "cli-abcd"},
		{subject: "ünïcødé", want: "cli-ncd"},
		{subject: "", want: "cli-"},
		{subject: strings.Repeat("x", 100), want: "cli-" + strings.Repeat("x", 60)},
	}
	for _, tc := range cases {
		t.Run(tc.subject, func(t *testing.T) {
			assert.Equal(t, tc.want, RoleSessionName(tc.subject))
		})
	}
}

func TestRoleSessionNameProperties(t *testing.T) {
	allowed := regexp.MustCompile(`^[A-Za-z0-9=,.@_-]+$`)
	rng := rand.New(rand.NewSource(42))
	alphabet := []rune("abcXYZ019=,.@_- /:;!?#äß 世\t")

	for i := 0; i < 2000; i++ {
		n := 1 + rng.Intn(120)
		runes := make([]rune, n)
		for j := range runes {
			runes[j] = alphabet[rng.Intn(len(alphabet))]
		}
		subject := string(runes)
		name := RoleSessionName(subject)

		require.NotEmpty(t, name, "subject %q", subject)
		require.LessOrEqual(t, len(name), MaxSessionNameLength, "subject %q", subject)
		require.Regexp(t, allowed, name, "subject %q", subject)
	}
}

func TestNewIssuerValidation(t *testing.T) {
	_, err := NewIssuer(nil, Config{RoleARN: "arn"}, nil)
	require.Error(t, err)
	_, err = NewIssuer(&fakeSTS{}, Config{}, nil)
	require.Error(t, err)
}

func TestIssue(t *testing.T) {
	exp := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	api := &fakeSTS{out: validOutput(exp)}
	issuer, err := NewIssuer(api, Config{
		RoleARN:    "arn:aws:iam::123456789012:role/cli",
		ExternalID: "ext-1",
		Duration:   30 * time.Minute,
	}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	creds, err := issuer.Issue(context.Background(), "sub-123")
	require.NoError(t, err)
	assert.Equal(t, "ASIAEXAMPLE", creds.AccessKeyID)
	assert.Equal(t, "secret", creds.SecretAccessKey)
	assert.Equal(t, "token", creds.SessionToken)
	assert.Equal(t, exp, creds.Expiration)

	require.Len(t, api.calls, 1)
	in := api.calls[0]
	assert.Equal(t, "arn:aws:iam::123456789012:role/cli", aws.ToString(in.RoleArn))
	assert.Equal(t, "cli-sub-123", aws.ToString(in.RoleSessionName))
	assert.Equal(t, "ext-1", aws.ToString(in.ExternalId))
	assert.Equal(t, int32(1800), aws.ToInt32(in.DurationSeconds))
	assert.True(t, api.hasDdl, "calls carry a deadline")
}

func TestIssueWithoutExternalID(t *testing.T) {
	api := &fakeSTS{out: validOutput(time.Now().Add(time.Hour))}
	issuer, err := NewIssuer(api, Config{RoleARN: "arn:aws:iam::1:role/cli"}, nil)
	require.NoError(t, err)

	_, err = issuer.Issue(context.Background(), "sub")
	require.NoError(t, err)
	assert.Nil(t, api.calls[0].ExternalId)
	assert.Nil(t, api.calls[0].DurationSeconds)
}

func TestIssueFailures(t *testing.T) {
	t.Run("api error", func(t *testing.T) {
		api := &fakeSTS{err: &smithy.GenericAPIError{Code: "AccessDenied", Message: "not authorized"}}
		issuer, err := NewIssuer(api, Config{RoleARN: "arn:aws:iam::1:role/cli"}, zaptest.NewLogger(t).Sugar())
		require.NoError(t, err)

		_, err = issuer.Issue(context.Background(), "sub")
		var issueErr *IssueError
		require.True(t, errors.As(err, &issueErr))
		assert.Equal(t, "AccessDenied", issueErr.Code)
		assert.Len(t, api.calls, 1, "never retried")
	})

	t.Run("missing credentials", func(t *testing.T) {
		api := &fakeSTS{out: &sts.AssumeRoleOutput{}}
		issuer, err := NewIssuer(api, Config{RoleARN: "arn:aws:iam::1:role/cli"}, nil)
		require.NoError(t, err)

		_, err = issuer.Issue(context.Background(), "sub")
		assert.ErrorIs(t, err, ErrMissingCredentials)
	})

	t.Run("partial credentials", func(t *testing.T) {
		out := validOutput(time.Now())
		out.Credentials.SessionToken = nil
		issuer, err := NewIssuer(&fakeSTS{out: out}, Config{RoleARN: "arn:aws:iam::1:role/cli"}, nil)
		require.NoError(t, err)

		_, err = issuer.Issue(context.Background(), "sub")
		assert.ErrorIs(t, err, ErrMissingCredentials)
	})

	t.Run("missing expiration", func(t *testing.T) {
		out := validOutput(time.Now())
		out.Credentials.Expiration = nil
		issuer, err := NewIssuer(&fakeSTS{out: out}, Config{RoleARN: "arn:aws:iam::1:role/cli"}, nil)
		require.NoError(t, err)

		creds, err := issuer.Issue(context.Background(), "sub")
		assert.ErrorIs(t, err, ErrMissingCredentials)
		assert.Nil(t, creds)
	})
}
