package cliauth

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusResponse_JSON(t *testing.T) {
	tests := []struct {
		name string
		resp StatusResponse
		want string
	}{
		{"pending", Pending{}, `{"status":"PENDING"}`},
		{"expired", Expired{}, `{"status":"EXPIRED"}`},
		{"denied", Denied{}, `{"status":"DENIED"}`},
		{
			name: "authorized",
			resp: Authorized{
				AccessKeyID:     "ASIA1",
				SecretAccessKey: "secret",
				SessionToken:    "token",
				ExpiresAt:       time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC),
				RefreshToken:    "refresh",
			},
			want: `{"status":"AUTHORIZED","access_key_id":"ASIA1","secret_access_key":"secret","session_token":"token","expires_at":"2026-03-01T13:00:00Z","refresh_token":"refresh"}`,
		},
		{
			name: "authorized without refresh token",
			resp: Authorized{AccessKeyID: "a", SecretAccessKey: "b", SessionToken: "c", ExpiresAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
			want: `{"status":"AUTHORIZED","access_key_id":"a","secret_access_key":"b","session_token":"c","expires_at":"2026-01-01T00:00:00Z"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.resp)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestSession_DefaultsActive(t *testing.T) {
	var s Session
	require.NoError(t, json.Unmarshal([]byte(`{"user_sub":"u"}`), &s))
	assert.True(t, s.Active)

	require.NoError(t, json.Unmarshal([]byte(`{"user_sub":"u","active":false}`), &s))
	assert.False(t, s.Active)
}

func TestKeysAreDisjoint(t *testing.T) {
	assert.NotEqual(t, PointerKey("x"), SessionKey("x"))
	assert.NotEqual(t, StateKey("x"), PointerKey("x"))
	assert.Equal(t, "auth:cli:state:abc", StateKey("abc"))
	assert.Equal(t, "auth:cli:pointer:abc", PointerKey("abc"))
	assert.Equal(t, "auth:cli:session:abc", SessionKey("abc"))
}
