package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/concierge/core/token"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	require.NoError(t, root.Execute())
	return out.String()
}

func TestVersion(t *testing.T) {
	assert.True(t, strings.HasPrefix(execute(t, "version"), "concierge dev"))
}

func TestTokenEncodeRoundTrips(t *testing.T) {
	out := strings.TrimSpace(execute(t, "token", "encode",
		"--ref", "REF42", "--source", "ig", "--medium", "story", "--campaign", "fall",
		"--nonce", "n1", "--ts", "1700000000"))

	a := token.Decode(out)
	assert.Equal(t, "REF42", a.RefCode)
	assert.Equal(t, "ig", a.UTMSource)
	assert.Equal(t, "story", a.UTMMedium)
	assert.Equal(t, "fall", a.UTMCampaign)
	assert.Equal(t, "n1", a.Nonce)
	require.NotNil(t, a.IssuedAt)
	assert.EqualValues(t, 1700000000, *a.IssuedAt)
}

func TestTokenEncodeDefaults(t *testing.T) {
	out := strings.TrimSpace(execute(t, "token", "encode", "--ref", "R", "--no-ts"))
	a := token.Decode(out)
	assert.Equal(t, "R", a.RefCode)
	assert.Len(t, a.Nonce, 8)
	assert.Nil(t, a.IssuedAt)
}

func TestTokenEncodeDeepLink(t *testing.T) {
	out := strings.TrimSpace(execute(t, "token", "encode", "--ref", "R", "--no-nonce", "--no-ts", "--bot", "ConciergeBot"))
	assert.Equal(t, "https://t.me/ConciergeBot?start="+token.Encode(token.Attributes{RefCode: "R"}), out)
}

func TestWebhookSecret(t *testing.T) {
	out := strings.TrimSpace(execute(t, "webhook", "secret"))
	assert.Len(t, out, 32)
}

func TestCommandsRegistered(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"serve", "worker", "migrate", "token", "webhook", "queue", "version"} {
		assert.Contains(t, names, want)
	}
}
