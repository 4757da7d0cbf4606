// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCredentialsFile(t *testing.T, lines ...string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "credentials")

	content := ""
	for _, line := range lines {
		content += line + "\n"
	}

	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestFileAuthenticator_Authenticate(t *testing.T) {
	path := writeCredentialsFile(t,
		"# comment line, skipped",
		"",
		"alice:"+HashPassword("wonderland"),
		"bob:"+HashPassword("builder")+":bob-device",
	)

	a, err := NewFileAuthenticator(path)
	require.NoError(t, err)

	ok, err := a.Authenticate(context.Background(), Credentials{Username: "alice", Password: []byte("wonderland")})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = a.Authenticate(context.Background(), Credentials{Username: "alice", Password: []byte("wrong")})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = a.Authenticate(context.Background(), Credentials{Username: "nobody", Password: []byte("x")})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileAuthenticator_PinnedClientID(t *testing.T) {
	path := writeCredentialsFile(t, "bob:"+HashPassword("builder")+":bob-device")

	a, err := NewFileAuthenticator(path)
	require.NoError(t, err)

	ok, err := a.Authenticate(context.Background(), Credentials{ClientID: "bob-device", Username: "bob", Password: []byte("builder")})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = a.Authenticate(context.Background(), Credentials{ClientID: "some-other-device", Username: "bob", Password: []byte("builder")})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileAuthenticator_Reload(t *testing.T) {
	path := writeCredentialsFile(t, "alice:"+HashPassword("wonderland"))

	a, err := NewFileAuthenticator(path)
	require.NoError(t, err)

	ok, _ := a.Authenticate(context.Background(), Credentials{Username: "carol", Password: []byte("anything")})
	assert.False(t, ok)

	require.NoError(t, os.WriteFile(path, []byte("carol:"+HashPassword("anything")+"\n"), 0o600))
	require.NoError(t, a.Reload())

	ok, err = a.Authenticate(context.Background(), Credentials{Username: "carol", Password: []byte("anything")})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = a.Authenticate(context.Background(), Credentials{Username: "alice", Password: []byte("wonderland")})
	assert.False(t, ok, "credentials dropped in the new file must no longer authenticate")
}

func TestFileAuthenticator_MalformedLine(t *testing.T) {
	path := writeCredentialsFile(t, "alice-no-colon")

	_, err := NewFileAuthenticator(path)
	assert.Error(t, err)
}

func TestFileAuthenticator_MalformedHash(t *testing.T) {
	path := writeCredentialsFile(t, "alice:not-a-hex-hash")

	_, err := NewFileAuthenticator(path)
	assert.Error(t, err)
}

func TestFileAuthenticator_MissingFile(t *testing.T) {
	_, err := NewFileAuthenticator(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.Error(t, err)
}

func TestHashPasswordDeterministic(t *testing.T) {
	h1 := HashPassword("secret")
	h2 := HashPassword("secret")
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, HashPassword("other"))
	assert.Len(t, h1, 64) // hex-encoded sha256
}
