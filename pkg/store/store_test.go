package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAccountRoundTrip(t *testing.T) {
	s := testStore(t)

	got, err := s.GetAccount("wx-missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	a := Account{
		AppID:          "wx-1",
		AppSecret:      "secret-1",
		Token:          "token-1",
		EncodingAESKey: "key-1",
	}
	require.NoError(t, s.SaveAccount(a))

	got, err = s.GetAccount("wx-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "secret-1", got.AppSecret)
	assert.Equal(t, "key-1", got.EncodingAESKey)

	// upsert keeps the app_id unique
	a.AppSecret = "secret-2"
	require.NoError(t, s.SaveAccount(a))

	got, err = s.GetAccount("wx-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "secret-2", got.AppSecret)
}

func TestDefaultAccount(t *testing.T) {
	s := testStore(t)

	got, err := s.DefaultAccount()
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.SaveAccount(Account{AppID: "wx-old", AppSecret: "s1"}))
	require.NoError(t, s.SaveAccount(Account{AppID: "wx-new", AppSecret: "s2"}))

	got, err = s.DefaultAccount()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "wx-new", got.AppID)
}

func TestTokenRoundTrip(t *testing.T) {
	s := testStore(t)

	tok, _, err := s.LoadToken("wx-1")
	require.NoError(t, err)
	assert.Empty(t, tok)

	expires := time.Now().Add(2 * time.Hour).UTC().Truncate(time.Second)
	require.NoError(t, s.SaveToken("wx-1", "tok-a", expires))

	tok, expiresAt, err := s.LoadToken("wx-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-a", tok)
	assert.True(t, expiresAt.UTC().Truncate(time.Second).Equal(expires),
		"expiry drifted: want %v, got %v", expires, expiresAt)

	require.NoError(t, s.SaveToken("wx-1", "tok-b", expires.Add(time.Hour)))
	tok, _, err = s.LoadToken("wx-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-b", tok)

	require.NoError(t, s.DeleteToken("wx-1"))
	tok, _, err = s.LoadToken("wx-1")
	require.NoError(t, err)
	assert.Empty(t, tok)
}
