package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestKeychainRoundTrip(t *testing.T) {
	keyring.MockInit()

	k := NewKeychain()
	require.NoError(t, k.StoreSASLPassword("libera", "hunter2"))

	got, err := k.GetSASLPassword("libera")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got)
}

func TestKeychainMissingEntryIsNotAnError(t *testing.T) {
	keyring.MockInit()

	k := NewKeychain()
	got, err := k.GetServerPassword("nowhere")
	require.NoError(t, err)
	assert.Empty(t, got)

	assert.NoError(t, k.DeletePassword("nowhere"))
}

func TestKeychainNamespacesPasswordKinds(t *testing.T) {
	keyring.MockInit()

	k := NewKeychain()
	require.NoError(t, k.StoreSASLPassword("libera", "saslpass"))
	require.NoError(t, k.StoreServerPassword("libera", "serverpass"))

	sasl, err := k.GetSASLPassword("libera")
	require.NoError(t, err)
	assert.Equal(t, "saslpass", sasl)

	server, err := k.GetServerPassword("libera")
	require.NoError(t, err)
	assert.Equal(t, "serverpass", server)
}

func TestKeychainEmptyPasswordDeletes(t *testing.T) {
	keyring.MockInit()

	k := NewKeychain()
	require.NoError(t, k.StoreSASLPassword("libera", "hunter2"))
	require.NoError(t, k.StoreSASLPassword("libera", ""))

	got, err := k.GetSASLPassword("libera")
	require.NoError(t, err)
	assert.Empty(t, got)
}
