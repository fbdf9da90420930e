package security

import (
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	// KeychainService is the service name used for storing passwords in the keychain
	KeychainService = "cascade"
)

// Keychain provides secure password storage using the OS keychain
type Keychain struct{}

// NewKeychain creates a new keychain instance
func NewKeychain() *Keychain {
	return &Keychain{}
}

// saslKey and serverKey namespace the two password kinds per network so a
// SASL password never collides with a server PASS for the same network name
func saslKey(network string) string   { return "sasl:" + network }
func serverKey(network string) string { return "server:" + network }

// StorePassword stores a password under a key in the OS keychain. An empty
// password deletes the entry instead.
func (k *Keychain) StorePassword(key string, password string) error {
	if password == "" {
		return k.DeletePassword(key)
	}
	if err := keyring.Set(KeychainService, key, password); err != nil {
		return fmt.Errorf("failed to store password in keychain: %w", err)
	}
	return nil
}

// GetPassword retrieves a password from the OS keychain. A missing entry is
// not an error; it returns the empty string.
func (k *Keychain) GetPassword(key string) (string, error) {
	password, err := keyring.Get(KeychainService, key)
	if err != nil {
		if err == keyring.ErrNotFound {
			return "", nil
		}
		return "", fmt.Errorf("failed to get password from keychain: %w", err)
	}
	return password, nil
}

// DeletePassword removes a password from the OS keychain
func (k *Keychain) DeletePassword(key string) error {
	err := keyring.Delete(KeychainService, key)
	if err != nil && err != keyring.ErrNotFound {
		return fmt.Errorf("failed to delete password from keychain: %w", err)
	}
	return nil
}

// StoreSASLPassword stores the SASL password for a network
func (k *Keychain) StoreSASLPassword(network, password string) error {
	return k.StorePassword(saslKey(network), password)
}

// GetSASLPassword retrieves the SASL password for a network
func (k *Keychain) GetSASLPassword(network string) (string, error) {
	return k.GetPassword(saslKey(network))
}

// StoreServerPassword stores the server PASS password for a network
func (k *Keychain) StoreServerPassword(network, password string) error {
	return k.StorePassword(serverKey(network), password)
}

// GetServerPassword retrieves the server PASS password for a network
func (k *Keychain) GetServerPassword(network string) (string, error) {
	return k.GetPassword(serverKey(network))
}
