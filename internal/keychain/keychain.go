// Package keychain provides secret storage backed by the macOS Keychain.
//
// Secrets are stored as generic passwords with:
//   - Service: "com.orbitel.opsbridge" (all opsbridge secrets share this service)
//   - Account: the secret key (e.g. "secrets/master-key")
//   - Label: "opsbridge: <key>" (for Keychain Access.app visibility)
//
// Secrets are scoped with kSecAttrAccessibleWhenUnlockedThisDeviceOnly:
// never synced to iCloud, never available when the machine is locked.
//
// On platforms without a system keychain the store reports itself
// unavailable rather than degrading to unprotected storage; the session
// layer fails closed and requires a fresh login.
package keychain

import "errors"

// ErrNotFound is returned when a secret does not exist in the store.
var ErrNotFound = errors.New("secret not found")

// ErrUnavailable is returned when no system keychain is present on this platform.
var ErrUnavailable = errors.New("system keychain unavailable")

// Store is the interface for secret storage operations. Available reports
// whether the store can persist secrets at all; a store that answers false
// fails every other operation with ErrUnavailable.
type Store interface {
	Set(key, value string) error
	Get(key string) (string, error)
	Delete(key string) error
	Available() bool
}
