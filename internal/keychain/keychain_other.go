//go:build !darwin

package keychain

// NewSystemStore returns an unavailable store on non-darwin platforms.
// There is no system keychain to protect the master key with.
func NewSystemStore() *UnavailableStore {
	return &UnavailableStore{}
}
