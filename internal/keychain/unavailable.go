package keychain

import "fmt"

// UnavailableStore rejects every operation with ErrUnavailable. It is the
// system store on platforms without a keychain: secret persistence is
// refused entirely rather than falling back to unprotected storage, and the
// session layer fails closed by requiring a fresh login.
type UnavailableStore struct{}

func (s *UnavailableStore) Set(key, value string) error {
	return fmt.Errorf("%w: cannot store %q", ErrUnavailable, key)
}

func (s *UnavailableStore) Get(key string) (string, error) {
	return "", fmt.Errorf("%w: cannot read %q", ErrUnavailable, key)
}

func (s *UnavailableStore) Delete(key string) error {
	return fmt.Errorf("%w: cannot delete %q", ErrUnavailable, key)
}

func (s *UnavailableStore) Available() bool {
	return false
}
