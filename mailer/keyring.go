package mailer

import (
	"github.com/cockroachdb/errors"
	"github.com/zalando/go-keyring"
)

// keyringStore keeps the account password in the OS keyring and every
// other property in the wrapped store.
type keyringStore struct {
	PropertyStore
	service string
}

func newKeyringStore(store PropertyStore, service string) *keyringStore {
	return &keyringStore{PropertyStore: store, service: service}
}

func (s *keyringStore) GetProperty(key string) (string, bool, error) {
	if key != KeyPassword {
		return s.PropertyStore.GetProperty(key)
	}
	secret, err := keyring.Get(s.service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", false, nil
		}
		return "", false, errors.Wrap(err, "failed to read password from keyring")
	}
	return secret, true, nil
}

func (s *keyringStore) SetProperty(key, value string) error {
	if key != KeyPassword {
		return s.PropertyStore.SetProperty(key, value)
	}
	return errors.Wrap(keyring.Set(s.service, key, value), "failed to store password in keyring")
}
