package mailer

import (
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
)

// loadCredentials reads the account triple.  Missing fields are reported
// with ErrConfigMissing alongside whatever fields were present.
func loadCredentials(store PropertyStore) (Credentials, error) {
	var creds Credentials
	var missing []string
	fields := []struct {
		key   string
		value *string
	}{
		{KeyEmailAddress, &creds.Address},
		{KeyPassword, &creds.Secret},
		{KeyAlias, &creds.Alias},
	}
	for _, f := range fields {
		v, ok, err := store.GetProperty(f.key)
		if err != nil {
			return creds, err
		}
		if !ok {
			missing = append(missing, f.key)
			continue
		}
		*f.value = v
	}
	if len(missing) > 0 {
		return creds, errors.Mark(errors.Newf("missing properties %v", missing), ErrConfigMissing)
	}
	return creds, nil
}

// saveCredentials writes the account triple.  The password goes first
// since it is the field most likely to be rejected (keyring).  If a later
// write fails the fields already written are restored, so the store never
// holds a mix of two triples.
func saveCredentials(store PropertyStore, creds Credentials) error {
	fields := []struct {
		key   string
		value string
	}{
		{KeyPassword, creds.Secret},
		{KeyEmailAddress, creds.Address},
		{KeyAlias, creds.Alias},
	}

	previous := make(map[string]string, len(fields))
	for _, f := range fields {
		v, _, err := store.GetProperty(f.key)
		if err != nil {
			return errors.Wrap(err, "failed to save credentials")
		}
		previous[f.key] = v
	}

	for i, f := range fields {
		err := store.SetProperty(f.key, f.value)
		if err == nil {
			continue
		}
		err = errors.Wrapf(err, "failed to save credentials (%s)", f.key)
		for _, done := range fields[:i] {
			if rerr := store.SetProperty(done.key, previous[done.key]); rerr != nil {
				err = appendError(err, errors.Wrapf(rerr, "failed to restore %s", done.key))
			}
		}
		return err
	}
	return nil
}

// errMalformedReminder marks a stored reminder time that cannot be parsed.
var errMalformedReminder = errors.New("malformed reminder time")

// lastReminder returns when the last reminder batch completed, or the zero
// time if none did.  An unparsable value is marked errMalformedReminder.
func lastReminder(store PropertyStore) (time.Time, error) {
	v, ok, err := store.GetProperty(KeyLastReminder)
	if err != nil || !ok {
		return time.Time{}, err
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, errors.Mark(errors.Wrapf(err, "malformed %s value %q", KeyLastReminder, v), errMalformedReminder)
	}
	return time.UnixMilli(ms), nil
}

// recordReminder stores t as the completion time of a reminder batch.
func recordReminder(store PropertyStore, t time.Time) error {
	return store.SetProperty(KeyLastReminder, strconv.FormatInt(t.UnixMilli(), 10))
}
