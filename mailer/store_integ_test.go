//go:build integration

package mailer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPostgresStore(t *testing.T) {
	config, err := ParseConfig(`{"store-driver":"postgres","dbname":"mailroom_test"}`)
	require.Nil(t, err)

	store, err := OpenStore(config)
	require.Nil(t, err)
	defer func() {
		require.Nil(t, store.Close())
	}()

	// clean up the db
	_, err = store.(*sqlStore).db.Exec("delete from properties")
	require.Nil(t, err)

	checkPropertyStore(t, store)

	require.Nil(t, saveCredentials(store, testAccount))
	creds, err := loadCredentials(store)
	require.Nil(t, err)
	require.Equal(t, testAccount, creds)
}
