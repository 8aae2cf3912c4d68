package mailer

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestConsoleViewDisplayMessage(t *testing.T) {
	var out bytes.Buffer
	v := NewConsoleView(strings.NewReader(""), &out)
	v.DisplayMessage(msgNotLoaded, titleNotLoaded)
	v.DisplayMessage(msgBadLogin, "")
	require.Equal(t, "== Email Not Loaded ==\n"+msgNotLoaded+"\n"+
		"Incorrect username or password.\n", out.String())
}

func TestConsoleViewGetBooleanInput(t *testing.T) {
	var out bytes.Buffer
	v := NewConsoleView(strings.NewReader("maybe\n1\nCANCEL\n2\nretry\n"), &out)
	require.True(t, v.GetBooleanInput(msgConnFailed, titleConnFailed, retryOptions))
	require.False(t, v.GetBooleanInput(msgConnFailed, titleConnFailed, retryOptions))
	require.False(t, v.GetBooleanInput(msgConnFailed, titleConnFailed, retryOptions))
	require.True(t, v.GetBooleanInput(msgConnFailed, titleConnFailed, retryOptions))
	// end of input declines
	require.False(t, v.GetBooleanInput(msgConnFailed, titleConnFailed, retryOptions))
	require.Contains(t, out.String(), "[1] Retry  [2] Cancel: ")
}

func TestConsoleViewChangeEmail(t *testing.T) {
	var out bytes.Buffer
	v := NewConsoleView(strings.NewReader("\nnewpass\nFront Desk\n"), &out)
	creds, ok := v.ChangeEmail(testAccount)
	require.True(t, ok)
	require.Equal(t, Credentials{Address: testAccount.Address, Secret: "newpass", Alias: "Front Desk"}, creds)
	require.Contains(t, out.String(), "Email address [mailroom@example.com]: ")
	require.Contains(t, out.String(), "Password [********]: ")
	require.NotContains(t, out.String(), testAccount.Secret)
}

func TestConsoleViewChangeEmailLastLine(t *testing.T) {
	var out bytes.Buffer
	v := NewConsoleView(strings.NewReader("a@example.com\npw\nAlias"), &out)
	creds, ok := v.ChangeEmail(Credentials{})
	require.True(t, ok)
	require.Equal(t, Credentials{Address: "a@example.com", Secret: "pw", Alias: "Alias"}, creds)
}

func TestConsoleViewChangeEmailCancelled(t *testing.T) {
	var out bytes.Buffer
	v := NewConsoleView(strings.NewReader("a@example.com\n"), &out)
	_, ok := v.ChangeEmail(testAccount)
	require.False(t, ok)

	// incomplete result
	v = NewConsoleView(strings.NewReader("a@example.com\n\n\n"), &out)
	_, ok = v.ChangeEmail(Credentials{})
	require.False(t, ok)
}

func TestHeadlessView(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	v := NewHeadlessView(zap.New(core).Sugar())

	v.DisplayMessage(msgBadLogin, "")
	require.False(t, v.GetBooleanInput(msgConnFailed, titleConnFailed, retryOptions))
	_, ok := v.ChangeEmail(testAccount)
	require.False(t, ok)

	entries := logs.All()
	require.Equal(t, 3, len(entries))
	require.Equal(t, "Incorrect username or password.", entries[0].Message)
	require.Equal(t, "Cancel", entries[1].ContextMap()["answer"])
	require.Equal(t, testAccount.Address, entries[2].ContextMap()["address"])
}
