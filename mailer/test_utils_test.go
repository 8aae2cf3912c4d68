package mailer

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"math/big"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

// memStore is an in-memory PropertyStore that records every write.
// failSet fails writes of failKey, or of every key when failKey is empty;
// failGet fails every read.
type memStore struct {
	props   map[string]string
	writes  []string
	failSet error
	failKey string
	failGet error
}

func newMemStore(props map[string]string) *memStore {
	if props == nil {
		props = map[string]string{}
	}
	return &memStore{props: props}
}

func (s *memStore) GetProperty(key string) (string, bool, error) {
	if s.failGet != nil {
		return "", false, s.failGet
	}
	v, ok := s.props[key]
	return v, ok, nil
}

func (s *memStore) SetProperty(key, value string) error {
	if s.failSet != nil && (s.failKey == "" || s.failKey == key) {
		return s.failSet
	}
	s.writes = append(s.writes, key)
	s.props[key] = value
	return nil
}

func (s *memStore) Close() error {
	return nil
}

// countWrites returns how often key was written.
func (s *memStore) countWrites(key string) int {
	n := 0
	for _, k := range s.writes {
		if k == key {
			n++
		}
	}
	return n
}

func storeWithCredentials(creds Credentials) *memStore {
	return newMemStore(map[string]string{
		KeyEmailAddress: creds.Address,
		KeyPassword:     creds.Secret,
		KeyAlias:        creds.Alias,
	})
}

// sentMail is one message handed to a fakeSession.
type sentMail struct {
	from string
	to   []string
	data []byte
}

// fakeTransport hands out fakeSessions.  dialErrs are returned by the
// first dials, in order.  sendErrAt makes the n-th send overall fail.
type fakeTransport struct {
	dialErrs  []error
	sendErrAt int

	dialed   []Credentials
	sessions []*fakeSession
	sends    int
}

func (t *fakeTransport) Dial(creds Credentials) (gomail.SendCloser, error) {
	t.dialed = append(t.dialed, creds)
	if len(t.dialErrs) > 0 {
		err := t.dialErrs[0]
		t.dialErrs = t.dialErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	s := &fakeSession{transport: t}
	t.sessions = append(t.sessions, s)
	return s, nil
}

// sent returns all messages of all sessions.
func (t *fakeTransport) sent() []sentMail {
	var all []sentMail
	for _, s := range t.sessions {
		all = append(all, s.sent...)
	}
	return all
}

type fakeSession struct {
	transport *fakeTransport
	sent      []sentMail
	closed    bool
}

func (s *fakeSession) Send(from string, to []string, msg io.WriterTo) error {
	s.transport.sends++
	if s.transport.sends == s.transport.sendErrAt {
		return errors.New("simulated smtp error")
	}
	var buf bytes.Buffer
	if _, err := msg.WriteTo(&buf); err != nil {
		return err
	}
	s.sent = append(s.sent, sentMail{from: from, to: to, data: buf.Bytes()})
	return nil
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

func authErr() error {
	return errors.Mark(errors.New("535 5.7.8 bad credentials"), ErrAuth)
}

func transportErr() error {
	return errors.Mark(errors.New("dial tcp: i/o timeout"), ErrTransport)
}

// fakeView answers from scripted replies.  Once replies run out questions
// are declined and credential changes cancelled.
type fakeView struct {
	answers  []bool
	newCreds []Credentials

	messages  []string
	questions []string
	changes   []Credentials
}

func (v *fakeView) DisplayMessage(text, title string) {
	v.messages = append(v.messages, text)
}

func (v *fakeView) GetBooleanInput(text, title string, options [2]string) bool {
	v.questions = append(v.questions, text)
	if len(v.answers) == 0 {
		return false
	}
	a := v.answers[0]
	v.answers = v.answers[1:]
	return a
}

func (v *fakeView) ChangeEmail(current Credentials) (Credentials, bool) {
	v.changes = append(v.changes, current)
	if len(v.newCreds) == 0 {
		return Credentials{}, false
	}
	c := v.newCreds[0]
	v.newCreds = v.newCreds[1:]
	return c, true
}

// testDispatcher wires a dispatcher around fakes with the built-in
// templates, at a fixed weekday morning.
type testDispatcher struct {
	*Dispatcher
	store     *memStore
	view      *fakeView
	transport *fakeTransport
	conns     *ConnectionManager
}

var testNow = time.Date(2024, time.March, 13, 9, 30, 0, 0, time.UTC) // Wednesday

func newTestDispatcher(t *testing.T, store *memStore, view *fakeView, transport *fakeTransport) *testDispatcher {
	templates, err := LoadTemplates("")
	require.Nil(t, err)
	conns := NewConnectionManager(transport, "test.local", zap.NewNop().Sugar())
	d := NewDispatcher(store, view, templates, conns, zap.NewNop().Sugar(), "Jones Mail Room")
	d.now = func() time.Time { return testNow }
	return &testDispatcher{Dispatcher: d, store: store, view: view, transport: transport, conns: conns}
}

// parsedMail is a received message decoded with go-message.
type parsedMail struct {
	header mail.Header
	body   string
}

func parseMail(t *testing.T, data []byte) parsedMail {
	r, err := mail.CreateReader(bytes.NewReader(data))
	require.Nil(t, err)
	p, err := r.NextPart()
	require.Nil(t, err)
	body, err := io.ReadAll(p.Body)
	require.Nil(t, err)
	return parsedMail{header: r.Header, body: string(body)}
}

func (m parsedMail) subject(t *testing.T) string {
	s, err := m.header.Subject()
	require.Nil(t, err)
	return s
}

// selfSignedTLS returns a server config and a client config trusting it,
// both for 127.0.0.1.
func selfSignedTLS(t *testing.T) (server, client *tls.Config) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.Nil(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "127.0.0.1"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.Nil(t, err)
	cert, err := x509.ParseCertificate(der)
	require.Nil(t, err)

	pool := x509.NewCertPool()
	pool.AddCert(cert)
	server = &tls.Config{Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}}}
	client = &tls.Config{RootCAs: pool, ServerName: "127.0.0.1"}
	return server, client
}

// testSMTPServer is a submission server with STARTTLS and AUTH PLAIN.
type testSMTPServer struct {
	username string
	password string
	dataErr  error

	mu       sync.Mutex
	received []sentMail

	server *smtp.Server
	port   int
	client *tls.Config
}

func startTestSMTPServer(t *testing.T, username, password string) *testSMTPServer {
	serverTLS, clientTLS := selfSignedTLS(t)
	ts := &testSMTPServer{username: username, password: password, client: clientTLS}

	ts.server = smtp.NewServer(ts)
	ts.server.Domain = "localhost"
	ts.server.TLSConfig = serverTLS
	ts.server.ReadTimeout = 5 * time.Second
	ts.server.WriteTimeout = 5 * time.Second

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.Nil(t, err)
	ts.port = l.Addr().(*net.TCPAddr).Port
	go func() {
		_ = ts.server.Serve(l)
	}()
	t.Cleanup(func() {
		_ = ts.server.Close()
	})
	return ts
}

// transport returns an SMTPTransport pointed at the server.
func (ts *testSMTPServer) transport() *SMTPTransport {
	return &SMTPTransport{Host: "127.0.0.1", Port: ts.port, TLSConfig: ts.client}
}

func (ts *testSMTPServer) mails() []sentMail {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]sentMail(nil), ts.received...)
}

func (ts *testSMTPServer) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &testSMTPSession{server: ts}, nil
}

type testSMTPSession struct {
	server        *testSMTPServer
	authenticated bool
	from          string
	to            []string
}

func (s *testSMTPSession) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (s *testSMTPSession) Auth(mech string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if username != s.server.username || password != s.server.password {
			return smtp.ErrAuthFailed
		}
		s.authenticated = true
		return nil
	}), nil
}

func (s *testSMTPSession) Mail(from string, _ *smtp.MailOptions) error {
	if !s.authenticated {
		return smtp.ErrAuthRequired
	}
	s.from = from
	return nil
}

func (s *testSMTPSession) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.to = append(s.to, to)
	return nil
}

func (s *testSMTPSession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if s.server.dataErr != nil {
		return s.server.dataErr
	}
	s.server.mu.Lock()
	defer s.server.mu.Unlock()
	s.server.received = append(s.server.received, sentMail{from: s.from, to: s.to, data: data})
	return nil
}

func (s *testSMTPSession) Reset() {
	s.from = ""
	s.to = nil
}

func (s *testSMTPSession) Logout() error {
	return nil
}

// countBlocks counts the item blocks in a reminder body.
func countBlocks(body string) int {
	return strings.Count(body, "<p>Package ")
}
