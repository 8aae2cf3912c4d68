package mailer

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

const (
	dialTimeout = 10 * time.Second
	ioTimeout   = 10 * time.Second
)

// ConnState is the lifecycle state of the ConnectionManager.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return "disconnected"
}

// Transport opens authenticated mail sessions.  Errors must be marked with
// ErrAuth when the server rejected the credentials; anything else is
// treated as a transport failure.
type Transport interface {
	Dial(creds Credentials) (gomail.SendCloser, error)
}

// SMTPTransport submits mail to Host:Port.  STARTTLS is required and the
// account authenticates with PLAIN.
type SMTPTransport struct {
	Host string
	Port int
	// TLSConfig overrides the STARTTLS configuration.  When nil the server
	// certificate is verified against Host.
	TLSConfig *tls.Config
}

// NewSMTPTransport returns the transport described by config.
func NewSMTPTransport(config *Config) *SMTPTransport {
	return &SMTPTransport{Host: config.SMTPHost, Port: config.SMTPPort}
}

func (t *SMTPTransport) tlsConfig() *tls.Config {
	if t.TLSConfig != nil {
		return t.TLSConfig
	}
	return &tls.Config{ServerName: t.Host}
}

// Dial connects, upgrades the connection and authenticates.
func (t *SMTPTransport) Dial(creds Credentials) (gomail.SendCloser, error) {
	addr := net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, errors.Mark(errors.WithStack(err), ErrTransport)
	}

	clnt, err := smtp.NewClient(&deadlineConn{Conn: conn, timeout: ioTimeout}, t.Host)
	if err != nil {
		return nil, appendError(errors.Mark(errors.WithStack(err), ErrTransport), conn.Close())
	}
	fail := func(err error) (gomail.SendCloser, error) {
		_ = clnt.Close()
		return nil, err
	}

	ok, _ := clnt.Extension("STARTTLS")
	if !ok {
		return fail(errors.Mark(errors.Newf("%s does not offer STARTTLS", addr), ErrTransport))
	}
	if err := clnt.StartTLS(t.tlsConfig()); err != nil {
		return fail(errors.Mark(errors.WithStack(err), ErrTransport))
	}
	if err := clnt.Auth(smtp.PlainAuth("", creds.Address, creds.Secret, t.Host)); err != nil {
		return fail(classifyAuthError(err))
	}
	return &smtpSession{clnt: clnt}, nil
}

// classifyAuthError marks credential rejections (534, 535) as ErrAuth.
func classifyAuthError(err error) error {
	var perr *textproto.Error
	if errors.As(err, &perr) && (perr.Code == 534 || perr.Code == 535) {
		return errors.Mark(errors.WithStack(err), ErrAuth)
	}
	return errors.Mark(errors.WithStack(err), ErrTransport)
}

// deadlineConn applies a fresh deadline to every read and write.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(b)
}

func (c *deadlineConn) Write(b []byte) (int, error) {
	if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Write(b)
}

// smtpSession is an authenticated SMTP client.
type smtpSession struct {
	clnt *smtp.Client
}

func (s *smtpSession) Send(from string, to []string, msg io.WriterTo) error {
	err := s.clnt.Mail(from)
	if err != nil {
		return errors.WithStack(err)
	}

	for _, rcpt := range to {
		err = s.clnt.Rcpt(rcpt)
		if err != nil {
			return errors.WithStack(err)
		}
	}

	w, err := s.clnt.Data()
	if err != nil {
		return errors.WithStack(err)
	}
	_, err = msg.WriteTo(w)
	if err != nil {
		return appendError(errors.WithStack(err), w.Close())
	}
	return errors.WithStack(w.Close())
}

func (s *smtpSession) Close() error {
	return errors.WithStack(s.clnt.Quit())
}

// ConnectionManager opens and closes sessions on a Transport.  It owns at
// most one session at a time.
type ConnectionManager struct {
	transport Transport
	domain    string
	logger    *zap.SugaredLogger
	state     ConnState
}

// NewConnectionManager returns a manager for transport.  domain is used in
// generated Message-Id headers.
func NewConnectionManager(transport Transport, domain string, logger *zap.SugaredLogger) *ConnectionManager {
	return &ConnectionManager{
		transport: transport,
		domain:    domain,
		logger:    logger,
	}
}

// State returns the current connection state.
func (cm *ConnectionManager) State() ConnState {
	return cm.state
}

// Connect opens an authenticated session for creds.  The error is marked
// ErrAuth or ErrTransport.
func (cm *ConnectionManager) Connect(creds Credentials) (*Session, error) {
	cm.state = Connecting
	sc, err := cm.transport.Dial(creds)
	if err != nil {
		cm.state = Disconnected
		if KindOf(err) != KindAuth {
			err = errors.Mark(err, ErrTransport)
		}
		connectionAttempts.WithLabelValues(KindOf(err).String()).Inc()
		return nil, err
	}
	cm.state = Connected
	connectionAttempts.WithLabelValues("ok").Inc()
	cm.logger.Debugw("connected to mail server",
		"address", creds.Address)
	return &Session{sc: sc, from: creds, domain: cm.domain}, nil
}

// Close ends s.  Failures are only logged.
func (cm *ConnectionManager) Close(s *Session) {
	if s == nil {
		return
	}
	if err := s.sc.Close(); err != nil {
		cm.logger.Warnf("failed to close mail session: %+v", err)
	}
	cm.state = Disconnected
}

// Session is an open, authenticated connection.
type Session struct {
	sc     gomail.SendCloser
	from   Credentials
	domain string
}

// Send transmits one HTML message to a single recipient.
func (s *Session) Send(to, toAlias, subject, htmlBody string) error {
	if err := checkHeaderText(s.from.Alias); err != nil {
		return err
	}
	if err := checkHeaderText(toAlias); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("Message-Id", fmt.Sprintf("<%s@%s>", uuid.New().String(), s.domain))
	m.SetAddressHeader("From", s.from.Address, s.from.Alias)
	m.SetAddressHeader("To", to, toAlias)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", htmlBody)

	err := s.sc.Send(s.from.Address, []string{to}, m)
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "failed to send mail to %s", to), ErrTransport)
	}
	return nil
}

// checkHeaderText rejects display names that cannot go into a header.
func checkHeaderText(s string) error {
	if !utf8.ValidString(s) || strings.ContainsAny(s, "\r\n") {
		return errors.Mark(errors.Newf("cannot encode display name %q", s), ErrEncoding)
	}
	return nil
}
