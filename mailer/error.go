package mailer

import "github.com/cockroachdb/errors"

// Error kinds.  They are attached to concrete errors with errors.Mark, so
// errors.Is(err, ErrAuth) holds for any error of that kind no matter how
// much context was wrapped around it afterwards.
var (
	// ErrAuth means the mail server rejected the credentials.
	ErrAuth = errors.New("authentication rejected")
	// ErrTransport means the connection or the SMTP exchange failed.
	ErrTransport = errors.New("mail transport failure")
	// ErrEncoding means an address or alias could not be encoded.
	ErrEncoding = errors.New("unencodable address")
	// ErrConfigMissing means required credential fields are absent.
	ErrConfigMissing = errors.New("mail configuration missing")
)

// Kind classifies a mailer error.
type Kind int

const (
	// KindNone is an error outside the mailer taxonomy (or no error).
	KindNone Kind = iota
	KindAuth
	KindTransport
	KindEncoding
	KindConfigMissing
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindTransport:
		return "transport"
	case KindEncoding:
		return "encoding"
	case KindConfigMissing:
		return "config-missing"
	}
	return "none"
}

// KindOf returns the kind marked on err.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrAuth):
		return KindAuth
	case errors.Is(err, ErrEncoding):
		return KindEncoding
	case errors.Is(err, ErrConfigMissing):
		return KindConfigMissing
	case errors.Is(err, ErrTransport):
		return KindTransport
	}
	return KindNone
}

// AppError wraps an application error with an HTTP response code.
type AppError struct {
	Code     int    // HTTP response code
	Message  string // custom message
	Internal error  // original error, if any
}

// AppErr returns a new AppError including the given HTTP response code.
func AppErr(code int, message string) *AppError {
	return &AppError{Code: code, Message: message, Internal: nil}
}

// WrapErr returns a new AppError wrapping the given error.
func WrapErr(code int, err error) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: err.Error(), Internal: err}
}

// Error returns the error message.
func (e *AppError) Error() string {
	return e.Message
}

// appendError combines two errors into a single error using errors.Join.
func appendError(err1, err2 error) error {
	if err1 == nil {
		return err2
	}
	if err2 == nil {
		return err1
	}
	return errors.Join(err1, err2)
}
