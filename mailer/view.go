package mailer

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
)

// View is the interactive side of the mailer.
type View interface {
	DisplayMessage(text, title string)
	// GetBooleanInput asks a question answered by one of two options and
	// reports whether the first one was chosen.
	GetBooleanInput(text, title string, options [2]string) bool
	// ChangeEmail asks for a replacement account.  ok is false when the
	// user cancelled.
	ChangeEmail(current Credentials) (creds Credentials, ok bool)
}

// ConsoleView prompts on a terminal.
type ConsoleView struct {
	in  *bufio.Reader
	out io.Writer
}

// NewConsoleView returns a view reading answers from in.
func NewConsoleView(in io.Reader, out io.Writer) *ConsoleView {
	return &ConsoleView{in: bufio.NewReader(in), out: out}
}

func (v *ConsoleView) DisplayMessage(text, title string) {
	if title != "" {
		fmt.Fprintf(v.out, "== %s ==\n", title)
	}
	fmt.Fprintln(v.out, strings.TrimRight(text, "\n"))
}

func (v *ConsoleView) GetBooleanInput(text, title string, options [2]string) bool {
	v.DisplayMessage(text, title)
	for {
		fmt.Fprintf(v.out, "[1] %s  [2] %s: ", options[0], options[1])
		answer, ok := v.readLine()
		if !ok {
			return false
		}
		switch {
		case answer == "1" || strings.EqualFold(answer, options[0]):
			return true
		case answer == "2" || strings.EqualFold(answer, options[1]):
			return false
		}
	}
}

// ChangeEmail prompts for each field; an empty answer keeps the current
// value.  End of input cancels.
func (v *ConsoleView) ChangeEmail(current Credentials) (Credentials, bool) {
	fields := []struct {
		prompt string
		value  *string
		secret bool
	}{
		{"Email address", &current.Address, false},
		{"Password", &current.Secret, true},
		{"Sender alias", &current.Alias, false},
	}
	for _, f := range fields {
		shown := *f.value
		if f.secret && shown != "" {
			shown = "********"
		}
		fmt.Fprintf(v.out, "%s [%s]: ", f.prompt, shown)
		answer, ok := v.readLine()
		if !ok {
			return Credentials{}, false
		}
		if answer != "" {
			*f.value = answer
		}
	}
	if !current.complete() {
		return Credentials{}, false
	}
	return current, true
}

func (v *ConsoleView) readLine() (string, bool) {
	line, err := v.in.ReadString('\n')
	if err != nil && line == "" {
		return "", false
	}
	return strings.TrimSpace(line), true
}

// HeadlessView is used where nobody can answer: messages are logged,
// questions are declined and credential changes are cancelled.
type HeadlessView struct {
	logger *zap.SugaredLogger
}

// NewHeadlessView returns a view logging to logger.
func NewHeadlessView(logger *zap.SugaredLogger) *HeadlessView {
	return &HeadlessView{logger: logger}
}

func (v *HeadlessView) DisplayMessage(text, title string) {
	v.logger.Warnw(strings.TrimSpace(text),
		"title", title)
}

func (v *HeadlessView) GetBooleanInput(text, title string, options [2]string) bool {
	v.logger.Warnw(strings.TrimSpace(text),
		"title", title,
		"answer", options[1])
	return false
}

func (v *HeadlessView) ChangeEmail(current Credentials) (Credentials, bool) {
	v.logger.Warnw("cannot ask for new mail credentials without a terminal",
		"address", current.Address)
	return Credentials{}, false
}
