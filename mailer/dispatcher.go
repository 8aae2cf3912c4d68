package mailer

import (
	"fmt"
	"html"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// checkInFormat renders check-in times in emails.
const checkInFormat = time.UnixDate

const (
	msgNotLoaded = "Email information was not loaded from file.\n" +
		"Please change email information in the next window."
	titleNotLoaded = "Email Not Loaded"
	msgBadLogin    = "Incorrect username or password.\n"
	msgNotSent     = "Emails will not be sent until a connection is established."
	msgConnFailed  = "Program failed to connect to the mail server.\n" +
		"Please check your internet connection and try again."
	titleConnFailed = "Failed Connection"
)

var retryOptions = [2]string{"Retry", "Cancel"}

// Dispatcher sends notifications and reminder batches.  Mail operations
// are serialized; each one uses its own session.
type Dispatcher struct {
	mu        sync.Mutex
	store     PropertyStore
	view      View
	templates TemplateResolver
	conns     *ConnectionManager
	logger    *zap.SugaredLogger
	signature string
	creds     Credentials
	now       func() time.Time
}

// NewDispatcher wires a dispatcher.  signature closes every reminder.
func NewDispatcher(store PropertyStore, view View, templates TemplateResolver,
	conns *ConnectionManager, logger *zap.SugaredLogger, signature string) *Dispatcher {
	return &Dispatcher{
		store:     store,
		view:      view,
		templates: templates,
		conns:     conns,
		logger:    logger,
		signature: signature,
		now:       time.Now,
	}
}

// SenderAddress returns the address mail is sent from.
func (d *Dispatcher) SenderAddress() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.creds.Address
}

// SenderAlias returns the display name mail is sent from.
func (d *Dispatcher) SenderAlias() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.creds.Alias
}

// Start prepares the account and sends today's reminders if they are due.
// It reports whether a reminder batch went out.
func (d *Dispatcher) Start(assocs []Association) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.prepare() {
		return false
	}
	_, sent := d.remindIfDue(assocs)
	return sent
}

// SendRemindersIfDue sends the reminder batch when ShouldSendReminderNow
// holds for the stored last batch time.
func (d *Dispatcher) SendRemindersIfDue(assocs []Association) (due, sent bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.remindIfDue(assocs)
}

func (d *Dispatcher) remindIfDue(assocs []Association) (bool, bool) {
	last, err := d.lastReminderTime()
	if err != nil {
		d.logger.Errorf("cannot tell when reminders were last sent: %+v", err)
		return false, false
	}
	if !ShouldSendReminderNow(d.now(), last) {
		d.logger.Infow("reminders are not due",
			"last_reminder", last)
		return false, false
	}
	return true, d.sendAllReminders(assocs)
}

// Prepare loads the account, asking for it when incomplete, and checks
// that the mail server accepts it.
func (d *Dispatcher) Prepare() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.prepare()
}

func (d *Dispatcher) prepare() bool {
	creds, err := loadCredentials(d.store)
	d.creds = creds
	if err != nil {
		d.logger.Warnf("failed to load email properties: %+v", err)
	}
	for !d.creds.complete() {
		d.view.DisplayMessage(msgNotLoaded, titleNotLoaded)
		if !d.changeEmail() {
			d.view.DisplayMessage(msgNotSent, "")
			return false
		}
	}
	return d.attemptConnection()
}

// AttemptConnection checks the account against the mail server, asking
// the user to fix credentials or retry until it works or they give up.
func (d *Dispatcher) AttemptConnection() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attemptConnection()
}

func (d *Dispatcher) attemptConnection() bool {
	d.logger.Infow("attempting to connect to the mail server",
		"address", d.creds.Address)
	for {
		s, err := d.conns.Connect(d.creds)
		if err == nil {
			d.conns.Close(s)
			return true
		}

		if KindOf(err) == KindAuth {
			d.logger.Warnf("mail server rejected credentials: %+v", err)
			d.view.DisplayMessage(msgBadLogin, "")
			if !d.changeEmail() {
				d.view.DisplayMessage(msgNotSent, "")
				return false
			}
			continue
		}

		d.logger.Warnf("failed to connect to the mail server: %+v", err)
		if !d.view.GetBooleanInput(msgConnFailed, titleConnFailed, retryOptions) {
			d.view.DisplayMessage(msgNotSent, "")
			return false
		}
	}
}

// ChangeCredentials replaces the account and checks it against the mail
// server.
func (d *Dispatcher) ChangeCredentials(creds Credentials) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.setCredentials(creds) {
		return false
	}
	return d.attemptConnection()
}

// changeEmail asks the view for a new account; false if cancelled.
func (d *Dispatcher) changeEmail() bool {
	creds, ok := d.view.ChangeEmail(d.creds)
	if !ok {
		return false
	}
	return d.setCredentials(creds)
}

// setCredentials persists creds and adopts them.  On a failed save the
// current account stays in effect.
func (d *Dispatcher) setCredentials(creds Credentials) bool {
	if err := saveCredentials(d.store, creds); err != nil {
		d.logger.Errorf("%+v", err)
		return false
	}
	d.creds = creds
	return true
}

// reloadCredentials picks up an account changed in the store by another
// process.  Incomplete or unreadable store contents keep the current one.
func (d *Dispatcher) reloadCredentials() {
	creds, err := loadCredentials(d.store)
	if err != nil || !creds.complete() {
		if err != nil {
			d.logger.Warnf("keeping current mail account: %+v", err)
		}
		return
	}
	if creds != d.creds {
		d.logger.Infow("mail account changed in the store",
			"address", creds.Address)
		d.creds = creds
	}
}

// SendNotification tells recipient that item arrived.  Failures are
// logged and reported as false.
func (d *Dispatcher) SendNotification(recipient Recipient, item MailItem) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	vars := map[string]string{
		VarComment:     item.Comment,
		VarCheckInTime: item.CheckIn.Format(checkInFormat),
		VarItemID:      strconv.FormatInt(item.ID, 10),
		VarFirstName:   recipient.FirstName,
		VarLastName:    recipient.LastName,
		VarExternalID:  recipient.ExternalID,
		VarItemCount:   "--",
	}
	d.reloadCredentials()
	msg, err := d.render(vars, NotificationSubject, NotificationBody)
	if err == nil {
		err = d.withSession(func(s *Session) error {
			return s.Send(recipient.Email, recipient.FullName(), msg.Subject, msg.Body)
		})
	}
	if err != nil {
		d.logger.Errorw("failed to send notification",
			"external_id", recipient.ExternalID,
			"item_id", item.ID,
			"kind", KindOf(err).String(),
			"error", fmt.Sprintf("%+v", err))
		messagesFailed.WithLabelValues(kindNotification).Inc()
		return false
	}
	messagesSent.WithLabelValues(kindNotification).Inc()
	return true
}

// SendAllReminders sends one reminder per recipient over a single session
// and records the batch time.  assocs must be clustered by recipient.
// The batch is all or nothing: on any failure the time is not recorded.
func (d *Dispatcher) SendAllReminders(assocs []Association) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sendAllReminders(assocs)
}

func (d *Dispatcher) sendAllReminders(assocs []Association) bool {
	d.reloadCredentials()
	groups := GroupByRecipient(assocs)
	sent := 0
	err := d.withSession(func(s *Session) error {
		for _, g := range groups {
			if len(g.Items) == 0 {
				continue
			}
			msg, err := d.renderReminder(g)
			if err != nil {
				return err
			}
			err = s.Send(g.Recipient.Email, g.Recipient.FullName(), msg.Subject, msg.Body)
			if err != nil {
				return err
			}
			sent++
			messagesSent.WithLabelValues(kindReminder).Inc()
		}
		return nil
	})
	if err == nil {
		err = recordReminder(d.store, d.now())
	}
	if err != nil {
		d.logger.Errorf("reminder batch failed after %d of %d messages: %+v", sent, len(groups), err)
		messagesFailed.WithLabelValues(kindReminder).Inc()
		reminderBatches.WithLabelValues("failed").Inc()
		return false
	}

	d.logger.Infow("successfully sent reminder emails",
		"count", sent)
	reminderBatches.WithLabelValues("ok").Inc()
	return true
}

// ReminderStatus returns the last batch time and whether a batch is due.
func (d *Dispatcher) ReminderStatus() (last time.Time, due bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	last, err = d.lastReminderTime()
	if err != nil {
		return time.Time{}, false, err
	}
	return last, ShouldSendReminderNow(d.now(), last), nil
}

// lastReminderTime reads the last batch time.  A malformed value counts as no
// batch; a failing store is an error.
func (d *Dispatcher) lastReminderTime() (time.Time, error) {
	last, err := lastReminder(d.store)
	if errors.Is(err, errMalformedReminder) {
		d.logger.Warnf("ignoring last reminder time: %+v", err)
		return time.Time{}, nil
	}
	return last, err
}

// withSession runs fn on a fresh session that is closed afterwards.
func (d *Dispatcher) withSession(fn func(*Session) error) error {
	s, err := d.conns.Connect(d.creds)
	if err != nil {
		return err
	}
	defer d.conns.Close(s)
	return fn(s)
}

func (d *Dispatcher) render(vars map[string]string, subject, body string) (RenderedMessage, error) {
	resolved, err := d.templates.ResolveTemplates(vars)
	if err != nil {
		return RenderedMessage{}, err
	}
	return RenderedMessage{Subject: resolved[subject], Body: resolved[body]}, nil
}

// renderReminder renders the reminder template and lists every item below
// it.
func (d *Dispatcher) renderReminder(g RecipientItems) (RenderedMessage, error) {
	vars := map[string]string{
		VarComment:     "",
		VarCheckInTime: "",
		VarItemID:      "",
		VarFirstName:   g.Recipient.FirstName,
		VarLastName:    g.Recipient.LastName,
		VarExternalID:  g.Recipient.ExternalID,
		VarItemCount:   strconv.Itoa(len(g.Items)),
	}
	msg, err := d.render(vars, ReminderSubject, ReminderBody)
	if err != nil {
		return msg, err
	}

	var b strings.Builder
	b.WriteString(msg.Body)
	for i, item := range g.Items {
		writeItemBlock(&b, i+1, item)
	}
	fmt.Fprintf(&b, "<p>%s</p>\n", html.EscapeString(d.signature))
	msg.Body = b.String()
	return msg, nil
}

// writeItemBlock lists one item; the comment line only appears when the
// item has a comment.
func writeItemBlock(b *strings.Builder, n int, item MailItem) {
	fmt.Fprintf(b, "<p>Package %d (ID: %d):<br>\n", n, item.ID)
	fmt.Fprintf(b, "&emsp;Checked in on %s<br>\n", html.EscapeString(item.CheckIn.Format(checkInFormat)))
	if item.Comment != "" {
		fmt.Fprintf(b, "&emsp;Comment: %s<br>\n", html.EscapeString(item.Comment))
	}
	b.WriteString("</p>\n")
}
