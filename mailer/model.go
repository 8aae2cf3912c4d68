package mailer

import "time"

// Credentials identify the sending mail account.  They are always replaced
// as a whole, never field by field.
type Credentials struct {
	Address string `json:"address"`
	Secret  string `json:"-"`
	Alias   string `json:"alias"`
}

// complete reports whether all three fields are set.
func (c Credentials) complete() bool {
	return c.Address != "" && c.Secret != "" && c.Alias != ""
}

// MailItem is a parcel or letter waiting at the mailroom.
type MailItem struct {
	ID      int64     `json:"id"`
	CheckIn time.Time `json:"check_in"`
	Comment string    `json:"comment"`
}

// Recipient is the person an item is addressed to.  ExternalID is the
// stable identity used to tell recipients apart.
type Recipient struct {
	ExternalID string `json:"external_id"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Email      string `json:"email"`
}

// FullName is the display name used in the To header.
func (r Recipient) FullName() string {
	switch {
	case r.FirstName == "":
		return r.LastName
	case r.LastName == "":
		return r.FirstName
	}
	return r.FirstName + " " + r.LastName
}

// Association links one pending item to its recipient.
type Association struct {
	Recipient Recipient `json:"recipient"`
	Item      MailItem  `json:"item"`
}

// RecipientItems is one recipient with all of their pending items.
type RecipientItems struct {
	Recipient Recipient
	Items     []MailItem
}

// RenderedMessage is the final subject and HTML body of one email.
type RenderedMessage struct {
	Subject string
	Body    string
}
