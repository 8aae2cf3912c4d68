package mailer

// GroupByRecipient collects the items of consecutive associations that
// share a recipient.  The input must be clustered by recipient: a
// recipient whose associations are not adjacent ends up in more than one
// group.  Recipients are compared by ExternalID.
func GroupByRecipient(assocs []Association) []RecipientItems {
	var groups []RecipientItems
	var current *Recipient
	var items []MailItem

	for i := range assocs {
		a := &assocs[i]
		if current == nil || current.ExternalID != a.Recipient.ExternalID {
			if current != nil {
				groups = append(groups, RecipientItems{Recipient: *current, Items: items})
			}
			current = &a.Recipient
			items = nil
		}
		items = append(items, a.Item)
	}

	if current != nil && len(items) > 0 {
		groups = append(groups, RecipientItems{Recipient: *current, Items: items})
	}
	return groups
}
