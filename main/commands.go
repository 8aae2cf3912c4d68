package main

import (
	"encoding/json"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/sony/mailroom-mailer/mailer"
)

// withDispatcher runs fn with a dispatcher prompting on the terminal.
func withDispatcher(config *mailer.Config, view mailer.View, fn func(*mailer.Dispatcher) error) (err error) {
	logger := mailer.NewLogger()
	dispatcher, store, err := mailer.NewDispatcherFromConfig(config, view, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(dispatcher)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.Wrapf(json.Unmarshal(data, v), "cannot parse %s", path)
}

func newRemindCommand(config *mailer.Config) *cobra.Command {
	var input string
	var force bool
	cmd := &cobra.Command{
		Use:   "remind",
		Short: "Send today's reminder emails if they are due",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var assocs []mailer.Association
			if err := readJSON(input, &assocs); err != nil {
				return err
			}
			view := mailer.NewConsoleView(cmd.InOrStdin(), cmd.OutOrStdout())
			return withDispatcher(config, view, func(d *mailer.Dispatcher) error {
				if force {
					if d.Prepare() && d.SendAllReminders(assocs) {
						return nil
					}
					return errors.New("reminders were not sent")
				}
				if d.Start(assocs) {
					cmd.Println("reminders sent")
				} else {
					cmd.Println("no reminders sent")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "JSON file with the pending associations, clustered by recipient")
	cmd.Flags().BoolVar(&force, "force", false, "send even if reminders are not due")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func newNotifyCommand(config *mailer.Config) *cobra.Command {
	var input string
	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Send a new package notification",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var req mailer.NotificationRequest
			if err := readJSON(input, &req); err != nil {
				return err
			}
			view := mailer.NewConsoleView(cmd.InOrStdin(), cmd.OutOrStdout())
			return withDispatcher(config, view, func(d *mailer.Dispatcher) error {
				if !d.Prepare() || !d.SendNotification(req.Recipient, req.Item) {
					return errors.New("notification was not sent")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "JSON file with the recipient and the item")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func newAccountCommand(config *mailer.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "account",
		Short: "Change the sending mail account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			view := mailer.NewConsoleView(cmd.InOrStdin(), cmd.OutOrStdout())
			creds, ok := view.ChangeEmail(mailer.Credentials{})
			if !ok {
				return errors.New("cancelled")
			}
			return withDispatcher(config, view, func(d *mailer.Dispatcher) error {
				if !d.ChangeCredentials(creds) {
					return errors.New("the mail server did not accept the account")
				}
				cmd.Printf("sending as %s <%s>\n", d.SenderAlias(), d.SenderAddress())
				return nil
			})
		},
	}
}
