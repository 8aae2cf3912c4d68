package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/sony/mailroom-mailer/mailer"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRootCommand() *cobra.Command {
	var envFile string
	config := &mailer.Config{}

	cmd := &cobra.Command{
		Use:           "mailroom-mailer",
		Short:         "Mailroom package notifications and reminders",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
				return err
			}
			c, err := mailer.ParseConfig(os.Getenv("MAILER_CONFIG"))
			if err != nil {
				log.Printf("Couldn't parse MAILER_CONFIG string")
				return err
			}
			*config = *c
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the configuration")

	cmd.AddCommand(
		newServeCommand(config),
		newRemindCommand(config),
		newNotifyCommand(config),
		newAccountCommand(config),
	)
	return cmd
}

func newServeCommand(config *mailer.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return mailer.RunServer(config)
		},
	}
}
