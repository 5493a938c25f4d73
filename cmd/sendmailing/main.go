package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"mailflare/config"
	"mailflare/models"
	"mailflare/utils"
)

// sendmailing dispatches a single mailing from the command line,
// bypassing the scheduler window. Only mailings still in the created
// state are accepted; the mailing is closed out when the command ends.
func main() {
	logger := log.New(os.Stdout, "SENDMAILING: ", log.LstdFlags)

	mailingID := flag.Uint("id", 0, "ID of the mailing to send")
	flag.Parse()

	if *mailingID == 0 {
		logger.Fatal("usage: sendmailing -id <mailing-id>")
	}

	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	store := utils.NewMailingStore(config.DB)
	ledger := utils.NewAttemptLedger(config.DB)
	dispatcher := utils.NewDispatcher(store, ledger, utils.NewMailer(),
		config.AppConfig.FromEmail, logger)

	mailing, err := store.GetMailing(*mailingID)
	if err != nil {
		logger.Fatalf("Mailing %d not found: %v", *mailingID, err)
	}

	if mailing.Status != models.MailingStatusCreated {
		logger.Fatalf("Mailing %d has already been processed (status %s)", mailing.ID, mailing.Status)
	}

	report, err := dispatcher.SendMailing(mailing, models.TriggerCommand)
	if err != nil {
		if errors.Is(err, utils.ErrNoRecipients) {
			logger.Fatalf("Mailing %d has no recipients; marked completed", mailing.ID)
		}
		logger.Fatalf("Failed to send mailing %d: %v", mailing.ID, err)
	}

	// The command is a one-shot: whatever the outcome, the mailing does not
	// go back into the scheduled rotation.
	if err := store.UpdateStatus(mailing.ID, models.MailingStatusCompleted); err != nil {
		logger.Fatalf("Failed to complete mailing %d: %v", mailing.ID, err)
	}

	fmt.Printf("Mailing %d: %d sent, %d failed\n", report.MailingID, report.SuccessCount, report.FailureCount)
	for _, failure := range report.Failures {
		fmt.Printf("  %s: %s\n", failure.Email, failure.Reason)
	}
}
