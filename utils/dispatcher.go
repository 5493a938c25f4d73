package utils

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/getsentry/sentry-go"

	"mailflare/models"
)

// Send rejection reasons surfaced to manual and command callers. The
// dispatch pass never sees these: ineligible mailings simply fall out of
// its selection query.
var (
	ErrMailingDisabled    = errors.New("mailing is disabled; ask a manager to enable it")
	ErrMailingCompleted   = errors.New("mailing is already completed")
	ErrMailingAlreadySent = errors.New("mailing has already been sent successfully")
	ErrNoRecipients       = errors.New("mailing has no recipients")
)

// serverResponseLimit caps the failure detail kept for display.
const serverResponseLimit = 200

const sentOKResponse = "email sent successfully"

// RecipientFailure describes one failed delivery within a send.
type RecipientFailure struct {
	Email  string `json:"email"`
	Reason string `json:"reason"`
}

// SendReport summarizes one per-mailing send for the invoking caller.
type SendReport struct {
	MailingID    uint               `json:"mailing_id"`
	SuccessCount int                `json:"success_count"`
	FailureCount int                `json:"failure_count"`
	Failures     []RecipientFailure `json:"failures,omitempty"`
}

// Dispatcher is the retry-safe send engine. One instance is shared by the
// periodic worker (trigger "scheduled"), the web send endpoint (trigger
// "manual") and the sendmailing CLI (trigger "command"). It is synchronous
// and must not be invoked concurrently; the caller enforces single flight.
type Dispatcher struct {
	Store  MailingStore
	Ledger AttemptLedger
	Mailer MailSender
	From   string
	Logger *log.Logger
}

func NewDispatcher(store MailingStore, ledger AttemptLedger, mailer MailSender, from string, logger *log.Logger) *Dispatcher {
	return &Dispatcher{
		Store:  store,
		Ledger: ledger,
		Mailer: mailer,
		From:   from,
		Logger: logger,
	}
}

// RunDispatchPass finds every mailing due at now and sends to its pending
// recipients. A failure inside one mailing is contained there; only a
// store failure during selection is fatal and propagates.
func (d *Dispatcher) RunDispatchPass(now time.Time) error {
	mailings, err := d.Store.DueMailings(now)
	if err != nil {
		return fmt.Errorf("failed to select due mailings: %w", err)
	}

	if len(mailings) == 0 {
		return nil
	}
	d.Logger.Printf("Found %d mailings ready to send", len(mailings))

	for i := range mailings {
		d.dispatchSafely(&mailings[i])
	}
	return nil
}

// dispatchSafely contains one mailing's errors and panics so the rest of
// the batch still runs.
func (d *Dispatcher) dispatchSafely(mailing *models.Mailing) {
	defer func() {
		if r := recover(); r != nil {
			d.Logger.Printf("Panic while processing mailing %d: %v", mailing.ID, r)
			sentry.CaptureException(fmt.Errorf("mailing %d dispatch panic: %v", mailing.ID, r))
		}
	}()

	if err := d.dispatchMailing(mailing); err != nil {
		d.Logger.Printf("Error processing mailing %d: %v", mailing.ID, err)
		sentry.CaptureException(fmt.Errorf("mailing %d dispatch failed: %w", mailing.ID, err))
	}
}

func (d *Dispatcher) dispatchMailing(mailing *models.Mailing) error {
	recipients, err := d.Store.Recipients(mailing.ID)
	if err != nil {
		return err
	}

	// A mailing with nobody to reach is terminal: straight to completed,
	// no attempt rows.
	if len(recipients) == 0 {
		d.Logger.Printf("Mailing %d has no recipients, marking completed", mailing.ID)
		return d.Store.UpdateStatus(mailing.ID, models.MailingStatusCompleted)
	}

	// Promote before any send so a crash mid-pass leaves visible evidence
	// that dispatch began.
	if mailing.Status == models.MailingStatusCreated {
		if err := d.Store.UpdateStatus(mailing.ID, models.MailingStatusRunning); err != nil {
			return err
		}
		mailing.Status = models.MailingStatusRunning
	}

	d.Logger.Printf("Sending mailing %d: %q to %d recipients", mailing.ID, mailing.Message.Subject, len(recipients))

	successCount, failureCount, _, err := d.sendToRecipients(mailing, recipients, models.TriggerScheduled)
	if err != nil {
		return err
	}

	if failureCount == 0 {
		// Every recipient was either skipped as already reached or sent
		// just now, so the run is fully covered.
		if err := d.Store.MarkSuccessfullySent(mailing.ID); err != nil {
			return err
		}
		d.Logger.Printf("Mailing %d sent to all recipients (%d successes)", mailing.ID, successCount)
	} else {
		d.Logger.Printf("Mailing %d finished with errors: %d successes, %d failures", mailing.ID, successCount, failureCount)
	}
	return nil
}

// sendToRecipients runs the shared per-recipient loop: skip when the
// ledger already holds a success for this run, otherwise send and record
// the outcome. One recipient's failure never stops the others. Only
// ledger/store failures are returned.
func (d *Dispatcher) sendToRecipients(mailing *models.Mailing, recipients []models.Recipient, trigger string) (int, int, []RecipientFailure, error) {
	successCount := 0
	failureCount := 0
	var failures []RecipientFailure

	for i := range recipients {
		recipient := &recipients[i]

		alreadySent, err := d.Ledger.HasSucceeded(mailing.ID, recipient.ID, mailing.CurrentRun)
		if err != nil {
			return successCount, failureCount, failures, err
		}
		if alreadySent {
			successCount++
			continue
		}

		sendErr := d.Mailer.Send(d.From, recipient.Email, mailing.Message.Subject, mailing.Message.Body)

		attempt := &models.Attempt{
			MailingID:   mailing.ID,
			RecipientID: &recipient.ID,
			RunNumber:   mailing.CurrentRun,
			TriggerType: trigger,
		}
		if sendErr == nil {
			attempt.Status = models.AttemptStatusSuccess
			attempt.ServerResponse = sentOKResponse
			successCount++
		} else {
			attempt.Status = models.AttemptStatusFailure
			attempt.ServerResponse = sendErr.Error()
			failureCount++
			failures = append(failures, RecipientFailure{
				Email:  recipient.Email,
				Reason: Truncate(sendErr.Error(), serverResponseLimit),
			})
			d.Logger.Printf("Error sending mailing %d to %s: %v", mailing.ID, recipient.Email, sendErr)
		}

		if err := d.Ledger.Record(attempt); err != nil {
			return successCount, failureCount, failures, err
		}
	}

	return successCount, failureCount, failures, nil
}

// SendMailing runs the per-recipient loop for a single mailing on behalf
// of a manual or command caller. Preconditions are checked here because,
// unlike the scheduled pass, the caller named a specific mailing and
// deserves a reason when it cannot be sent.
func (d *Dispatcher) SendMailing(mailing *models.Mailing, trigger string) (*SendReport, error) {
	if !mailing.IsActive {
		return nil, ErrMailingDisabled
	}
	if mailing.Status == models.MailingStatusCompleted {
		return nil, ErrMailingCompleted
	}
	if mailing.SuccessfullySent {
		return nil, ErrMailingAlreadySent
	}

	recipients, err := d.Store.Recipients(mailing.ID)
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		// Terminal, same as in the scheduled pass: no recipients means
		// nothing will ever be dispatched.
		if err := d.Store.UpdateStatus(mailing.ID, models.MailingStatusCompleted); err != nil {
			return nil, err
		}
		return nil, ErrNoRecipients
	}

	if mailing.Status == models.MailingStatusCreated {
		if err := d.Store.UpdateStatus(mailing.ID, models.MailingStatusRunning); err != nil {
			return nil, err
		}
		mailing.Status = models.MailingStatusRunning
	}

	successCount, failureCount, failures, err := d.sendToRecipients(mailing, recipients, trigger)
	if err != nil {
		return nil, err
	}

	report := &SendReport{
		MailingID:    mailing.ID,
		SuccessCount: successCount,
		FailureCount: failureCount,
		Failures:     failures,
	}

	if failureCount == 0 {
		// Full coverage: close the mailing immediately rather than waiting
		// for the next completion sweep.
		if err := d.Store.MarkSuccessfullySent(mailing.ID); err != nil {
			return report, err
		}
		if err := d.Store.UpdateStatus(mailing.ID, models.MailingStatusCompleted); err != nil {
			return report, err
		}
		d.Logger.Printf("Mailing %d sent to all recipients (%d successes)", mailing.ID, successCount)
	} else {
		// Leave it running; the scheduled pass retries the failed
		// recipients until the window closes.
		d.Logger.Printf("Mailing %d finished with errors: %d successes, %d failures", mailing.ID, successCount, failureCount)
	}

	return report, nil
}

// CompleteFinished closes out every active mailing that is fully sent or
// whose window has lapsed. The lapse case is irrevocable so perpetually
// failing mailings do not dispatch forever.
func (d *Dispatcher) CompleteFinished(now time.Time) error {
	completed, err := d.Store.CompleteFinished(now)
	if err != nil {
		return fmt.Errorf("failed to complete finished mailings: %w", err)
	}
	if completed > 0 {
		d.Logger.Printf("Completed %d mailings", completed)
	}
	return nil
}

// ResetMailing reopens a mailing for a fresh dispatch cycle. The run
// counter bump scopes idempotency checks to the new run, so old attempts
// stay as history without blocking or satisfying the retry.
func (d *Dispatcher) ResetMailing(mailingID uint) error {
	return d.Store.Reset(mailingID)
}
