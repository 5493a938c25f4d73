package utils

import (
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"

	"mailflare/models"
)

// fakeStore is an in-memory MailingStore.
type fakeStore struct {
	mailings       map[uint]*models.Mailing
	recipients     map[uint][]models.Recipient
	inactiveOwners map[uint]bool
	dueErr         error
	recipientsErr  map[uint]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		mailings:       make(map[uint]*models.Mailing),
		recipients:     make(map[uint][]models.Recipient),
		inactiveOwners: make(map[uint]bool),
		recipientsErr:  make(map[uint]error),
	}
}

func (s *fakeStore) DueMailings(now time.Time) ([]models.Mailing, error) {
	if s.dueErr != nil {
		return nil, s.dueErr
	}
	var due []models.Mailing
	for _, m := range s.mailings {
		if m.IsActive && !m.SuccessfullySent && m.WindowContains(now) &&
			!s.inactiveOwners[m.UserID] {
			due = append(due, *m)
		}
	}
	return due, nil
}

func (s *fakeStore) GetMailing(id uint) (*models.Mailing, error) {
	m, ok := s.mailings[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *m
	return &copied, nil
}

func (s *fakeStore) Recipients(mailingID uint) ([]models.Recipient, error) {
	if err := s.recipientsErr[mailingID]; err != nil {
		return nil, err
	}
	return s.recipients[mailingID], nil
}

func (s *fakeStore) UpdateStatus(mailingID uint, status string) error {
	s.mailings[mailingID].Status = status
	return nil
}

func (s *fakeStore) MarkSuccessfullySent(mailingID uint) error {
	s.mailings[mailingID].SuccessfullySent = true
	return nil
}

func (s *fakeStore) CompleteFinished(now time.Time) (int64, error) {
	var n int64
	for _, m := range s.mailings {
		if m.IsActive && m.Status != models.MailingStatusCompleted &&
			(m.SuccessfullySent || m.Expired(now)) {
			m.Status = models.MailingStatusCompleted
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) Reset(mailingID uint) error {
	m := s.mailings[mailingID]
	m.Status = models.MailingStatusCreated
	m.SuccessfullySent = false
	m.CurrentRun++
	return nil
}

// fakeLedger is an in-memory append-only AttemptLedger.
type fakeLedger struct {
	attempts []models.Attempt
}

func (l *fakeLedger) Record(attempt *models.Attempt) error {
	l.attempts = append(l.attempts, *attempt)
	return nil
}

func (l *fakeLedger) HasSucceeded(mailingID, recipientID, runNumber uint) (bool, error) {
	for _, a := range l.attempts {
		if a.MailingID == mailingID && a.RecipientID != nil && *a.RecipientID == recipientID &&
			a.RunNumber == runNumber && a.Status == models.AttemptStatusSuccess {
			return true, nil
		}
	}
	return false, nil
}

func (l *fakeLedger) countFor(mailingID uint) int {
	n := 0
	for _, a := range l.attempts {
		if a.MailingID == mailingID {
			n++
		}
	}
	return n
}

// fakeMailer records deliveries and fails for configured addresses.
type fakeMailer struct {
	sent    []string
	failFor map[string]error
}

func (m *fakeMailer) Send(from, to, subject, body string) error {
	if err := m.failFor[to]; err != nil {
		return err
	}
	m.sent = append(m.sent, to)
	return nil
}

func testRecipients(n int) []models.Recipient {
	recipients := make([]models.Recipient, n)
	for i := range recipients {
		recipients[i] = models.Recipient{
			Model: gorm.Model{ID: uint(i + 1)},
			Email: fmt.Sprintf("user%d@example.com", i+1),
		}
	}
	return recipients
}

func testMailing(id uint, status string, now time.Time) *models.Mailing {
	return &models.Mailing{
		Model:      gorm.Model{ID: id},
		Status:     status,
		IsActive:   true,
		CurrentRun: 1,
		StartAt:    now.Add(-time.Hour),
		EndAt:      now.Add(time.Hour),
		Message:    models.Message{Subject: "Hello", Body: "World"},
	}
}

func newTestDispatcher(store *fakeStore, ledger *fakeLedger, mailer *fakeMailer) *Dispatcher {
	return NewDispatcher(store, ledger, mailer, "noreply@example.com", log.New(io.Discard, "", 0))
}

func TestDispatchPassSendsAndMarksFullyCovered(t *testing.T) {
	now := time.Now()
	store := newFakeStore()
	ledger := &fakeLedger{}
	mailer := &fakeMailer{}

	store.mailings[1] = testMailing(1, models.MailingStatusCreated, now)
	store.recipients[1] = testRecipients(3)

	d := newTestDispatcher(store, ledger, mailer)
	if err := d.RunDispatchPass(now); err != nil {
		t.Fatalf("RunDispatchPass: %v", err)
	}

	if got := store.mailings[1].Status; got != models.MailingStatusRunning {
		t.Errorf("status = %q, want running", got)
	}
	if !store.mailings[1].SuccessfullySent {
		t.Error("mailing not marked successfully sent after full coverage")
	}
	if len(mailer.sent) != 3 {
		t.Errorf("sent %d emails, want 3", len(mailer.sent))
	}
	if got := ledger.countFor(1); got != 3 {
		t.Errorf("recorded %d attempts, want 3", got)
	}
	for _, a := range ledger.attempts {
		if a.TriggerType != models.TriggerScheduled {
			t.Errorf("trigger = %q, want scheduled", a.TriggerType)
		}
		if a.Status != models.AttemptStatusSuccess {
			t.Errorf("status = %q, want success", a.Status)
		}
	}

	// A second pass finds nothing left to do: three attempts, never six.
	if err := d.RunDispatchPass(now); err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if got := ledger.countFor(1); got != 3 {
		t.Errorf("ledger holds %d attempts after second pass, want 3", got)
	}
}

func TestDispatchPassSkipsAlreadyReachedRecipients(t *testing.T) {
	now := time.Now()
	store := newFakeStore()
	ledger := &fakeLedger{}
	mailer := &fakeMailer{}

	store.mailings[1] = testMailing(1, models.MailingStatusRunning, now)
	recipients := testRecipients(3)
	store.recipients[1] = recipients

	// Two recipients already reached in this run.
	for i := 0; i < 2; i++ {
		ledger.attempts = append(ledger.attempts, models.Attempt{
			MailingID:   1,
			RecipientID: &recipients[i].ID,
			RunNumber:   1,
			Status:      models.AttemptStatusSuccess,
		})
	}

	d := newTestDispatcher(store, ledger, mailer)
	if err := d.RunDispatchPass(now); err != nil {
		t.Fatalf("RunDispatchPass: %v", err)
	}

	if len(mailer.sent) != 1 {
		t.Fatalf("sent %d emails, want 1", len(mailer.sent))
	}
	if mailer.sent[0] != "user3@example.com" {
		t.Errorf("sent to %s, want user3@example.com", mailer.sent[0])
	}
	// Three attempts total: the two seeded plus one new, never five.
	if got := ledger.countFor(1); got != 3 {
		t.Errorf("ledger holds %d attempts, want 3", got)
	}
	if !store.mailings[1].SuccessfullySent {
		t.Error("mailing not marked successfully sent")
	}
}

func TestDispatchPassRetriesOnlyFailedRecipients(t *testing.T) {
	now := time.Now()
	store := newFakeStore()
	ledger := &fakeLedger{}
	mailer := &fakeMailer{failFor: map[string]error{
		"user2@example.com": errors.New("mailbox full"),
	}}

	store.mailings[1] = testMailing(1, models.MailingStatusCreated, now)
	store.recipients[1] = testRecipients(3)

	d := newTestDispatcher(store, ledger, mailer)
	if err := d.RunDispatchPass(now); err != nil {
		t.Fatalf("first pass: %v", err)
	}

	if store.mailings[1].SuccessfullySent {
		t.Fatal("mailing marked sent despite a failure")
	}
	if got := store.mailings[1].Status; got != models.MailingStatusRunning {
		t.Fatalf("status = %q, want running", got)
	}
	if got := ledger.countFor(1); got != 3 {
		t.Fatalf("first pass recorded %d attempts, want 3", got)
	}

	// Mailbox recovers; only the failed recipient should get a new send.
	mailer.failFor = nil
	mailer.sent = nil
	if err := d.RunDispatchPass(now); err != nil {
		t.Fatalf("second pass: %v", err)
	}

	if len(mailer.sent) != 1 || mailer.sent[0] != "user2@example.com" {
		t.Errorf("second pass sent to %v, want only user2@example.com", mailer.sent)
	}
	if got := ledger.countFor(1); got != 4 {
		t.Errorf("ledger holds %d attempts, want 4", got)
	}
	if !store.mailings[1].SuccessfullySent {
		t.Error("mailing not marked successfully sent after retry")
	}

	// The completion sweep that follows every pass closes the mailing.
	if err := d.CompleteFinished(now); err != nil {
		t.Fatalf("CompleteFinished: %v", err)
	}
	if got := store.mailings[1].Status; got != models.MailingStatusCompleted {
		t.Errorf("status = %q, want completed", got)
	}
}

func TestDispatchPassCompletesEmptyMailingWithoutAttempts(t *testing.T) {
	now := time.Now()
	store := newFakeStore()
	ledger := &fakeLedger{}
	mailer := &fakeMailer{}

	store.mailings[1] = testMailing(1, models.MailingStatusCreated, now)

	d := newTestDispatcher(store, ledger, mailer)
	if err := d.RunDispatchPass(now); err != nil {
		t.Fatalf("RunDispatchPass: %v", err)
	}

	if got := store.mailings[1].Status; got != models.MailingStatusCompleted {
		t.Errorf("status = %q, want completed", got)
	}
	if len(ledger.attempts) != 0 {
		t.Errorf("recorded %d attempts for an empty mailing, want 0", len(ledger.attempts))
	}
	if len(mailer.sent) != 0 {
		t.Errorf("sent %d emails for an empty mailing, want 0", len(mailer.sent))
	}
}

func TestDispatchPassIsolatesPerMailingFailures(t *testing.T) {
	now := time.Now()
	store := newFakeStore()
	ledger := &fakeLedger{}
	mailer := &fakeMailer{}

	store.mailings[1] = testMailing(1, models.MailingStatusCreated, now)
	store.mailings[2] = testMailing(2, models.MailingStatusCreated, now)
	store.recipients[2] = testRecipients(2)
	store.recipientsErr[1] = errors.New("connection reset")

	d := newTestDispatcher(store, ledger, mailer)
	if err := d.RunDispatchPass(now); err != nil {
		t.Fatalf("RunDispatchPass: %v", err)
	}

	if !store.mailings[2].SuccessfullySent {
		t.Error("healthy mailing was not dispatched after a sibling failed")
	}
	if got := ledger.countFor(2); got != 2 {
		t.Errorf("recorded %d attempts for healthy mailing, want 2", got)
	}
}

func TestDispatchPassIgnoresIneligibleMailings(t *testing.T) {
	now := time.Now()
	store := newFakeStore()
	ledger := &fakeLedger{}
	mailer := &fakeMailer{}

	notStarted := testMailing(1, models.MailingStatusCreated, now)
	notStarted.StartAt = now.Add(time.Hour)
	notStarted.EndAt = now.Add(2 * time.Hour)
	store.mailings[1] = notStarted
	store.recipients[1] = testRecipients(1)

	lapsed := testMailing(2, models.MailingStatusRunning, now)
	lapsed.StartAt = now.Add(-2 * time.Hour)
	lapsed.EndAt = now.Add(-time.Hour)
	store.mailings[2] = lapsed
	store.recipients[2] = testRecipients(1)

	disabled := testMailing(3, models.MailingStatusCreated, now)
	disabled.IsActive = false
	store.mailings[3] = disabled
	store.recipients[3] = testRecipients(1)

	// A deactivated owner freezes their mailings even inside the window.
	frozenOwner := testMailing(4, models.MailingStatusCreated, now)
	frozenOwner.UserID = 7
	store.mailings[4] = frozenOwner
	store.recipients[4] = testRecipients(1)
	store.inactiveOwners[7] = true

	d := newTestDispatcher(store, ledger, mailer)
	if err := d.RunDispatchPass(now); err != nil {
		t.Fatalf("RunDispatchPass: %v", err)
	}

	if len(mailer.sent) != 0 {
		t.Errorf("sent %d emails, want 0 for ineligible mailings", len(mailer.sent))
	}
	if len(ledger.attempts) != 0 {
		t.Errorf("recorded %d attempts, want 0", len(ledger.attempts))
	}
	for id, m := range store.mailings {
		if m.Status != models.MailingStatusCreated && id != 2 {
			t.Errorf("mailing %d status = %q, want created", id, m.Status)
		}
	}
}

func TestDispatchPassPropagatesSelectionError(t *testing.T) {
	store := newFakeStore()
	store.dueErr = errors.New("db down")

	d := newTestDispatcher(store, &fakeLedger{}, &fakeMailer{})
	if err := d.RunDispatchPass(time.Now()); err == nil {
		t.Fatal("expected error when selection fails")
	}
}

func TestSendMailingRejectsIneligibleMailings(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		mutate  func(*models.Mailing)
		wantErr error
	}{
		{"disabled", func(m *models.Mailing) { m.IsActive = false }, ErrMailingDisabled},
		{"completed", func(m *models.Mailing) { m.Status = models.MailingStatusCompleted }, ErrMailingCompleted},
		{"already sent", func(m *models.Mailing) { m.SuccessfullySent = true }, ErrMailingAlreadySent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			mailing := testMailing(1, models.MailingStatusCreated, now)
			tt.mutate(mailing)
			store.mailings[1] = mailing
			store.recipients[1] = testRecipients(1)

			d := newTestDispatcher(store, &fakeLedger{}, &fakeMailer{})
			_, err := d.SendMailing(mailing, models.TriggerManual)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSendMailingCompletesEmptyMailing(t *testing.T) {
	now := time.Now()
	store := newFakeStore()
	mailing := testMailing(1, models.MailingStatusCreated, now)
	store.mailings[1] = mailing

	d := newTestDispatcher(store, &fakeLedger{}, &fakeMailer{})
	_, err := d.SendMailing(mailing, models.TriggerManual)
	if !errors.Is(err, ErrNoRecipients) {
		t.Fatalf("err = %v, want ErrNoRecipients", err)
	}
	if got := store.mailings[1].Status; got != models.MailingStatusCompleted {
		t.Errorf("status = %q, want completed", got)
	}
}

func TestSendMailingFullSuccessCompletesImmediately(t *testing.T) {
	now := time.Now()
	store := newFakeStore()
	ledger := &fakeLedger{}
	mailer := &fakeMailer{}

	mailing := testMailing(1, models.MailingStatusCreated, now)
	store.mailings[1] = mailing
	store.recipients[1] = testRecipients(2)

	d := newTestDispatcher(store, ledger, mailer)
	report, err := d.SendMailing(mailing, models.TriggerManual)
	if err != nil {
		t.Fatalf("SendMailing: %v", err)
	}

	if report.SuccessCount != 2 || report.FailureCount != 0 {
		t.Errorf("report = %d/%d, want 2/0", report.SuccessCount, report.FailureCount)
	}
	if got := store.mailings[1].Status; got != models.MailingStatusCompleted {
		t.Errorf("status = %q, want completed", got)
	}
	if !store.mailings[1].SuccessfullySent {
		t.Error("mailing not marked successfully sent")
	}
	for _, a := range ledger.attempts {
		if a.TriggerType != models.TriggerManual {
			t.Errorf("trigger = %q, want manual", a.TriggerType)
		}
	}
}

func TestSendMailingPartialFailureStaysRunning(t *testing.T) {
	now := time.Now()
	store := newFakeStore()
	ledger := &fakeLedger{}
	longReason := strings.Repeat("x", 500)
	mailer := &fakeMailer{failFor: map[string]error{
		"user2@example.com": errors.New(longReason),
	}}

	mailing := testMailing(1, models.MailingStatusCreated, now)
	store.mailings[1] = mailing
	store.recipients[1] = testRecipients(2)

	d := newTestDispatcher(store, ledger, mailer)
	report, err := d.SendMailing(mailing, models.TriggerManual)
	if err != nil {
		t.Fatalf("SendMailing: %v", err)
	}

	if report.SuccessCount != 1 || report.FailureCount != 1 {
		t.Errorf("report = %d/%d, want 1/1", report.SuccessCount, report.FailureCount)
	}
	if len(report.Failures) != 1 {
		t.Fatalf("report holds %d failures, want 1", len(report.Failures))
	}
	if got := len(report.Failures[0].Reason); got > serverResponseLimit+3 {
		t.Errorf("failure reason is %d chars, want truncated to %d", got, serverResponseLimit)
	}
	if got := store.mailings[1].Status; got != models.MailingStatusRunning {
		t.Errorf("status = %q, want running", got)
	}
	if store.mailings[1].SuccessfullySent {
		t.Error("mailing marked sent despite a failure")
	}
}

func TestResetScopesIdempotencyToNewRun(t *testing.T) {
	now := time.Now()
	store := newFakeStore()
	ledger := &fakeLedger{}
	mailer := &fakeMailer{}

	store.mailings[1] = testMailing(1, models.MailingStatusCreated, now)
	store.recipients[1] = testRecipients(3)

	d := newTestDispatcher(store, ledger, mailer)
	if err := d.RunDispatchPass(now); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	if got := ledger.countFor(1); got != 3 {
		t.Fatalf("first cycle recorded %d attempts, want 3", got)
	}

	if err := d.ResetMailing(1); err != nil {
		t.Fatalf("ResetMailing: %v", err)
	}

	m := store.mailings[1]
	if m.Status != models.MailingStatusCreated || m.SuccessfullySent || m.CurrentRun != 2 {
		t.Fatalf("after reset: status=%q sent=%t run=%d, want created/false/2",
			m.Status, m.SuccessfullySent, m.CurrentRun)
	}

	// Old-run successes must not satisfy the new run.
	mailer.sent = nil
	if err := d.RunDispatchPass(now); err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if len(mailer.sent) != 3 {
		t.Errorf("second cycle sent %d emails, want 3", len(mailer.sent))
	}
	// History from the first run stays in the ledger.
	if got := ledger.countFor(1); got != 6 {
		t.Errorf("ledger holds %d attempts, want 6", got)
	}
	for _, a := range ledger.attempts[3:] {
		if a.RunNumber != 2 {
			t.Errorf("new attempt has run %d, want 2", a.RunNumber)
		}
	}
}

func TestCompleteFinishedClosesExpiredAndFullySent(t *testing.T) {
	now := time.Now()
	store := newFakeStore()

	expired := testMailing(1, models.MailingStatusRunning, now)
	expired.EndAt = now.Add(-time.Minute)
	store.mailings[1] = expired

	sent := testMailing(2, models.MailingStatusRunning, now)
	sent.SuccessfullySent = true
	store.mailings[2] = sent

	open := testMailing(3, models.MailingStatusRunning, now)
	store.mailings[3] = open

	d := newTestDispatcher(store, &fakeLedger{}, &fakeMailer{})
	if err := d.CompleteFinished(now); err != nil {
		t.Fatalf("CompleteFinished: %v", err)
	}

	if got := store.mailings[1].Status; got != models.MailingStatusCompleted {
		t.Errorf("expired mailing status = %q, want completed", got)
	}
	if got := store.mailings[2].Status; got != models.MailingStatusCompleted {
		t.Errorf("fully sent mailing status = %q, want completed", got)
	}
	if got := store.mailings[3].Status; got != models.MailingStatusRunning {
		t.Errorf("open mailing status = %q, want running", got)
	}
}
