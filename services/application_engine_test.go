package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"google.golang.org/api/gmail/v1"

	"applypilot/config"
	"applypilot/models"
)

// scriptedSession plays back a canned page so engine runs need no
// browser process.
type scriptedSession struct {
	navigateErr  error
	preHTML      string
	postHTML     string
	postURL      string
	postTitle    string
	inventory    *FormFieldInventory
	analyzeErr   error
	analyzePanic bool

	// challenges holds one entry per DetectCaptcha call; nil means the
	// scan found nothing.
	challenges  []*CaptchaChallenge
	detectCalls int

	writeErr    map[int]error
	flakyFields map[int]int

	submitDisabled bool
	submitErr      error

	currentURL string
	submitted  bool
	closed     bool
	writes     []FieldAssignment
	injected   []string
}

func (s *scriptedSession) Navigate(jobURL string) error {
	if s.navigateErr != nil {
		return s.navigateErr
	}
	s.currentURL = jobURL
	return nil
}

func (s *scriptedSession) PageURL() string {
	if s.submitted && s.postURL != "" {
		return s.postURL
	}
	return s.currentURL
}

func (s *scriptedSession) PageTitle() string {
	if s.submitted {
		return s.postTitle
	}
	return ""
}

func (s *scriptedSession) HTML() (string, error) {
	if s.submitted {
		return s.postHTML, nil
	}
	return s.preHTML, nil
}

func (s *scriptedSession) Analyze(jobURL string) (*FormFieldInventory, error) {
	if s.analyzePanic {
		panic("browser process crashed")
	}
	if s.analyzeErr != nil {
		return nil, s.analyzeErr
	}
	if s.inventory == nil {
		return &FormFieldInventory{JobURL: jobURL}, nil
	}
	return s.inventory, nil
}

func (s *scriptedSession) WriteField(field FieldDescriptor, assignment FieldAssignment) error {
	if err := s.writeErr[field.Index]; err != nil {
		return err
	}
	if s.flakyFields[field.Index] > 0 {
		s.flakyFields[field.Index]--
		return errors.New("element was detached from the DOM")
	}
	s.writes = append(s.writes, assignment)
	return nil
}

func (s *scriptedSession) DetectCaptcha() (*CaptchaChallenge, bool) {
	call := s.detectCalls
	s.detectCalls++
	if call < len(s.challenges) && s.challenges[call] != nil {
		return s.challenges[call], true
	}
	return nil, false
}

func (s *scriptedSession) InjectCaptchaToken(challenge *CaptchaChallenge, token string) error {
	s.injected = append(s.injected, token)
	return nil
}

func (s *scriptedSession) CaptureChallenge(challenge *CaptchaChallenge) ([]byte, error) {
	return []byte("challenge-png"), nil
}

func (s *scriptedSession) CapturePage() ([]byte, error) {
	return []byte("page-png"), nil
}

func (s *scriptedSession) Submit() (bool, error) {
	if s.submitErr != nil {
		return false, s.submitErr
	}
	if s.submitDisabled {
		return false, nil
	}
	s.submitted = true
	return true, nil
}

func (s *scriptedSession) Close() {
	s.closed = true
}

type singleSessionOpener struct {
	session BrowserSession
	err     error
	opened  int
}

func (o *singleSessionOpener) Open() (BrowserSession, error) {
	o.opened++
	if o.err != nil {
		return nil, o.err
	}
	return o.session, nil
}

type fakeInbox struct {
	enabled bool
	msgs    []*gmail.Message
	err     error
	queries []string
}

func (f *fakeInbox) Enabled() bool { return f.enabled }

func (f *fakeInbox) FetchRecent(ctx context.Context, query string, max int64) ([]*gmail.Message, error) {
	f.queries = append(f.queries, query)
	return f.msgs, f.err
}

const openPostingHTML = `<html><body>
	<h1>Senior Go Engineer</h1>
	<form><input type="text" name="first_name"></form>
</body></html>`

const confirmationHTML = `<html><body>
	<main>Thank you for applying! Your application has been received.</main>
</body></html>`

const neutralHTML = `<html><body><p>We are processing your request.</p></body></html>`

func applicationFormInventory() *FormFieldInventory {
	controls := []rawControl{
		{DomIndex: 0, Tag: "input", Type: "text", Name: "first_name", LabelFor: "First Name", Required: true, Visible: true},
		{DomIndex: 1, Tag: "input", Type: "text", Name: "last_name", LabelFor: "Last Name", Required: true, Visible: true},
		{DomIndex: 2, Tag: "input", Type: "email", Name: "email", LabelFor: "Email Address", Required: true, Visible: true},
		{DomIndex: 3, Tag: "input", Type: "tel", Name: "phone", LabelFor: "Phone", Visible: true},
	}
	return NewFormAnalyzer().BuildInventory("https://boards.greenhouse.io/acme/jobs/1", controls)
}

func engineProfile() config.ApplicantProfile {
	return config.ApplicantProfile{
		FirstName:        "Ada",
		LastName:         "Lovelace",
		Email:            "ada@example.com",
		Phone:            "555-0100",
		AuthorizedToWork: true,
	}
}

func engineJob() *models.Job {
	return &models.Job{
		ID:      "job-1",
		URL:     "https://boards.greenhouse.io/acme/jobs/1",
		Company: "Acme",
		Title:   "Senior Go Engineer",
	}
}

// quietResolver never gets a challenge in the happy paths; if it ever
// does, the 50ms assistant window keeps the test fast.
func quietResolver() *CaptchaResolver {
	return NewCaptchaResolver(nil, nil, NewHumanAssistant(50*time.Millisecond), nil, nil, nil)
}

func newTestEngine(session *scriptedSession, resolver *CaptchaResolver, inbox ConfirmationChecker) (*ApplicationEngine, *singleSessionOpener) {
	opener := &singleSessionOpener{session: session}
	engine := NewApplicationEngine(opener, NewFieldMapper(), NewSubmissionVerifier(), resolver, inbox, nil)
	return engine, opener
}

func TestApplicationEngine_SubmitsCleanApplication(t *testing.T) {
	session := &scriptedSession{
		preHTML:   openPostingHTML,
		postHTML:  confirmationHTML,
		inventory: applicationFormInventory(),
	}
	engine, _ := newTestEngine(session, quietResolver(), nil)

	attempt := engine.Apply(context.Background(), engineJob(), engineProfile())

	assert.Equal(t, models.OutcomeSubmitted, attempt.Outcome)
	assert.Empty(t, attempt.FailureReason)
	assert.Equal(t, 4, attempt.FieldsFilled)
	assert.Equal(t, 4, attempt.FieldsTotal)
	assert.Len(t, session.writes, 4)
	assert.Equal(t, 2, session.detectCalls, "captcha scan before filling and before submit")
	assert.True(t, session.closed)
	assert.False(t, attempt.FinishedAt.Before(attempt.StartedAt))
}

func TestApplicationEngine_NavigationFailure(t *testing.T) {
	session := &scriptedSession{
		navigateErr: errors.New("could not navigate to URL: net::ERR_HTTP_RESPONSE_CODE_FAILURE 404"),
	}
	engine, _ := newTestEngine(session, quietResolver(), nil)

	attempt := engine.Apply(context.Background(), engineJob(), engineProfile())

	assert.Equal(t, models.OutcomeFailed, attempt.Outcome)
	assert.Equal(t, ReasonNavigationError, attempt.FailureReason)
	assert.Contains(t, attempt.FailureDetail, "404")
	assert.Equal(t, 0, attempt.FieldsTotal)
	assert.True(t, session.closed)
}

func TestApplicationEngine_SessionOpenFailure(t *testing.T) {
	opener := &singleSessionOpener{err: errors.New("could not launch browser: executable not found")}
	engine := NewApplicationEngine(opener, NewFieldMapper(), NewSubmissionVerifier(), quietResolver(), nil, nil)

	attempt := engine.Apply(context.Background(), engineJob(), engineProfile())

	assert.Equal(t, models.OutcomeFailed, attempt.Outcome)
	assert.Equal(t, ReasonNavigationError, attempt.FailureReason)
}

func TestApplicationEngine_ClosedPostingShortCircuits(t *testing.T) {
	session := &scriptedSession{
		preHTML:   `<html><body><p>This position is no longer accepting applications.</p></body></html>`,
		inventory: applicationFormInventory(),
	}
	engine, _ := newTestEngine(session, quietResolver(), nil)

	attempt := engine.Apply(context.Background(), engineJob(), engineProfile())

	assert.Equal(t, models.OutcomeFailed, attempt.Outcome)
	assert.Equal(t, ReasonNoFormDetected, attempt.FailureReason)
	assert.Contains(t, attempt.FailureDetail, "posting closed")
	assert.Empty(t, session.writes, "a dead posting must not be filled")
	assert.Equal(t, 0, session.detectCalls)
}

func TestApplicationEngine_EmptyInventoryIsNoForm(t *testing.T) {
	session := &scriptedSession{preHTML: neutralHTML}
	engine, _ := newTestEngine(session, quietResolver(), nil)

	attempt := engine.Apply(context.Background(), engineJob(), engineProfile())

	assert.Equal(t, models.OutcomeFailed, attempt.Outcome)
	assert.Equal(t, ReasonNoFormDetected, attempt.FailureReason)
	assert.Equal(t, 0, attempt.FieldsTotal)
}

func TestApplicationEngine_CaptchaSkipAbortsBeforeFilling(t *testing.T) {
	assistant := NewHumanAssistant(2 * time.Second)
	messenger := &fakeEscalationMessenger{assistant: assistant, decision: DecisionSkipped}
	resolver := NewCaptchaResolver(nil, nil, assistant, messenger, nil, nil)

	session := &scriptedSession{
		preHTML:    openPostingHTML,
		inventory:  applicationFormInventory(),
		challenges: []*CaptchaChallenge{testChallenge(CaptchaRecaptchaV2)},
	}
	engine, _ := newTestEngine(session, resolver, nil)

	attempt := engine.Apply(context.Background(), engineJob(), engineProfile())

	assert.Equal(t, models.OutcomeCaptchaUnresolved, attempt.Outcome)
	assert.Equal(t, ReasonCaptchaUnresolved, attempt.FailureReason)
	assert.Empty(t, session.writes, "an unresolved challenge stops the fill")
	assert.Equal(t, 1, messenger.sent)
}

func TestApplicationEngine_PreSubmitCaptchaSolvedAndInjected(t *testing.T) {
	solver := &fakeSolver{token: "tok-99"}
	resolver := NewCaptchaResolver(solver, nil, NewHumanAssistant(50*time.Millisecond), nil, nil, nil)

	session := &scriptedSession{
		preHTML:   openPostingHTML,
		postHTML:  confirmationHTML,
		inventory: applicationFormInventory(),
		// Nothing on the first scan; the widget appears once the form
		// is touched.
		challenges: []*CaptchaChallenge{nil, testChallenge(CaptchaRecaptchaV2)},
	}
	engine, _ := newTestEngine(session, resolver, nil)

	attempt := engine.Apply(context.Background(), engineJob(), engineProfile())

	assert.Equal(t, models.OutcomeSubmitted, attempt.Outcome)
	assert.Equal(t, 4, attempt.FieldsFilled)
	assert.Equal(t, []string{"tok-99"}, session.injected)
	assert.Equal(t, 1, solver.called)
}

func TestApplicationEngine_FieldFailuresAreNonFatal(t *testing.T) {
	oldDelay := fieldRetryDelay
	fieldRetryDelay = 0
	defer func() { fieldRetryDelay = oldDelay }()

	inventory := applicationFormInventory()
	session := &scriptedSession{
		preHTML:   openPostingHTML,
		postHTML:  confirmationHTML,
		inventory: inventory,
		writeErr:  map[int]error{3: errors.New("element is not attached")},
	}
	engine, _ := newTestEngine(session, quietResolver(), nil)

	attempt := engine.Apply(context.Background(), engineJob(), engineProfile())

	assert.Equal(t, models.OutcomeSubmitted, attempt.Outcome)
	assert.Equal(t, 3, attempt.FieldsFilled)
	assert.Equal(t, []string{"Phone"}, attempt.FailedFields)
}

func TestApplicationEngine_AllWritesFailingFailsAttempt(t *testing.T) {
	oldDelay := fieldRetryDelay
	fieldRetryDelay = 0
	defer func() { fieldRetryDelay = oldDelay }()

	broken := errors.New("page frame was detached")
	session := &scriptedSession{
		preHTML:   openPostingHTML,
		inventory: applicationFormInventory(),
		writeErr:  map[int]error{0: broken, 1: broken, 2: broken, 3: broken},
	}
	engine, _ := newTestEngine(session, quietResolver(), nil)

	attempt := engine.Apply(context.Background(), engineJob(), engineProfile())

	assert.Equal(t, models.OutcomeFailed, attempt.Outcome)
	assert.Equal(t, ReasonFieldWriteError, attempt.FailureReason)
	assert.Equal(t, 0, attempt.FieldsFilled)
	assert.Len(t, attempt.FailedFields, 4)
}

func TestApplicationEngine_TransientWriteFailureRetries(t *testing.T) {
	oldDelay := fieldRetryDelay
	fieldRetryDelay = 0
	defer func() { fieldRetryDelay = oldDelay }()

	session := &scriptedSession{
		preHTML:     openPostingHTML,
		postHTML:    confirmationHTML,
		inventory:   applicationFormInventory(),
		flakyFields: map[int]int{0: 2},
	}
	engine, _ := newTestEngine(session, quietResolver(), nil)

	attempt := engine.Apply(context.Background(), engineJob(), engineProfile())

	assert.Equal(t, models.OutcomeSubmitted, attempt.Outcome)
	assert.Equal(t, 4, attempt.FieldsFilled)
	assert.Empty(t, attempt.FailedFields)
}

func TestApplicationEngine_PanicBecomesUnexpectedError(t *testing.T) {
	session := &scriptedSession{
		preHTML:      openPostingHTML,
		analyzePanic: true,
	}
	engine, _ := newTestEngine(session, quietResolver(), nil)

	attempt := engine.Apply(context.Background(), engineJob(), engineProfile())

	assert.Equal(t, models.OutcomeFailed, attempt.Outcome)
	assert.Equal(t, ReasonUnexpected, attempt.FailureReason)
	assert.Contains(t, attempt.FailureDetail, "panic")
	assert.False(t, attempt.FinishedAt.IsZero())
	assert.True(t, session.closed, "session must be released even on panic")
}

func TestApplicationEngine_AmbiguousWithoutInboxFails(t *testing.T) {
	session := &scriptedSession{
		preHTML:   openPostingHTML,
		postHTML:  neutralHTML,
		inventory: applicationFormInventory(),
	}
	engine, _ := newTestEngine(session, quietResolver(), &fakeInbox{enabled: false})

	attempt := engine.Apply(context.Background(), engineJob(), engineProfile())

	assert.Equal(t, models.OutcomeFailed, attempt.Outcome)
	assert.Equal(t, ReasonVerificationAmbiguous, attempt.FailureReason)
}

func TestApplicationEngine_AmbiguousConfirmedByInboxReceipt(t *testing.T) {
	inbox := &fakeInbox{
		enabled: true,
		msgs: []*gmail.Message{
			receiptMessage("Acme Recruiting <no-reply@acme.com>", "Thank you for applying to Acme"),
		},
	}
	session := &scriptedSession{
		preHTML:   openPostingHTML,
		postHTML:  neutralHTML,
		inventory: applicationFormInventory(),
	}
	engine, _ := newTestEngine(session, quietResolver(), inbox)

	attempt := engine.Apply(context.Background(), engineJob(), engineProfile())

	assert.Equal(t, models.OutcomeSubmitted, attempt.Outcome)
	assert.Empty(t, attempt.FailureReason)
	assert.Equal(t, []string{ConfirmationQuery}, inbox.queries)
}

func TestApplicationEngine_DisabledSubmitStillVerifies(t *testing.T) {
	session := &scriptedSession{
		preHTML:        openPostingHTML,
		inventory:      applicationFormInventory(),
		submitDisabled: true,
	}
	engine, _ := newTestEngine(session, quietResolver(), nil)

	attempt := engine.Apply(context.Background(), engineJob(), engineProfile())

	assert.Equal(t, models.OutcomeFailed, attempt.Outcome)
	assert.Equal(t, ReasonVerificationAmbiguous, attempt.FailureReason)
	assert.Contains(t, attempt.Warnings, "submit control was disabled")
}

func TestApplicationEngine_ValidationBannerFailsAttempt(t *testing.T) {
	session := &scriptedSession{
		preHTML: openPostingHTML,
		postHTML: `<html><body>
			<div role="alert">Email address is required</div>
			<footer>Thank you for applying through our careers site.</footer>
		</body></html>`,
		inventory: applicationFormInventory(),
	}
	engine, _ := newTestEngine(session, quietResolver(), nil)

	attempt := engine.Apply(context.Background(), engineJob(), engineProfile())

	assert.Equal(t, models.OutcomeFailed, attempt.Outcome)
	assert.Equal(t, ReasonFieldWriteError, attempt.FailureReason)
	assert.Contains(t, attempt.FailureDetail, "form rejected the submission")
	assert.Contains(t, attempt.FailureDetail, "Email address is required")
}
