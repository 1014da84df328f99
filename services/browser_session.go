package services

import (
	"encoding/json"
	"fmt"

	"github.com/playwright-community/playwright-go"

	"applypilot/config"
	"applypilot/utils"
)

// BrowserSession is the engine's view of one live page. One session is
// exclusively owned by one attempt and closed on every exit path.
type BrowserSession interface {
	Navigate(jobURL string) error
	PageURL() string
	PageTitle() string
	HTML() (string, error)
	Analyze(jobURL string) (*FormFieldInventory, error)
	WriteField(field FieldDescriptor, assignment FieldAssignment) error
	DetectCaptcha() (*CaptchaChallenge, bool)
	InjectCaptchaToken(challenge *CaptchaChallenge, token string) error
	CaptureChallenge(challenge *CaptchaChallenge) ([]byte, error)
	CapturePage() ([]byte, error)
	Submit() (bool, error)
	Close()
}

// SessionFactory owns the playwright install and the shared browser
// process; sessions are cheap per-attempt contexts on top of it.
type SessionFactory struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	logger  *utils.Logger
}

func NewSessionFactory(cfg config.AutomationConfig) (*SessionFactory, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("could not start playwright: %v", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(cfg.Headless),
	})
	if err != nil {
		return nil, fmt.Errorf("could not launch browser: %v", err)
	}

	return &SessionFactory{
		pw:      pw,
		browser: browser,
		logger:  utils.GlobalLogger.Named("browser"),
	}, nil
}

// Open creates a fresh, isolated session for one attempt.
func (f *SessionFactory) Open() (BrowserSession, error) {
	context, err := f.browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  1920,
			Height: 1080,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("could not create context: %v", err)
	}

	page, err := context.NewPage()
	if err != nil {
		context.Close()
		return nil, fmt.Errorf("could not create page: %v", err)
	}

	return &ApplicationSession{
		context:  context,
		page:     page,
		analyzer: NewFormAnalyzer(),
		logger:   f.logger,
	}, nil
}

func (f *SessionFactory) Close() error {
	if f.browser != nil {
		if err := f.browser.Close(); err != nil {
			f.logger.Warn("error closing browser", map[string]interface{}{"error": err.Error()})
		}
	}
	if f.pw != nil {
		if err := f.pw.Stop(); err != nil {
			f.logger.Warn("error stopping playwright", map[string]interface{}{"error": err.Error()})
		}
	}
	return nil
}

// ApplicationSession drives one page through an application attempt.
type ApplicationSession struct {
	context  playwright.BrowserContext
	page     playwright.Page
	analyzer *FormAnalyzer
	logger   *utils.Logger
}

func (s *ApplicationSession) Navigate(jobURL string) error {
	if _, err := s.page.Goto(jobURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
		Timeout:   playwright.Float(60000),
	}); err != nil {
		return fmt.Errorf("could not navigate to URL: %v", err)
	}
	return nil
}

func (s *ApplicationSession) PageURL() string {
	return s.page.URL()
}

func (s *ApplicationSession) PageTitle() string {
	title, _ := s.page.Title()
	return title
}

func (s *ApplicationSession) HTML() (string, error) {
	return s.page.Content()
}

// Analyze runs the collect script in the page and builds the field
// inventory. Controls are tagged in the DOM as a side effect, which is
// what lets WriteField address them later.
func (s *ApplicationSession) Analyze(jobURL string) (*FormFieldInventory, error) {
	raw, err := s.page.Evaluate(collectControlsScript)
	if err != nil {
		return nil, fmt.Errorf("could not scan page controls: %v", err)
	}

	// Evaluate hands back untyped maps; a JSON round trip gets them
	// into rawControl.
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("could not encode page controls: %v", err)
	}
	var controls []rawControl
	if err := json.Unmarshal(encoded, &controls); err != nil {
		return nil, fmt.Errorf("could not decode page controls: %v", err)
	}

	inventory := s.analyzer.BuildInventory(jobURL, controls)
	s.logger.Info("page analyzed", map[string]interface{}{
		"url": jobURL, "fields": inventory.Len(), "required": inventory.RequiredCount(),
	})
	return inventory, nil
}

// WriteField performs one assignment against the live page.
func (s *ApplicationSession) WriteField(field FieldDescriptor, assignment FieldAssignment) error {
	if len(field.domIndexes) == 0 {
		return fmt.Errorf("field %d has no element address", field.Index)
	}
	locator := s.page.Locator(fieldSelector(field.domIndexes[0]))

	switch field.Kind {
	case FieldText:
		if err := locator.Fill(assignment.Value); err != nil {
			return fmt.Errorf("could not fill %s: %v", describeField(field), err)
		}

	case FieldSelect:
		if _, err := locator.SelectOption(playwright.SelectOptionValues{
			Labels: &[]string{assignment.Value},
		}); err != nil {
			return fmt.Errorf("could not select %q on %s: %v", assignment.Value, describeField(field), err)
		}

	case FieldRadioGroup:
		return s.checkRadioOption(field, assignment.Value)

	case FieldCheckbox:
		if assignment.Check {
			if err := locator.Check(); err != nil {
				return fmt.Errorf("could not check %s: %v", describeField(field), err)
			}
		} else if err := locator.Uncheck(); err != nil {
			return fmt.Errorf("could not uncheck %s: %v", describeField(field), err)
		}

	case FieldFile:
		if err := locator.SetInputFiles(assignment.FilePath); err != nil {
			return fmt.Errorf("could not upload to %s: %v", describeField(field), err)
		}

	default:
		return fmt.Errorf("unknown field kind %q", field.Kind)
	}
	return nil
}

func (s *ApplicationSession) checkRadioOption(field FieldDescriptor, value string) error {
	for i, option := range field.Options {
		if option != value || i >= len(field.domIndexes) {
			continue
		}
		radio := s.page.Locator(fieldSelector(field.domIndexes[i]))
		if err := radio.Check(); err != nil {
			// Styled radio widgets hide the input; a direct DOM click
			// still lands.
			if _, clickErr := radio.Evaluate("el => el.click()", nil); clickErr != nil {
				return fmt.Errorf("could not check %s: %v", describeField(field), err)
			}
		}
		return nil
	}
	return fmt.Errorf("option %q not present on %s", value, describeField(field))
}

// DetectCaptcha scans the page for challenge widgets.
func (s *ApplicationSession) DetectCaptcha() (*CaptchaChallenge, bool) {
	raw, err := s.page.Evaluate(detectCaptchaScript)
	if err != nil {
		s.logger.Warn("captcha scan failed", map[string]interface{}{"error": err.Error()})
		return nil, false
	}

	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, false
	}
	var signals captchaSignals
	if err := json.Unmarshal(encoded, &signals); err != nil {
		return nil, false
	}

	return ClassifyCaptcha(s.page.URL(), signals)
}

// tokenFieldSelectors lists where each provider expects its response
// token.
func tokenFieldSelectors(captchaType CaptchaType) []string {
	switch captchaType {
	case CaptchaRecaptchaV2, CaptchaRecaptchaV3:
		return []string{"textarea[name='g-recaptcha-response']", "#g-recaptcha-response"}
	case CaptchaHCaptcha:
		return []string{"textarea[name='h-captcha-response']", "textarea[name='g-recaptcha-response']"}
	case CaptchaTurnstile:
		return []string{"input[name='cf-turnstile-response']"}
	case CaptchaFuncaptcha:
		return []string{"input[name='fc-token']", "input[name='verification-token']"}
	}
	return nil
}

// InjectCaptchaToken writes a solver token into the provider's response
// fields and fires change events so validation sees it.
func (s *ApplicationSession) InjectCaptchaToken(challenge *CaptchaChallenge, token string) error {
	selectors := tokenFieldSelectors(challenge.Type)
	if len(selectors) == 0 {
		return fmt.Errorf("no token field known for %s", challenge.Type)
	}

	script := `(arg) => {
		let written = 0;
		for (const sel of arg.selectors) {
			document.querySelectorAll(sel).forEach((el) => {
				el.style.display = 'block';
				el.value = arg.token;
				el.dispatchEvent(new Event('input', { bubbles: true }));
				el.dispatchEvent(new Event('change', { bubbles: true }));
				written++;
			});
		}
		return written;
	}`
	written, err := s.page.Evaluate(script, map[string]interface{}{
		"token":     token,
		"selectors": selectors,
	})
	if err != nil {
		return fmt.Errorf("could not inject captcha token: %v", err)
	}
	if count, ok := written.(int); ok && count == 0 {
		return fmt.Errorf("no %s token field on page", challenge.Type)
	}

	s.logger.Info("captcha token injected", map[string]interface{}{"type": challenge.Type})
	return nil
}

// CaptureChallenge screenshots the captcha widget, falling back to the
// visible viewport. Escalation messages never need the full page.
func (s *ApplicationSession) CaptureChallenge(challenge *CaptchaChallenge) ([]byte, error) {
	if challenge != nil && challenge.Selector != "" {
		element := s.page.Locator(challenge.Selector).First()
		if visible, _ := element.IsVisible(); visible {
			if shot, err := element.Screenshot(); err == nil {
				return shot, nil
			}
		}
	}
	return s.page.Screenshot()
}

// CapturePage takes a full-page screenshot for the attempt record.
func (s *ApplicationSession) CapturePage() ([]byte, error) {
	return s.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(true),
	})
}

var submitSelectors = []string{
	"button[type='submit']",
	"input[type='submit']",
	"button:has-text('Submit Application')",
	"button:has-text('Submit')",
	"button:has-text('Apply')",
	"button:has-text('Send Application')",
	"button[class*='submit']",
	"button[id*='submit']",
}

// Submit clicks the submit control. A disabled control is reported as
// not clicked without an error; verification happens either way.
func (s *ApplicationSession) Submit() (bool, error) {
	for _, selector := range submitSelectors {
		button := s.page.Locator(selector).First()
		visible, err := button.IsVisible()
		if err != nil || !visible {
			continue
		}

		if disabled, _ := button.IsDisabled(); disabled {
			s.logger.Warn("submit control is disabled", map[string]interface{}{"selector": selector})
			return false, nil
		}

		if err := button.Click(playwright.LocatorClickOptions{
			Timeout: playwright.Float(10000),
		}); err != nil {
			// Overlays swallow pointer clicks; a DOM click bypasses
			// them.
			if _, jsErr := button.Evaluate("el => el.click()", nil); jsErr != nil {
				continue
			}
		}

		s.settle()
		return true, nil
	}
	return false, fmt.Errorf("no submit control found")
}

// settle waits for the post-click render to quiet down.
func (s *ApplicationSession) settle() {
	if err := s.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: playwright.Float(15000),
	}); err != nil {
		s.page.WaitForTimeout(2000)
	}
}

func (s *ApplicationSession) Close() {
	if err := s.context.Close(); err != nil {
		s.logger.Warn("could not close browser context", map[string]interface{}{"error": err.Error()})
	}
}
