package services

import (
	"regexp"
	"strings"
)

// CaptchaType identifies the challenge family a page presents.
type CaptchaType string

const (
	CaptchaRecaptchaV2 CaptchaType = "recaptcha_v2"
	CaptchaRecaptchaV3 CaptchaType = "recaptcha_v3"
	CaptchaHCaptcha    CaptchaType = "hcaptcha"
	CaptchaFuncaptcha  CaptchaType = "funcaptcha"
	CaptchaTurnstile   CaptchaType = "turnstile"
	CaptchaImage       CaptchaType = "image"
)

// CaptchaChallenge is a challenge found on the page, with enough
// context to solve it or show it to a human.
type CaptchaChallenge struct {
	Type     CaptchaType `json:"type"`
	SiteKey  string      `json:"siteKey,omitempty"`
	PageURL  string      `json:"pageUrl"`
	Selector string      `json:"selector"`

	// ScreenshotKey is filled in when the challenge is escalated.
	ScreenshotKey string `json:"screenshotKey,omitempty"`
}

// captchaSignals mirrors what detectCaptchaScript reports from the page.
type captchaSignals struct {
	FuncaptchaPresent  bool   `json:"funcaptchaPresent"`
	FuncaptchaKey      string `json:"funcaptchaKey"`
	RecaptchaPresent   bool   `json:"recaptchaPresent"`
	RecaptchaKey       string `json:"recaptchaKey"`
	RecaptchaInvisible bool   `json:"recaptchaInvisible"`
	HCaptchaPresent    bool   `json:"hcaptchaPresent"`
	HCaptchaKey        string `json:"hcaptchaKey"`
	TurnstilePresent   bool   `json:"turnstilePresent"`
	TurnstileKey       string `json:"turnstileKey"`
	ImagePresent       bool   `json:"imagePresent"`
}

const detectCaptchaScript = `() => {
	const signals = {
		funcaptchaPresent: false, funcaptchaKey: '',
		recaptchaPresent: false, recaptchaKey: '', recaptchaInvisible: false,
		hcaptchaPresent: false, hcaptchaKey: '',
		turnstilePresent: false, turnstileKey: '',
		imagePresent: false,
	};

	const funcaptchaEl = document.querySelector('#FunCaptcha, #funcaptcha, [data-pkey], iframe[src*="arkoselabs"], iframe[src*="funcaptcha"]');
	if (funcaptchaEl || typeof window.arkose !== 'undefined') {
		signals.funcaptchaPresent = true;
		const keyed = document.querySelector('[data-pkey]');
		if (keyed) signals.funcaptchaKey = keyed.getAttribute('data-pkey') || '';
	}

	const recaptchaEl = document.querySelector('.g-recaptcha, iframe[src*="recaptcha"], [data-sitekey][class*="recaptcha"]');
	if (recaptchaEl || typeof window.grecaptcha !== 'undefined') {
		signals.recaptchaPresent = true;
		const keyed = document.querySelector('.g-recaptcha[data-sitekey], [data-sitekey]');
		if (keyed) signals.recaptchaKey = keyed.getAttribute('data-sitekey') || '';
		const sized = document.querySelector('.g-recaptcha[data-size="invisible"]');
		if (sized || document.querySelector('.grecaptcha-badge')) signals.recaptchaInvisible = true;
	}

	const hcaptchaEl = document.querySelector('.h-captcha, iframe[src*="hcaptcha"]');
	if (hcaptchaEl || typeof window.hcaptcha !== 'undefined') {
		signals.hcaptchaPresent = true;
		const keyed = document.querySelector('.h-captcha[data-sitekey]');
		if (keyed) signals.hcaptchaKey = keyed.getAttribute('data-sitekey') || '';
	}

	const turnstileEl = document.querySelector('.cf-turnstile, iframe[src*="challenges.cloudflare.com"]');
	if (turnstileEl) {
		signals.turnstilePresent = true;
		const keyed = document.querySelector('.cf-turnstile[data-sitekey]');
		if (keyed) signals.turnstileKey = keyed.getAttribute('data-sitekey') || '';
	}

	if (document.querySelector('img[src*="captcha"], img[alt*="captcha" i]')) {
		signals.imagePresent = true;
	}

	return signals;
}`

// captchaSelectors maps each challenge type to the element worth
// screenshotting for the human escalation message.
var captchaSelectors = map[CaptchaType]string{
	CaptchaFuncaptcha:  `#FunCaptcha, #funcaptcha, [data-pkey], iframe[src*="arkoselabs"]`,
	CaptchaRecaptchaV2: `.g-recaptcha, iframe[src*="recaptcha"]`,
	CaptchaRecaptchaV3: `.grecaptcha-badge, .g-recaptcha`,
	CaptchaHCaptcha:    `.h-captcha, iframe[src*="hcaptcha"]`,
	CaptchaTurnstile:   `.cf-turnstile, iframe[src*="challenges.cloudflare.com"]`,
	CaptchaImage:       `img[src*="captcha"]`,
}

var uuidKeyRe = regexp.MustCompile(`^[0-9A-Fa-f]{8}-[0-9A-Fa-f]{4}-[0-9A-Fa-f]{4}-[0-9A-Fa-f]{4}-[0-9A-Fa-f]{12}$`)

// ClassifyCaptcha decides which challenge the page is showing. The
// order matters: LinkedIn serves funcaptcha alongside a decoy recaptcha
// div, so funcaptcha is checked first, and a recaptcha whose site key
// is a UUID is really funcaptcha wearing recaptcha markup.
func ClassifyCaptcha(pageURL string, signals captchaSignals) (*CaptchaChallenge, bool) {
	if signals.FuncaptchaPresent {
		return &CaptchaChallenge{
			Type:     CaptchaFuncaptcha,
			SiteKey:  signals.FuncaptchaKey,
			PageURL:  pageURL,
			Selector: captchaSelectors[CaptchaFuncaptcha],
		}, true
	}

	if signals.RecaptchaPresent {
		if uuidKeyRe.MatchString(strings.TrimSpace(signals.RecaptchaKey)) {
			return &CaptchaChallenge{
				Type:     CaptchaFuncaptcha,
				SiteKey:  signals.RecaptchaKey,
				PageURL:  pageURL,
				Selector: captchaSelectors[CaptchaFuncaptcha],
			}, true
		}
		captchaType := CaptchaRecaptchaV2
		if signals.RecaptchaInvisible {
			captchaType = CaptchaRecaptchaV3
		}
		return &CaptchaChallenge{
			Type:     captchaType,
			SiteKey:  signals.RecaptchaKey,
			PageURL:  pageURL,
			Selector: captchaSelectors[captchaType],
		}, true
	}

	if signals.HCaptchaPresent {
		return &CaptchaChallenge{
			Type:     CaptchaHCaptcha,
			SiteKey:  signals.HCaptchaKey,
			PageURL:  pageURL,
			Selector: captchaSelectors[CaptchaHCaptcha],
		}, true
	}

	if signals.TurnstilePresent {
		return &CaptchaChallenge{
			Type:     CaptchaTurnstile,
			SiteKey:  signals.TurnstileKey,
			PageURL:  pageURL,
			Selector: captchaSelectors[CaptchaTurnstile],
		}, true
	}

	if signals.ImagePresent {
		return &CaptchaChallenge{
			Type:     CaptchaImage,
			PageURL:  pageURL,
			Selector: captchaSelectors[CaptchaImage],
		}, true
	}

	return nil, false
}
