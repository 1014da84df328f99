package services

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"applypilot/utils"
)

// Verdict is the verifier's read of the post-submit page.
type Verdict string

const (
	VerdictConfirmed Verdict = "confirmed"
	VerdictRejected  Verdict = "rejected"
	VerdictAmbiguous Verdict = "ambiguous"
)

var successPhrases = []string{
	"thank you for applying",
	"thank you for your application",
	"application has been received",
	"application has been submitted",
	"application submitted",
	"application received",
	"application complete",
	"successfully submitted",
	"we have received your application",
	"your application is now complete",
	"you're all set",
}

var successURLKeywords = []string{
	"/success",
	"/confirmation",
	"/thank-you",
	"/complete",
}

var successTitleKeywords = []string{
	"thank you",
	"submitted",
	"confirmation",
	"received",
	"success",
}

// validationSelectors are where ATS pages surface field errors.
var validationSelectors = []string{
	"[role='alert']",
	".error-message",
	".field-error",
	".validation-error",
	"[class*='error']",
}

// validationKeywords keep hidden error templates from counting: only a
// banner that actually talks like a form error negates the submit.
var validationKeywords = []string{
	"is required",
	"required field",
	"please fill",
	"please enter",
	"please select",
	"please complete",
	"invalid",
	"must be",
	"cannot be blank",
	"is missing",
}

var closedPostingPhrases = []string{
	"no longer open",
	"position has been filled",
	"no longer accepting applications",
	"job has expired",
	"this job is no longer available",
	"this posting has closed",
}

// SubmissionVerifier reads the rendered page after a submit and decides
// whether the application actually went through.
type SubmissionVerifier struct {
	logger *utils.Logger
}

func NewSubmissionVerifier() *SubmissionVerifier {
	return &SubmissionVerifier{logger: utils.GlobalLogger.Named("verifier")}
}

// Verify scans the post-submit page. Validation banners override any
// success text: a page can thank you and still be holding the form.
func (v *SubmissionVerifier) Verify(pageURL, pageTitle, html string) (Verdict, string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return VerdictAmbiguous, fmt.Sprintf("could not parse page: %v", err)
	}

	if banner, found := v.validationBanner(doc); found {
		v.logger.Info("submit rejected by form validation", map[string]interface{}{"banner": banner})
		return VerdictRejected, banner
	}

	bodyText := strings.ToLower(normalizeSpace(doc.Find("body").Text()))
	for _, phrase := range successPhrases {
		if strings.Contains(bodyText, phrase) {
			return VerdictConfirmed, fmt.Sprintf("page says %q", phrase)
		}
	}

	urlLower := strings.ToLower(pageURL)
	for _, keyword := range successURLKeywords {
		if strings.Contains(urlLower, keyword) {
			return VerdictConfirmed, fmt.Sprintf("redirected to %s page", keyword)
		}
	}

	titleLower := strings.ToLower(pageTitle)
	for _, keyword := range successTitleKeywords {
		if strings.Contains(titleLower, keyword) {
			return VerdictConfirmed, fmt.Sprintf("page title says %q", keyword)
		}
	}

	return VerdictAmbiguous, "no confirmation indicators found"
}

// PostingClosed reports whether the page says the job is gone. Checked
// before any filling so dead postings fail fast.
func (v *SubmissionVerifier) PostingClosed(html string) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", false
	}

	bodyText := strings.ToLower(normalizeSpace(doc.Find("body").Text()))
	for _, phrase := range closedPostingPhrases {
		if strings.Contains(bodyText, phrase) {
			return phrase, true
		}
	}
	return "", false
}

func (v *SubmissionVerifier) validationBanner(doc *goquery.Document) (string, bool) {
	for _, selector := range validationSelectors {
		var banner string
		doc.Find(selector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			text := normalizeSpace(sel.Text())
			if text == "" {
				return true
			}
			lower := strings.ToLower(text)
			for _, keyword := range validationKeywords {
				if strings.Contains(lower, keyword) {
					if len(text) > 200 {
						text = text[:200]
					}
					banner = text
					return false
				}
			}
			return true
		})
		if banner != "" {
			return banner, true
		}
	}
	return "", false
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
