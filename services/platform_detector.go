package services

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ErrInvalidJobURL marks enqueue input the operator can fix, as opposed
// to storage trouble.
var ErrInvalidJobURL = errors.New("invalid job URL")

// PlatformInfo represents the detected job platform
type PlatformInfo struct {
	Slug           string `json:"slug"`
	Name           string `json:"name"`
	Type           string `json:"type"`
	Icon           string `json:"icon"`
	SupportsAuto   bool   `json:"supportsAuto"`
	RequiresManual bool   `json:"requiresManual"`
}

var titleCaser = cases.Title(language.English)

// DetectPlatform analyzes the URL to determine the job platform. Unknown
// hosts come back as a generic platform, not an error, because the form
// analyzer works on any page.
func DetectPlatform(jobURL string) (PlatformInfo, error) {
	parsedURL, err := url.Parse(jobURL)
	if err != nil {
		return PlatformInfo{}, fmt.Errorf("%w: %v", ErrInvalidJobURL, err)
	}

	domain := strings.ToLower(parsedURL.Hostname())
	domain = strings.TrimPrefix(domain, "www.")
	path := strings.ToLower(parsedURL.Path)
	query := parsedURL.RawQuery

	if domain == "boards.greenhouse.io" || strings.Contains(query, "gh_jid") || strings.Contains(path, "/greenhouse/") {
		return PlatformInfo{
			Slug: "greenhouse", Name: "Greenhouse ATS", Type: "company_ats", Icon: "🌱",
			SupportsAuto: true,
		}, nil
	}

	if domain == "jobs.lever.co" || strings.Contains(domain, "lever.co") {
		return PlatformInfo{
			Slug: "lever", Name: "Lever ATS", Type: "company_ats", Icon: "⚡",
			SupportsAuto: true,
		}, nil
	}

	if strings.Contains(domain, "myworkdayjobs.com") || strings.Contains(domain, "workday") {
		return PlatformInfo{
			Slug: "workday", Name: "Workday ATS", Type: "company_ats", Icon: "📊",
			SupportsAuto: true,
		}, nil
	}

	if strings.Contains(domain, "ashbyhq.com") {
		return PlatformInfo{
			Slug: "ashby", Name: "Ashby ATS", Type: "company_ats", Icon: "🧭",
			SupportsAuto: true,
		}, nil
	}

	switch domain {
	case "linkedin.com":
		return PlatformInfo{
			Slug: "linkedin", Name: "LinkedIn", Type: "social", Icon: "💼",
			SupportsAuto: true,
		}, nil
	case "indeed.com":
		return PlatformInfo{
			Slug: "indeed", Name: "Indeed", Type: "job_board", Icon: "🔍",
			SupportsAuto: true,
		}, nil
	case "wellfound.com", "angel.co":
		return PlatformInfo{
			Slug: "wellfound", Name: "Wellfound", Type: "startup", Icon: "🚀",
			SupportsAuto: true,
		}, nil
	}

	// Generic company career page
	if strings.Contains(path, "/careers") || strings.Contains(path, "/jobs") {
		companyName := titleCaser.String(strings.Split(domain, ".")[0])
		return PlatformInfo{
			Slug: "other", Name: fmt.Sprintf("%s Careers", companyName), Type: "company_careers", Icon: "🏢",
			SupportsAuto: true, RequiresManual: true,
		}, nil
	}

	return PlatformInfo{
		Slug: "other", Name: "Unknown Platform", Type: "generic", Icon: "🌐",
		SupportsAuto: true, RequiresManual: true,
	}, nil
}

// CanonicalizeJobURL normalizes a posting URL so the same posting shared
// through different links dedupes to one queue entry. Fragments and
// tracking parameters go away; load-bearing query parameters like gh_jid
// stay.
func CanonicalizeJobURL(jobURL string) (string, error) {
	parsedURL, err := url.Parse(strings.TrimSpace(jobURL))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidJobURL, err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidJobURL, parsedURL.Scheme)
	}

	parsedURL.Scheme = strings.ToLower(parsedURL.Scheme)
	parsedURL.Host = strings.ToLower(parsedURL.Host)
	parsedURL.Fragment = ""

	query := parsedURL.Query()
	for key := range query {
		lower := strings.ToLower(key)
		if strings.HasPrefix(lower, "utm_") || lower == "ref" || lower == "src" || lower == "trk" {
			query.Del(key)
		}
	}
	parsedURL.RawQuery = query.Encode()

	parsedURL.Path = strings.TrimSuffix(parsedURL.Path, "/")

	return parsedURL.String(), nil
}

// ExtractCompanyFromURL guesses the company name from the posting URL.
func ExtractCompanyFromURL(jobURL string) string {
	parsedURL, err := url.Parse(jobURL)
	if err != nil {
		return ""
	}

	domain := strings.ToLower(strings.TrimPrefix(parsedURL.Hostname(), "www."))
	segments := strings.Split(strings.Trim(parsedURL.Path, "/"), "/")

	// Greenhouse: boards.greenhouse.io/<company>/jobs/<id> or ?board=<company>
	if board := parsedURL.Query().Get("board"); board != "" {
		return titleCaser.String(board)
	}
	if domain == "boards.greenhouse.io" && len(segments) > 0 && segments[0] != "" {
		return titleCaser.String(segments[0])
	}

	// Lever: jobs.lever.co/<company>/<id>
	if domain == "jobs.lever.co" && len(segments) > 0 && segments[0] != "" {
		return titleCaser.String(segments[0])
	}

	// Workday and Ashby put the company in the subdomain
	if strings.Contains(domain, "myworkdayjobs.com") || strings.Contains(domain, "ashbyhq.com") {
		if sub := strings.Split(domain, ".")[0]; sub != "" {
			return titleCaser.String(sub)
		}
	}

	parts := strings.Split(domain, ".")
	if len(parts) > 0 && parts[0] != "" {
		return titleCaser.String(parts[0])
	}
	return ""
}
