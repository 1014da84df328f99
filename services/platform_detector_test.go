package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectPlatform(t *testing.T) {
	tests := []struct {
		url  string
		slug string
	}{
		{"https://boards.greenhouse.io/acme/jobs/4012345", "greenhouse"},
		{"https://careers.acme.com/openings?gh_jid=4012345", "greenhouse"},
		{"https://jobs.lever.co/acme/f1c2d3", "lever"},
		{"https://acme.wd5.myworkdayjobs.com/en-US/External/job/SRE", "workday"},
		{"https://jobs.ashbyhq.com/acme/0b1c2d3", "ashby"},
		{"https://www.linkedin.com/jobs/view/3878765", "linkedin"},
		{"https://www.indeed.com/viewjob?jk=abc123", "indeed"},
		{"https://acme.com/careers/backend-engineer", "other"},
		{"https://example.org/about", "other"},
	}

	for _, tt := range tests {
		platform, err := DetectPlatform(tt.url)
		assert.NoError(t, err, tt.url)
		assert.Equal(t, tt.slug, platform.Slug, tt.url)
	}
}

func TestDetectPlatform_InvalidURL(t *testing.T) {
	_, err := DetectPlatform("://bad")
	assert.Error(t, err)
}

func TestCanonicalizeJobURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"strips fragment", "https://boards.greenhouse.io/acme/jobs/1#app", "https://boards.greenhouse.io/acme/jobs/1"},
		{"strips trailing slash", "https://jobs.lever.co/acme/f1c2d3/", "https://jobs.lever.co/acme/f1c2d3"},
		{"strips tracking params", "https://acme.com/careers/1?utm_source=x&utm_campaign=y&ref=tw", "https://acme.com/careers/1"},
		{"keeps gh_jid", "https://careers.acme.com/open?gh_jid=42&utm_source=x", "https://careers.acme.com/open?gh_jid=42"},
		{"lowercases host", "https://Boards.Greenhouse.IO/acme/jobs/1", "https://boards.greenhouse.io/acme/jobs/1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CanonicalizeJobURL(tt.in)
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanonicalizeJobURL_SameJobDifferentLinks(t *testing.T) {
	a, err := CanonicalizeJobURL("https://boards.greenhouse.io/acme/jobs/99?utm_source=linkedin")
	assert.NoError(t, err)
	b, err := CanonicalizeJobURL("https://boards.greenhouse.io/acme/jobs/99/#application")
	assert.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCanonicalizeJobURL_RejectsNonHTTP(t *testing.T) {
	_, err := CanonicalizeJobURL("ftp://example.com/job")
	assert.Error(t, err)
}

func TestExtractCompanyFromURL(t *testing.T) {
	assert.Equal(t, "Acme", ExtractCompanyFromURL("https://boards.greenhouse.io/acme/jobs/1"))
	assert.Equal(t, "Acme", ExtractCompanyFromURL("https://jobs.lever.co/acme/f1c2d3"))
	assert.Equal(t, "Acme", ExtractCompanyFromURL("https://acme.wd5.myworkdayjobs.com/External/job/SRE"))
	assert.Equal(t, "Initech", ExtractCompanyFromURL("https://careers.example.com/open?board=initech"))
	assert.Equal(t, "Example", ExtractCompanyFromURL("https://example.com/careers/1"))
}
