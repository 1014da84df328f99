package services

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/cloudflare/ahocorasick"

	"applypilot/config"
)

// FieldAssignment is the mapper's instruction for one control.
type FieldAssignment struct {
	FieldIndex  int       `json:"fieldIndex"`
	Kind        FieldKind `json:"kind"`
	SemanticKey string    `json:"semanticKey"`
	Value       string    `json:"value,omitempty"`
	Check       bool      `json:"check,omitempty"`
	FilePath    string    `json:"filePath,omitempty"`
}

// MappingResult pairs the assignments with warnings about anything the
// mapper left unset.
type MappingResult struct {
	Assignments []FieldAssignment `json:"assignments"`
	Warnings    []string          `json:"warnings,omitempty"`
}

type fieldPattern struct {
	key      string
	keywords []string
}

// fieldPatterns is the ordered keyword table. Keywords are lowercase
// substrings matched against FieldDescriptor.MatchText; when several
// keywords hit the same field, the longest keyword's key wins, and ties
// break toward the earlier table entry. Order is part of the contract:
// the mapper must produce the same output for the same input, always.
var fieldPatterns = []fieldPattern{
	{"first_name", []string{"first name", "first_name", "firstname", "given name", "legal first"}},
	{"last_name", []string{"last name", "last_name", "lastname", "family name", "surname"}},
	{"full_name", []string{"full name", "full_name", "fullname", "your name", "legal name", "name"}},
	{"email", []string{"email address", "email", "e-mail"}},
	{"phone", []string{"phone", "mobile", "telephone", "cell number"}},
	{"linkedin", []string{"linkedin"}},
	{"github", []string{"github"}},
	{"website", []string{"website", "portfolio", "personal site"}},
	{"address", []string{"address", "street"}},
	{"city", []string{"city"}},
	{"state", []string{"state", "province"}},
	{"zip", []string{"zip", "postal"}},
	{"country", []string{"country"}},
	{"current_company", []string{"current company", "company name", "employer", "most recent company", "organization"}},
	{"current_title", []string{"current title", "job title", "current role", "current position", "title"}},
	{"years_experience", []string{"years of experience", "years experience", "how many years", "years of relevant"}},
	{"salary", []string{"salary", "compensation", "desired pay", "pay expectation"}},
	{"school", []string{"school", "university", "college", "alma mater"}},
	{"degree", []string{"degree"}},
	{"field_of_study", []string{"field of study", "major", "discipline"}},
	{"graduation_year", []string{"graduation", "grad year"}},
	{"work_authorization", []string{"authorized to work", "legally authorized", "work authorization", "eligible to work", "right to work", "citizen"}},
	{"sponsorship", []string{"sponsorship", "sponsor", "require visa", "visa status", "need visa"}},
	{"relocate", []string{"relocate", "relocation", "willing to move"}},
	{"age_majority", []string{"18 years", "21 years", "at least 18", "minimum age"}},
	{"currently_employed", []string{"currently employed", "presently employed"}},
	{"references_available", []string{"references"}},
	{"start_date", []string{"start date", "available to start", "when can you start", "notice period", "availability"}},
	{"how_heard", []string{"how did you hear", "hear about us", "referral source", "how you heard"}},
	{"cover_letter", []string{"cover letter", "cover_letter", "coverletter", "covering letter"}},
	{"resume", []string{"resume", "curriculum vitae", "cv"}},
	{"background_check", []string{"background check", "background screening"}},
	{"terms", []string{"i agree", "terms", "privacy policy", "consent to", "acknowledge"}},
	{"gender", []string{"gender"}},
	{"race", []string{"race", "racial"}},
	{"ethnicity", []string{"ethnicity", "ethnic", "hispanic", "latino", "latinx"}},
	{"veteran", []string{"veteran", "military"}},
	{"disability", []string{"disability", "disabled", "impairment"}},
}

// demographicKeys are the self-identification questions the mapper must
// never answer on the applicant's behalf.
var demographicKeys = map[string]bool{
	"gender":     true,
	"race":       true,
	"ethnicity":  true,
	"veteran":    true,
	"disability": true,
}

var declineMarkers = []string{
	"prefer not",
	"decline",
	"not to disclose",
	"do not wish",
	"don't wish",
	"rather not",
	"choose not",
}

var rangeOptionRe = regexp.MustCompile(`(\d+)\s*(?:-|–|to)\s*(\d+)|(\d+)\s*\+`)

type patternRef struct {
	key     string
	keyword string
	order   int
}

// FieldMapper answers form fields from the applicant profile. It is
// pure: no I/O, no clock, no randomness.
type FieldMapper struct {
	matcher *ahocorasick.Matcher
	refs    []patternRef
}

func NewFieldMapper() *FieldMapper {
	var words [][]byte
	var refs []patternRef
	for order, pattern := range fieldPatterns {
		for _, keyword := range pattern.keywords {
			words = append(words, []byte(keyword))
			refs = append(refs, patternRef{key: pattern.key, keyword: keyword, order: order})
		}
	}
	return &FieldMapper{
		matcher: ahocorasick.NewMatcher(words),
		refs:    refs,
	}
}

// Map produces one assignment per answerable field. Each semantic key
// belongs to the first field that matches it, so one answer never lands
// in two controls; later fields matching a claimed key are skipped.
// Fields the mapper cannot answer stay unset; required ones among them
// produce a warning.
func (m *FieldMapper) Map(inventory *FormFieldInventory, profile config.ApplicantProfile) MappingResult {
	result := MappingResult{}
	claimed := make(map[string]int)

	extraKeys := sortedExtraKeys(profile.ExtraAnswers)

	for _, field := range inventory.Fields {
		text := field.MatchText()

		if field.Kind == FieldFile {
			m.assignFile(field, profile, &result)
			continue
		}

		if answer, matched := lookupExtraAnswer(text, extraKeys, profile.ExtraAnswers); matched {
			m.assignAnswer(field, "custom", answer, &result)
			continue
		}

		key, found := m.classify(text)
		if !found {
			key, found = typeShortcut(field)
		}
		if !found {
			if field.Required {
				result.Warnings = append(result.Warnings, fmt.Sprintf("no mapping for required field: %s", describeField(field)))
			}
			continue
		}

		if prior, taken := claimed[key]; taken {
			if field.Required {
				result.Warnings = append(result.Warnings, fmt.Sprintf("required field %s matches %q, already claimed by field #%d", describeField(field), key, prior))
			}
			continue
		}

		before := len(result.Assignments)
		if demographicKeys[key] {
			m.assignDemographic(field, key, profile, &result)
		} else if answer := profileAnswer(key, field.Kind, profile); answer != "" {
			m.assignAnswer(field, key, answer, &result)
		} else {
			result.Warnings = append(result.Warnings, fmt.Sprintf("no profile answer for: %s", describeField(field)))
		}
		if len(result.Assignments) > before {
			claimed[key] = field.Index
		}
	}

	return result
}

// typeShortcut classifies a field with no keyword hit by its input
// type. Only types with one possible meaning are mapped; everything
// else stays unclassified.
func typeShortcut(field FieldDescriptor) (string, bool) {
	switch field.InputType {
	case "email":
		return "email", true
	case "tel":
		return "phone", true
	}
	return "", false
}

// classify returns the semantic key whose keyword best matches the
// field text. Longest keyword wins; ties go to the earlier table entry.
func (m *FieldMapper) classify(text string) (string, bool) {
	hits := m.matcher.Match([]byte(text))
	if len(hits) == 0 {
		return "", false
	}

	best := -1
	for _, hit := range hits {
		if hit < 0 || hit >= len(m.refs) {
			continue
		}
		if best == -1 {
			best = hit
			continue
		}
		current := m.refs[hit]
		chosen := m.refs[best]
		if len(current.keyword) > len(chosen.keyword) ||
			(len(current.keyword) == len(chosen.keyword) && current.order < chosen.order) {
			best = hit
		}
	}
	if best == -1 {
		return "", false
	}
	return m.refs[best].key, true
}

func (m *FieldMapper) assignFile(field FieldDescriptor, profile config.ApplicantProfile, result *MappingResult) {
	text := field.MatchText()

	// Cover letter slots are called out explicitly; everything else,
	// including an ambiguous bare "attach a file", carries the resume.
	if strings.Contains(text, "cover") {
		if profile.CoverLetterPath == "" {
			result.Warnings = append(result.Warnings, fmt.Sprintf("no cover letter file for: %s", describeField(field)))
			return
		}
		result.Assignments = append(result.Assignments, FieldAssignment{
			FieldIndex:  field.Index,
			Kind:        FieldFile,
			SemanticKey: "cover_letter_file",
			FilePath:    profile.CoverLetterPath,
		})
		return
	}

	if profile.ResumePath == "" {
		result.Warnings = append(result.Warnings, fmt.Sprintf("no resume file for: %s", describeField(field)))
		return
	}
	result.Assignments = append(result.Assignments, FieldAssignment{
		FieldIndex:  field.Index,
		Kind:        FieldFile,
		SemanticKey: "resume_file",
		FilePath:    profile.ResumePath,
	})
}

func (m *FieldMapper) assignDemographic(field FieldDescriptor, key string, profile config.ApplicantProfile, result *MappingResult) {
	answer := demographicAnswer(key, profile)

	switch field.Kind {
	case FieldSelect, FieldRadioGroup:
		if answer != "" {
			if option := chooseOption(field.Options, answer); option != "" {
				result.Assignments = append(result.Assignments, FieldAssignment{
					FieldIndex:  field.Index,
					Kind:        field.Kind,
					SemanticKey: key,
					Value:       option,
				})
				return
			}
		}
		if option := declineOption(field.Options); option != "" {
			result.Assignments = append(result.Assignments, FieldAssignment{
				FieldIndex:  field.Index,
				Kind:        field.Kind,
				SemanticKey: key,
				Value:       option,
			})
			return
		}
		result.Warnings = append(result.Warnings, fmt.Sprintf("no decline option for demographic question: %s", describeField(field)))

	case FieldText:
		if answer != "" {
			result.Assignments = append(result.Assignments, FieldAssignment{
				FieldIndex:  field.Index,
				Kind:        FieldText,
				SemanticKey: key,
				Value:       answer,
			})
			return
		}
		result.Warnings = append(result.Warnings, fmt.Sprintf("demographic question left blank: %s", describeField(field)))

	default:
		// A demographic checkbox has no safe default.
		result.Warnings = append(result.Warnings, fmt.Sprintf("demographic question left blank: %s", describeField(field)))
	}
}

func (m *FieldMapper) assignAnswer(field FieldDescriptor, key, answer string, result *MappingResult) {
	switch field.Kind {
	case FieldText:
		result.Assignments = append(result.Assignments, FieldAssignment{
			FieldIndex:  field.Index,
			Kind:        FieldText,
			SemanticKey: key,
			Value:       answer,
		})

	case FieldSelect, FieldRadioGroup:
		if option := chooseOption(field.Options, answer); option != "" {
			result.Assignments = append(result.Assignments, FieldAssignment{
				FieldIndex:  field.Index,
				Kind:        field.Kind,
				SemanticKey: key,
				Value:       option,
			})
			return
		}
		result.Warnings = append(result.Warnings, fmt.Sprintf("no matching option for %s (wanted: %s)", describeField(field), answer))

	case FieldCheckbox:
		result.Assignments = append(result.Assignments, FieldAssignment{
			FieldIndex:  field.Index,
			Kind:        FieldCheckbox,
			SemanticKey: key,
			Check:       isAffirmative(answer),
		})
	}
}

// profileAnswer resolves a semantic key to the applicant's answer. An
// empty string means there is no answer to give.
func profileAnswer(key string, kind FieldKind, profile config.ApplicantProfile) string {
	switch key {
	case "first_name":
		return profile.FirstName
	case "last_name":
		return profile.LastName
	case "full_name":
		return profile.FullName()
	case "email":
		return profile.Email
	case "phone":
		return profile.Phone
	case "linkedin":
		return profile.LinkedIn
	case "github":
		return profile.GitHub
	case "website":
		return profile.Website
	case "address":
		return profile.AddressLine
	case "city":
		return profile.City
	case "state":
		return profile.State
	case "zip":
		return profile.ZipCode
	case "country":
		return profile.Country
	case "current_company":
		return profile.CurrentCompany
	case "current_title":
		return profile.CurrentTitle
	case "years_experience":
		return profile.YearsExperience
	case "salary":
		return profile.DesiredSalary
	case "school":
		return profile.School
	case "degree":
		return profile.Degree
	case "field_of_study":
		return profile.FieldOfStudy
	case "graduation_year":
		return profile.GraduationYear
	case "work_authorization":
		return yesNo(profile.AuthorizedToWork)
	case "sponsorship":
		return yesNo(profile.RequiresSponsorship)
	case "relocate":
		return yesNo(profile.WillingToRelocate)
	case "age_majority":
		return "Yes"
	case "currently_employed":
		if profile.CurrentCompany != "" {
			return "Yes"
		}
		return ""
	case "references_available":
		// Only answerable as a choice; a free-text references field
		// expects actual names.
		if kind == FieldSelect || kind == FieldRadioGroup || kind == FieldCheckbox {
			return "Yes"
		}
		return ""
	case "start_date":
		return profile.EarliestStart
	case "how_heard":
		return profile.HowHeard
	case "cover_letter":
		if kind == FieldText {
			return profile.CoverLetterText
		}
		return ""
	case "resume":
		// A text field asking about the resume has no text answer.
		return ""
	case "background_check", "terms":
		return "Yes"
	}
	return ""
}

func demographicAnswer(key string, profile config.ApplicantProfile) string {
	switch key {
	case "gender":
		return profile.Demographics.Gender
	case "race":
		return profile.Demographics.Race
	case "ethnicity":
		return profile.Demographics.Ethnicity
	case "veteran":
		return profile.Demographics.VeteranStatus
	case "disability":
		return profile.Demographics.DisabilityStatus
	}
	return ""
}

// chooseOption picks the option matching the desired answer: exact
// match first, then bidirectional substring, then numeric ranges like
// "4-6 years" for numeric answers.
func chooseOption(options []string, desired string) string {
	want := strings.ToLower(strings.TrimSpace(desired))
	if want == "" {
		return ""
	}

	for _, option := range options {
		if isPlaceholderOption(option) {
			continue
		}
		if strings.ToLower(strings.TrimSpace(option)) == want {
			return option
		}
	}

	for _, option := range options {
		if isPlaceholderOption(option) {
			continue
		}
		lower := strings.ToLower(option)
		if strings.Contains(lower, want) || strings.Contains(want, lower) {
			return option
		}
	}

	if n, err := strconv.Atoi(strings.TrimSpace(strings.TrimSuffix(want, "+"))); err == nil {
		for _, option := range options {
			if isPlaceholderOption(option) {
				continue
			}
			if rangeContains(option, n) {
				return option
			}
		}
	}

	return ""
}

// declineOption finds a "prefer not to answer" style option.
func declineOption(options []string) string {
	for _, option := range options {
		lower := strings.ToLower(option)
		for _, marker := range declineMarkers {
			if strings.Contains(lower, marker) {
				return option
			}
		}
	}
	return ""
}

func isPlaceholderOption(option string) bool {
	lower := strings.ToLower(strings.TrimSpace(option))
	if lower == "" || lower == "-" || lower == "--" {
		return true
	}
	return strings.HasPrefix(lower, "select") || strings.HasPrefix(lower, "choose") || strings.HasPrefix(lower, "please")
}

// rangeContains reports whether an option like "4-6 years" or "10+"
// covers the number.
func rangeContains(option string, n int) bool {
	match := rangeOptionRe.FindStringSubmatch(option)
	if match == nil {
		return false
	}
	if match[3] != "" {
		min, err := strconv.Atoi(match[3])
		return err == nil && n >= min
	}
	low, err1 := strconv.Atoi(match[1])
	high, err2 := strconv.Atoi(match[2])
	return err1 == nil && err2 == nil && n >= low && n <= high
}

func isAffirmative(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "yes", "true", "y", "1":
		return true
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "Yes"
	}
	return "No"
}

// sortedExtraKeys orders custom answer keys longest first so the most
// specific question wins, with a lexical tie-break to stay
// deterministic across runs.
func sortedExtraKeys(extras map[string]string) []string {
	keys := make([]string, 0, len(extras))
	for key := range extras {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}

func lookupExtraAnswer(text string, keys []string, extras map[string]string) (string, bool) {
	for _, key := range keys {
		if strings.Contains(text, strings.ToLower(key)) {
			return extras[key], true
		}
	}
	return "", false
}

func describeField(field FieldDescriptor) string {
	if field.Label != "" {
		return field.Label
	}
	if field.Name != "" {
		return field.Name
	}
	if field.ID != "" {
		return field.ID
	}
	return fmt.Sprintf("field #%d", field.Index)
}
