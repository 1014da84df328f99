package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Demographics holds voluntary self-identification answers. An empty
// string means the applicant chose not to provide that answer and the
// mapper must not invent one.
type Demographics struct {
	Gender           string `json:"gender"`
	Race             string `json:"race"`
	Ethnicity        string `json:"ethnicity"`
	VeteranStatus    string `json:"veteran_status"`
	DisabilityStatus string `json:"disability_status"`
}

type ApplicantProfile struct {
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Email           string `json:"email"`
	Phone           string `json:"phone"`
	LinkedIn        string `json:"linkedin"`
	GitHub          string `json:"github"`
	Website         string `json:"website"`
	AddressLine     string `json:"address_line"`
	City            string `json:"city"`
	State           string `json:"state"`
	ZipCode         string `json:"zip_code"`
	Country         string `json:"country"`
	CurrentCompany  string `json:"current_company"`
	CurrentTitle    string `json:"current_title"`
	YearsExperience string `json:"years_experience"`
	DesiredSalary   string `json:"desired_salary"`
	School          string `json:"school"`
	Degree          string `json:"degree"`
	FieldOfStudy    string `json:"field_of_study"`
	GraduationYear  string `json:"graduation_year"`

	AuthorizedToWork    bool `json:"authorized_to_work"`
	RequiresSponsorship bool `json:"requires_sponsorship"`
	WillingToRelocate   bool `json:"willing_to_relocate"`

	EarliestStart string `json:"earliest_start"`
	HowHeard      string `json:"how_heard"`

	ResumePath      string `json:"resume_path"`
	CoverLetterPath string `json:"cover_letter_path"`
	CoverLetterText string `json:"cover_letter_text"`

	Demographics Demographics      `json:"demographics"`
	ExtraAnswers map[string]string `json:"extra_answers"`
}

func (p ApplicantProfile) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// LoadProfile reads the applicant profile from a JSON file and checks
// the fields every application form needs.
func LoadProfile(path string) (ApplicantProfile, error) {
	var profile ApplicantProfile

	data, err := os.ReadFile(path)
	if err != nil {
		return profile, fmt.Errorf("could not read profile file: %v", err)
	}

	if err := json.Unmarshal(data, &profile); err != nil {
		return profile, fmt.Errorf("could not parse profile file: %v", err)
	}

	var missing []string
	if profile.FirstName == "" {
		missing = append(missing, "first_name")
	}
	if profile.LastName == "" {
		missing = append(missing, "last_name")
	}
	if profile.Email == "" {
		missing = append(missing, "email")
	}
	if len(missing) > 0 {
		return profile, fmt.Errorf("profile is missing required fields: %s", strings.Join(missing, ", "))
	}

	return profile, nil
}
