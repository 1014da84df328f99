package services

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"baliance.com/gooxml/document"
	"baliance.com/gooxml/measurement"

	"applypilot/config"
	"applypilot/models"
	"applypilot/utils"
)

// DocumentGenerator writes per-attempt .docx files. Uploading a resume
// that mentions the company beats uploading the same generic file
// everywhere, so the worker regenerates both documents for every job.
type DocumentGenerator struct {
	logger *utils.Logger
}

func NewDocumentGenerator() *DocumentGenerator {
	return &DocumentGenerator{logger: utils.GlobalLogger.Named("documents")}
}

// AttemptDir creates a scratch directory for one attempt's documents.
// The caller removes it when the attempt is recorded.
func (g *DocumentGenerator) AttemptDir() (string, error) {
	dir, err := os.MkdirTemp("", "applypilot-docs-")
	if err != nil {
		return "", fmt.Errorf("could not create document dir: %v", err)
	}
	return dir, nil
}

// GenerateResume writes a resume built from the profile, with the
// summary swapped for the tailored one when available.
func (g *DocumentGenerator) GenerateResume(dir string, profile config.ApplicantProfile, tailoredSummary string) (string, error) {
	doc := document.New()

	name := doc.AddParagraph().AddRun()
	name.Properties().SetBold(true)
	name.Properties().SetSize(16 * measurement.Point)
	name.AddText(profile.FullName())

	contact := doc.AddParagraph().AddRun()
	contact.AddText(joinNonEmpty(" | ", profile.Email, profile.Phone, joinNonEmpty(", ", profile.City, profile.State)))
	if links := joinNonEmpty(" | ", profile.LinkedIn, profile.GitHub, profile.Website); links != "" {
		doc.AddParagraph().AddRun().AddText(links)
	}

	summary := tailoredSummary
	if summary == "" {
		summary = profile.CoverLetterText
	}
	if summary != "" {
		addHeading(doc, "SUMMARY")
		doc.AddParagraph().AddRun().AddText(summary)
	}

	if profile.CurrentCompany != "" || profile.CurrentTitle != "" {
		addHeading(doc, "EXPERIENCE")
		role := doc.AddParagraph().AddRun()
		role.Properties().SetBold(true)
		role.AddText(joinNonEmpty(" at ", profile.CurrentTitle, profile.CurrentCompany))
		if profile.YearsExperience != "" {
			doc.AddParagraph().AddRun().AddText(fmt.Sprintf("%s years of experience", profile.YearsExperience))
		}
	}

	if profile.School != "" || profile.Degree != "" {
		addHeading(doc, "EDUCATION")
		edu := doc.AddParagraph().AddRun()
		edu.AddText(joinNonEmpty(", ", joinNonEmpty(" in ", profile.Degree, profile.FieldOfStudy), profile.School, profile.GraduationYear))
	}

	path := filepath.Join(dir, docFileName(profile, "Resume"))
	if err := doc.SaveToFile(path); err != nil {
		return "", fmt.Errorf("could not write resume: %v", err)
	}

	g.logger.Info("resume generated", map[string]interface{}{"path": path})
	return path, nil
}

// GenerateCoverLetter writes a one-page letter addressed to the job's
// company. Body text comes from the profile template, with the tailored
// summary appended when there is one.
func (g *DocumentGenerator) GenerateCoverLetter(dir string, profile config.ApplicantProfile, job *models.Job, tailoredSummary string) (string, error) {
	doc := document.New()

	doc.AddParagraph().AddRun().AddText(time.Now().Format("January 2, 2006"))
	doc.AddParagraph()

	company := "Hiring"
	if job != nil && job.Company != "" {
		company = job.Company
	}
	doc.AddParagraph().AddRun().AddText(fmt.Sprintf("Dear %s Team,", company))
	doc.AddParagraph()

	body := profile.CoverLetterText
	if body == "" {
		title := "the open role"
		if job != nil && job.Title != "" {
			title = fmt.Sprintf("the %s role", job.Title)
		}
		body = fmt.Sprintf("I am writing to apply for %s. My background is summarized below and in the attached resume.", title)
	}
	doc.AddParagraph().AddRun().AddText(body)

	if tailoredSummary != "" {
		doc.AddParagraph()
		doc.AddParagraph().AddRun().AddText(tailoredSummary)
	}

	doc.AddParagraph()
	doc.AddParagraph().AddRun().AddText("Sincerely,")
	doc.AddParagraph().AddRun().AddText(profile.FullName())

	path := filepath.Join(dir, docFileName(profile, "Cover_Letter"))
	if err := doc.SaveToFile(path); err != nil {
		return "", fmt.Errorf("could not write cover letter: %v", err)
	}

	g.logger.Info("cover letter generated", map[string]interface{}{"path": path})
	return path, nil
}

func addHeading(doc *document.Document, text string) {
	run := doc.AddParagraph().AddRun()
	run.Properties().SetBold(true)
	run.Properties().SetSize(12 * measurement.Point)
	run.AddText(text)
}

func docFileName(profile config.ApplicantProfile, kind string) string {
	base := strings.ReplaceAll(strings.TrimSpace(profile.FullName()), " ", "_")
	if base == "" {
		base = "Applicant"
	}
	return fmt.Sprintf("%s_%s.docx", base, kind)
}

func joinNonEmpty(sep string, parts ...string) string {
	var kept []string
	for _, part := range parts {
		if strings.TrimSpace(part) != "" {
			kept = append(kept, part)
		}
	}
	return strings.Join(kept, sep)
}
