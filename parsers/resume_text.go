package parsers

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"baliance.com/gooxml/document"
)

// ResumeExtractor turns a resume file into plain text. The text feeds
// the tailoring prompt; layout is not preserved.
type ResumeExtractor struct{}

func NewResumeExtractor() *ResumeExtractor {
	return &ResumeExtractor{}
}

// ExtractText reads a resume file and returns its text content.
func (e *ResumeExtractor) ExtractText(filePath string) (string, error) {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".docx":
		return e.extractDocx(filePath)
	case ".pdf":
		return e.extractPDF(filePath)
	case ".txt":
		content, err := os.ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("failed to read text file: %v", err)
		}
		return string(content), nil
	default:
		return "", fmt.Errorf("unsupported resume format: %s", filepath.Ext(filePath))
	}
}

func (e *ResumeExtractor) extractDocx(filePath string) (string, error) {
	doc, err := document.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open document: %v", err)
	}

	var lines []string
	for _, para := range doc.Paragraphs() {
		var parts []string
		for _, run := range para.Runs() {
			parts = append(parts, run.Text())
		}
		if line := strings.TrimSpace(strings.Join(parts, "")); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return "", fmt.Errorf("document has no text")
	}
	return strings.Join(lines, "\n"), nil
}

// extractPDF tries pdftotext first, then ps2ascii. Both tools keep the
// extraction out of process; there is no pure-Go tier for PDFs.
func (e *ResumeExtractor) extractPDF(filePath string) (string, error) {
	if text, err := e.pdfToText(filePath); err == nil && strings.TrimSpace(text) != "" {
		return text, nil
	}
	if text, err := e.ps2Ascii(filePath); err == nil && strings.TrimSpace(text) != "" {
		return text, nil
	}
	return "", fmt.Errorf("failed to extract text from PDF using all available methods")
}

func (e *ResumeExtractor) pdfToText(filePath string) (string, error) {
	if _, err := exec.LookPath("pdftotext"); err != nil {
		return "", fmt.Errorf("pdftotext not available: %v", err)
	}

	tempFile := filePath + ".txt"
	defer os.Remove(tempFile)

	cmd := exec.Command("pdftotext", "-layout", filePath, tempFile)
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("pdftotext failed: %v", err)
	}

	content, err := os.ReadFile(tempFile)
	if err != nil {
		return "", fmt.Errorf("failed to read extracted text: %v", err)
	}
	return string(content), nil
}

func (e *ResumeExtractor) ps2Ascii(filePath string) (string, error) {
	if _, err := exec.LookPath("ps2ascii"); err != nil {
		return "", fmt.Errorf("ps2ascii not available: %v", err)
	}

	output, err := exec.Command("ps2ascii", filePath).Output()
	if err != nil {
		return "", fmt.Errorf("ps2ascii failed: %v", err)
	}
	return string(output), nil
}
