package services

import (
	"fmt"
	"time"

	"applypilot/utils"
)

// ScreenshotService persists captured page images so escalation messages
// and attempt records can link to them.
type ScreenshotService struct {
	s3     *S3Service
	logger *utils.Logger
}

func NewScreenshotService(s3 *S3Service) *ScreenshotService {
	return &ScreenshotService{
		s3:     s3,
		logger: utils.GlobalLogger.Named("screenshots"),
	}
}

// Enabled reports whether uploads are configured. Without S3 the rest of
// the pipeline still runs, attempts just carry no screenshot link.
func (s *ScreenshotService) Enabled() bool {
	return s != nil && s.s3 != nil
}

// Upload stores a captured image and returns its object key plus a
// presigned link valid long enough to outlive the human solve window.
func (s *ScreenshotService) Upload(shot []byte, kind string) (string, string, error) {
	if !s.Enabled() {
		return "", "", nil
	}
	if len(shot) == 0 {
		return "", "", fmt.Errorf("empty screenshot")
	}

	key := fmt.Sprintf("screenshots/%s_%d.png", kind, time.Now().Unix())
	if _, err := s.s3.UploadBytes(key, shot, "image/png"); err != nil {
		return "", "", fmt.Errorf("failed to upload screenshot: %v", err)
	}

	url, err := s.s3.GeneratePresignedURL(key, 1*time.Hour)
	if err != nil {
		return key, "", fmt.Errorf("failed to presign screenshot: %v", err)
	}

	s.logger.Info("screenshot uploaded", map[string]interface{}{"key": key, "kind": kind})
	return key, url, nil
}
