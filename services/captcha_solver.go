package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"applypilot/config"
)

// CaptchaSolver solves a challenge automatically, returning the token
// to inject and the cost in USD. Price quotes the cost up front so the
// budget guard can refuse before any money is spent.
type CaptchaSolver interface {
	SolveChallenge(ctx context.Context, challenge *CaptchaChallenge) (string, float64, error)
	Price(captchaType CaptchaType) float64
}

// ErrSolverUnsupported means the challenge type has no automated
// solution and must go to a human.
var ErrSolverUnsupported = errors.New("captcha type has no automated solver")

// solverPrices is the 2Captcha price sheet in USD per solve.
var solverPrices = map[CaptchaType]float64{
	CaptchaRecaptchaV2: 0.003,
	CaptchaRecaptchaV3: 0.004,
	CaptchaHCaptcha:    0.003,
	CaptchaFuncaptcha:  0.004,
	CaptchaTurnstile:   0.003,
	CaptchaImage:       0.001,
}

// TwoCaptchaSolver submits challenges to the 2Captcha API and polls for
// the token.
type TwoCaptchaSolver struct {
	apiKey             string
	baseURL            string
	httpClient         *http.Client
	pollInterval       time.Duration
	maxPolls           int
	funcaptchaMaxPolls int
}

func NewTwoCaptchaSolver(cfg config.CaptchaConfig) *TwoCaptchaSolver {
	return &TwoCaptchaSolver{
		apiKey:             cfg.TwoCaptchaKey,
		baseURL:            "https://2captcha.com",
		httpClient:         &http.Client{Timeout: 30 * time.Second},
		pollInterval:       time.Duration(cfg.SolverPollSecs) * time.Second,
		maxPolls:           cfg.SolverMaxPolls,
		funcaptchaMaxPolls: cfg.FuncaptchaMaxPoll,
	}
}

// Price returns the cost of solving one challenge of the given type.
func (s *TwoCaptchaSolver) Price(captchaType CaptchaType) float64 {
	return solverPrices[captchaType]
}

type twoCaptchaResponse struct {
	Status    int    `json:"status"`
	Request   string `json:"request"`
	ErrorText string `json:"error_text"`
}

// SolveChallenge submits the challenge and polls until 2Captcha hands
// back a token. Funcaptcha gets a longer poll window because Arkose
// solves run slow.
func (s *TwoCaptchaSolver) SolveChallenge(ctx context.Context, challenge *CaptchaChallenge) (string, float64, error) {
	if s.apiKey == "" {
		return "", 0, ErrSolverUnsupported
	}

	params, err := s.submitParams(challenge)
	if err != nil {
		return "", 0, err
	}

	taskID, err := s.submit(ctx, params)
	if err != nil {
		return "", 0, fmt.Errorf("could not submit captcha: %v", err)
	}

	maxPolls := s.maxPolls
	if challenge.Type == CaptchaFuncaptcha {
		maxPolls = s.funcaptchaMaxPolls
	}

	token, err := s.poll(ctx, taskID, maxPolls)
	if err != nil {
		return "", 0, err
	}
	return token, s.Price(challenge.Type), nil
}

func (s *TwoCaptchaSolver) submitParams(challenge *CaptchaChallenge) (url.Values, error) {
	params := url.Values{}
	params.Set("key", s.apiKey)
	params.Set("json", "1")
	params.Set("pageurl", challenge.PageURL)

	switch challenge.Type {
	case CaptchaRecaptchaV2:
		params.Set("method", "userrecaptcha")
		params.Set("googlekey", challenge.SiteKey)
	case CaptchaRecaptchaV3:
		params.Set("method", "userrecaptcha")
		params.Set("googlekey", challenge.SiteKey)
		params.Set("version", "v3")
		params.Set("action", "submit")
		params.Set("min_score", "0.3")
	case CaptchaHCaptcha:
		params.Set("method", "hcaptcha")
		params.Set("sitekey", challenge.SiteKey)
	case CaptchaFuncaptcha:
		params.Set("method", "funcaptcha")
		params.Set("publickey", challenge.SiteKey)
		params.Set("surl", "https://client-api.arkoselabs.com")
	case CaptchaTurnstile:
		params.Set("method", "turnstile")
		params.Set("sitekey", challenge.SiteKey)
	default:
		// Image captchas need pixels, not a site key; those go to a
		// human instead.
		return nil, ErrSolverUnsupported
	}

	return params, nil
}

func (s *TwoCaptchaSolver) submit(ctx context.Context, params url.Values) (string, error) {
	resp, err := s.get(ctx, s.baseURL+"/in.php?"+params.Encode())
	if err != nil {
		return "", err
	}
	if resp.Status != 1 {
		return "", fmt.Errorf("2captcha rejected submission: %s", resp.Request)
	}
	return resp.Request, nil
}

func (s *TwoCaptchaSolver) poll(ctx context.Context, taskID string, maxPolls int) (string, error) {
	params := url.Values{}
	params.Set("key", s.apiKey)
	params.Set("action", "get")
	params.Set("id", taskID)
	params.Set("json", "1")
	pollURL := s.baseURL + "/res.php?" + params.Encode()

	for i := 0; i < maxPolls; i++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(s.pollInterval):
		}

		resp, err := s.get(ctx, pollURL)
		if err != nil {
			return "", err
		}
		if resp.Status == 1 {
			return resp.Request, nil
		}
		if resp.Request != "CAPCHA_NOT_READY" {
			return "", fmt.Errorf("2captcha could not solve: %s", resp.Request)
		}
	}

	return "", fmt.Errorf("2captcha timed out after %d polls", maxPolls)
}

func (s *TwoCaptchaSolver) get(ctx context.Context, rawURL string) (*twoCaptchaResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}

	httpResp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}

	var resp twoCaptchaResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unexpected 2captcha response: %s", string(body))
	}
	return &resp, nil
}
