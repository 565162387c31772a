package advisory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/miradorstack/mirador-remediation/internal/models"
)

// HTTPClient posts the error context to an advisory service and reads back its scores.
type HTTPClient struct {
	baseURL    string
	scorePath  string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewHTTPClient constructs a client for the advisory service at baseURL. A non-positive
// rps disables rate limiting.
func NewHTTPClient(baseURL, scorePath, apiKey string, timeout time.Duration, rps float64, burst int) *HTTPClient {
	var limiter *rate.Limiter
	if rps > 0 {
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		scorePath:  scorePath,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
	}
}

// Analyze implements Client.
func (c *HTTPClient) Analyze(ctx context.Context, errCtx models.ErrorContext) (models.AdvisoryResponse, error) {
	if c == nil {
		return models.AdvisoryResponse{}, fmt.Errorf("advisory client not initialised")
	}
	if c.baseURL == "" {
		return models.AdvisoryResponse{}, fmt.Errorf("advisory base URL not configured")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return models.AdvisoryResponse{}, fmt.Errorf("advisory rate limit: %w", err)
		}
	}

	var response models.AdvisoryResponse
	if err := c.postJSON(ctx, c.resolvePath(c.scorePath), errCtx, &response); err != nil {
		return models.AdvisoryResponse{}, fmt.Errorf("advisory request failed: %w", err)
	}
	return Sanitize(response), nil
}

func (c *HTTPClient) resolvePath(p string) string {
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (c *HTTPClient) postJSON(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("advisory service returned %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
