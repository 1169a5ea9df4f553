package statusreader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"breva-backend/internal/analyses"
)

// HTTPFetcher reads measurement and capture state from the API.
type HTTPFetcher struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewHTTPFetcher builds a fetcher for baseURL authenticated with a bearer token.
func NewHTTPFetcher(baseURL, token string) *HTTPFetcher {
	return &HTTPFetcher{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type measurementBody struct {
	AIAnalysis *struct {
		LeftVolumeMl  *float64 `json:"leftVolumeMl"`
		RightVolumeMl *float64 `json:"rightVolumeMl"`
	} `json:"aiAnalysis"`
}

type statusBody struct {
	Status string `json:"status"`
}

func (f *HTTPFetcher) Volume(ctx context.Context, measurementID string, side analyses.Side) (*float64, error) {
	var body measurementBody
	status, err := f.get(ctx, "/api/v1/measurements/"+url.PathEscape(measurementID), &body)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("measurement request failed: status %d", status)
	}
	if body.AIAnalysis == nil {
		return nil, nil
	}
	if side == analyses.SideLeft {
		return body.AIAnalysis.LeftVolumeMl, nil
	}
	return body.AIAnalysis.RightVolumeMl, nil
}

func (f *HTTPFetcher) CaptureStatus(ctx context.Context, measurementID string, side analyses.Side) (string, error) {
	q := url.Values{}
	q.Set("measurementId", measurementID)
	q.Set("side", side.Lower())
	var body statusBody
	status, err := f.get(ctx, "/api/v1/captures/status?"+q.Encode(), &body)
	if err != nil {
		return "", err
	}
	switch status {
	case http.StatusOK:
		return strings.ToUpper(body.Status), nil
	case http.StatusNotFound:
		return "", ErrNoCapture
	}
	return "", fmt.Errorf("capture status request failed: status %d", status)
}

func (f *HTTPFetcher) get(ctx context.Context, path string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.BaseURL+path, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	if f.Token != "" {
		req.Header.Set("Authorization", "Bearer "+f.Token)
	}
	client := f.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode %s: %w", path, err)
	}
	return resp.StatusCode, nil
}

var _ Fetcher = (*HTTPFetcher)(nil)
