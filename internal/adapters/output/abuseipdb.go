package output

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sefinek24/UFW-AbuseIPDB-Reporter/internal/domain"
	"github.com/sefinek24/UFW-AbuseIPDB-Reporter/pkg/sanitize"
)

const (
	DefaultAbuseIPDBEndpoint = "https://api.abuseipdb.com/api/v2/report"

	maxResponseBody = 64 * 1024
)

// ReportError is returned when the service answers with a non-2xx status.
type ReportError struct {
	StatusCode int
	Body       string
}

func (e *ReportError) Error() string {
	return fmt.Sprintf("abuseipdb: unexpected status %d: %s", e.StatusCode, sanitize.Body(e.Body, 512))
}

type AbuseIPDBConfig struct {
	APIKey    string
	Endpoint  string
	UserAgent string
	Timeout   time.Duration
}

// AbuseIPDBReporter submits reports to the AbuseIPDB v2 API.
type AbuseIPDBReporter struct {
	apiKey    string
	endpoint  string
	userAgent string
	client    *http.Client
}

func NewAbuseIPDBReporter(config AbuseIPDBConfig) (*AbuseIPDBReporter, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, fmt.Errorf("abuseipdb: api key is required")
	}
	if config.Endpoint == "" {
		config.Endpoint = DefaultAbuseIPDBEndpoint
	}
	if _, err := url.ParseRequestURI(config.Endpoint); err != nil {
		return nil, fmt.Errorf("abuseipdb: invalid endpoint: %w", err)
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.UserAgent == "" {
		config.UserAgent = "UFW-AbuseIPDB-Reporter"
	}

	return &AbuseIPDBReporter{
		apiKey:    config.APIKey,
		endpoint:  config.Endpoint,
		userAgent: config.UserAgent,
		client:    &http.Client{Timeout: config.Timeout},
	}, nil
}

type reportResponse struct {
	Data domain.ReportResult `json:"data"`
}

func (r *AbuseIPDBReporter) Report(ctx context.Context, report domain.Report) (*domain.ReportResult, error) {
	form := url.Values{}
	form.Set("ip", report.IP.String())
	form.Set("categories", report.Categories)
	form.Set("comment", report.Comment)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("abuseipdb: build request: %w", err)
	}
	req.Header.Set("Key", r.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("abuseipdb: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("abuseipdb: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ReportError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var parsed reportResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		log.Warn().Err(err).Str("ip", report.IP.String()).Msg("Report accepted but response was not valid JSON")
		return &domain.ReportResult{IPAddress: report.IP.String()}, nil
	}
	return &parsed.Data, nil
}

func (r *AbuseIPDBReporter) Name() string {
	return "abuseipdb"
}

// DryRunReporter logs reports instead of sending them.
type DryRunReporter struct{}

func NewDryRunReporter() *DryRunReporter {
	return &DryRunReporter{}
}

func (r *DryRunReporter) Report(ctx context.Context, report domain.Report) (*domain.ReportResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log.Info().
		Str("ip", report.IP.String()).
		Str("categories", report.Categories).
		Str("comment", report.Comment).
		Msg("Dry run, report not sent")
	return &domain.ReportResult{IPAddress: report.IP.String()}, nil
}

func (r *DryRunReporter) Name() string {
	return "dry-run"
}
