package enforce

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xoelrdgz/webtrap/internal/domain"
)

// Community blocklist abuse categories, per the reporting API's taxonomy.
const (
	categoryBruteForce  = "18"
	categoryPortScan    = "14"
	categoryWebScraping = "19"
	categoryHoneypot    = "22"
)

// CommunityReporter submits blocked sources to a shared blocklist service,
// form-encoded with the API key header the service expects.
type CommunityReporter struct {
	client *http.Client
	url    string
	apiKey string
}

func NewCommunityReporter(reportURL, apiKey string, timeout time.Duration) *CommunityReporter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CommunityReporter{
		client: &http.Client{Timeout: timeout},
		url:    reportURL,
		apiKey: apiKey,
	}
}

func (c *CommunityReporter) Report(ctx context.Context, dec *domain.Decision, meta *domain.RequestMetadata) error {
	summary := dec.ReasonSummary()

	comment := fmt.Sprintf("Automated anti-scraping detection. Reason: %s.", summary)
	if meta != nil {
		comment += fmt.Sprintf(" UA: %s. Path: %s.", meta.UserAgent, meta.Path)
	}
	if len(comment) > 1024 {
		comment = comment[:1024]
	}

	form := url.Values{}
	form.Set("ip", dec.SourceIP)
	form.Set("categories", categoriesFor(dec, summary))
	form.Set("comment", comment)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: community blocklist returned %d", domain.ErrUpstream, resp.StatusCode)
	}

	log.Info().Str("ip", dec.SourceIP).Msg("Reported source to community blocklist")
	return nil
}

func categoriesFor(dec *domain.Decision, summary string) string {
	lower := strings.ToLower(summary)
	switch {
	case strings.Contains(lower, "scan"):
		return categoryPortScan
	case dec.Trigger == domain.TriggerHopLimit || strings.Contains(lower, "honeypot") || strings.Contains(lower, "tarpit"):
		return categoryHoneypot
	case strings.Contains(lower, "scrap") || strings.Contains(lower, "crawler") || strings.Contains(lower, "llm") || strings.Contains(lower, "bot"):
		return categoryWebScraping
	default:
		return categoryBruteForce
	}
}
