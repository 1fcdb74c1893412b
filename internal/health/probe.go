package health

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Verdict is the outcome of probing the monitored page.
type Verdict struct {
	Healthy      bool          `json:"healthy"`
	StatusCode   int           `json:"status_code,omitempty"`
	Reason       string        `json:"reason,omitempty"`
	ResponseTime time.Duration `json:"response_time_ns,omitempty"`
}

// Probe combines a Fetcher and a ContentChecker.
type Probe struct {
	fetcher *Fetcher
	checker *ContentChecker
}

// NewProbe returns a probe of the page served at fetcher's URL.
func NewProbe(fetcher *Fetcher, checker *ContentChecker) *Probe {
	return &Probe{fetcher: fetcher, checker: checker}
}

// Check fetches the page once. The page is healthy when it answers 200 and
// contains every required substring. A page that cannot be fetched at all is
// unhealthy, not an error: a down site is what the watchdog exists for.
func (p *Probe) Check(ctx context.Context) Verdict {
	page, err := p.fetcher.Fetch(ctx)
	if err != nil {
		return Verdict{Reason: err.Error()}
	}

	v := Verdict{
		StatusCode:   page.StatusCode,
		ResponseTime: page.ResponseTime,
	}
	if page.StatusCode != http.StatusOK {
		v.Reason = fmt.Sprintf("unexpected response status code: %d", page.StatusCode)
		return v
	}

	ok, reason := p.checker.Check(page.Body)
	if !ok {
		v.Reason = "unexpected page content: " + reason
		return v
	}

	v.Healthy = true
	v.Reason = reason
	return v
}
