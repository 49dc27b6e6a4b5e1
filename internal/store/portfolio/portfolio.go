// Package portfolio is the HTTP client for the external portfolio API
// (POST /api/mu800). Degraded responses (not-found, rate-limited,
// unavailable) are never surfaced as errors: callers get an empty
// PortfolioData and the pipeline proceeds without portfolio-dependent rules.
package portfolio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v3"

	"github.com/mikeydub/curation-recs/internal/logger"
	"github.com/mikeydub/curation-recs/internal/model"
)

type Client struct {
	httpClient *http.Client
	baseURL    string
	maxRetries int
}

func NewClient(baseURL string, timeout time.Duration, maxRetries int) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		maxRetries: maxRetries,
	}
}

// mu800Request mirrors the external API's request body.
type mu800Request struct {
	CustomerNo string   `json:"customer_no"`
	TargetType []string `json:"target_type"`
	TopN       int      `json:"top_n"`
}

type holdingWire struct {
	KorName string `json:"kor_name"`
	GicCode string `json:"gic_code"`
	Sector  string `json:"sector"`
}

// mu800Response mirrors the external API's response shape: a portfolio_info
// list plus a separately reported sector_weight map, rather than a
// per-holding weight field.
type mu800Response struct {
	PortfolioInfo []holdingWire      `json:"portfolio_info"`
	SectorWeight  map[string]float64 `json:"sector_weight"`
}

// retryableStatus reports the response codes worth another attempt before
// giving up: rate limiting and transient server faults.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// FetchPortfolio calls POST /api/mu800, retrying 429/5xx responses with
// bounded exponential backoff. Any degraded outcome (not found, retries
// exhausted) returns a zero-value PortfolioData rather than an error.
func (c *Client) FetchPortfolio(ctx context.Context, custNo model.CustomerId) (model.PortfolioData, error) {
	var resp mu800Response
	var notFound bool

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(maxOf(c.maxRetries, 0))), ctx)

	op := func() error {
		body, _ := json.Marshal(mu800Request{CustomerNo: string(custNo), TargetType: []string{"sector"}, TopN: 20})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/mu800", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		res, err := c.httpClient.Do(req)
		if err != nil {
			return err // retryable: network error
		}
		defer res.Body.Close()

		if retryableStatus(res.StatusCode) {
			return fmt.Errorf("portfolio: transient status %d", res.StatusCode)
		}
		if res.StatusCode == http.StatusNotFound {
			notFound = true
			return nil
		}
		if res.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("portfolio: unexpected status %d", res.StatusCode))
		}
		return json.NewDecoder(res.Body).Decode(&resp)
	}

	if err := backoff.Retry(op, bo); err != nil {
		logger.For(ctx).WithError(err).WithField("cust_no", string(custNo)).Warn("portfolio fetch degraded to empty")
		return model.PortfolioData{}, nil
	}
	if notFound {
		return model.PortfolioData{}, nil
	}

	holdings := make([]model.PortfolioHolding, len(resp.PortfolioInfo))
	for i, h := range resp.PortfolioInfo {
		holdings[i] = model.PortfolioHolding{KorName: h.KorName, GicCode: h.GicCode, Sector: h.Sector}
	}
	sectorWeight := resp.SectorWeight
	if sectorWeight == nil {
		sectorWeight = map[string]float64{}
	}
	return model.PortfolioData{Holdings: holdings, SectorWeight: sectorWeight}, nil
}

func maxOf(a, b int) int {
	if a > b {
		return a
	}
	return b
}
