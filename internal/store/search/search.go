// Package search is the time-partitioned OpenSearch reader: interaction
// logs (curation-logs-YYYYMMDD) and daily quote snapshots (screen-YYYYMMDD).
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	opensearch "github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
	"golang.org/x/sync/errgroup"

	"github.com/mikeydub/curation-recs/internal/logger"
	"github.com/mikeydub/curation-recs/internal/model"
)

const (
	interactionLogPrefix = "curation-logs-"
	quotePrefix          = "screen-"
	dateLayout           = "20060102"
)

type Client struct {
	os *opensearch.Client
}

func NewClient(urls []string, user, pass string) (*Client, error) {
	cfg := opensearch.Config{
		Addresses: urls,
		Username:  user,
		Password:  pass,
	}
	c, err := opensearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("search.NewClient: %w", err)
	}
	return &Client{os: c}, nil
}

// dailyIndices returns the prefix+YYYYMMDD index names for the last n days
// up to and including today, newest first.
func dailyIndices(prefix string, n int) []string {
	out := make([]string, n)
	now := time.Now().UTC()
	for i := 0; i < n; i++ {
		out[i] = prefix + now.AddDate(0, 0, -i).Format(dateLayout)
	}
	return out
}

type interactionRow struct {
	custNo string
	itemID string
	ts     time.Time
}

// LoadInteractions scans the last `days` curation-logs-YYYYMMDD indices for
// click/view events, building a {customer -> ordered item history} table for
// the CF model. Indices are scanned independently; a missing or erroring
// index is skipped (partial-failure tolerant) and the result is the union of
// whatever succeeded.
func (c *Client) LoadInteractions(ctx context.Context, days int) (map[model.CustomerId][]model.ItemId, error) {
	indices := dailyIndices(interactionLogPrefix, days)

	results := make([][]interactionRow, len(indices))
	g, gctx := errgroup.WithContext(ctx)
	for i, idx := range indices {
		i, idx := i, idx
		g.Go(func() error {
			rows, err := scanInteractionIndex(gctx, c.os, idx)
			if err != nil {
				logger.For(gctx).WithError(err).WithField("index", idx).Warn("skipping interaction index")
				return nil
			}
			results[i] = rows
			return nil
		})
	}
	_ = g.Wait() // individual failures are logged and skipped, never fatal

	byUser := make(map[string][]interactionRow)
	for _, rows := range results {
		for _, r := range rows {
			byUser[r.custNo] = append(byUser[r.custNo], r)
		}
	}

	out := make(map[model.CustomerId][]model.ItemId, len(byUser))
	for cust, recs := range byUser {
		items := make([]model.ItemId, len(recs))
		for i, r := range recs {
			items[i] = model.ItemId(r.itemID)
		}
		out[model.CustomerId(cust)] = items
	}
	return out, nil
}

type interactionHit struct {
	CustNo     string    `json:"cust_no"`
	CurationID string    `json:"curation_id"`
	Timestamp  time.Time `json:"@timestamp"`
}

func scanInteractionIndex(ctx context.Context, osc *opensearch.Client, index string) ([]interactionRow, error) {
	body := map[string]any{
		"size":  10000,
		"query": map[string]any{"match_all": map[string]any{}},
		"sort":  []map[string]any{{"@timestamp": "desc"}},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, err
	}

	req := opensearchapi.SearchRequest{Index: []string{index}, Body: &buf}
	res, err := req.Do(ctx, osc)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("search: index %s status %s", index, res.Status())
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source interactionHit `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, err
	}

	out := make([]interactionRow, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		if h.Source.CustNo == "" || h.Source.CurationID == "" {
			continue
		}
		out = append(out, interactionRow{custNo: h.Source.CustNo, itemID: h.Source.CurationID, ts: h.Source.Timestamp})
	}
	return out, nil
}

type quoteHit struct {
	Code           string   `json:"shrt_code"`
	Country        string   `json:"country"`
	OneDayReturn   *float64 `json:"1d_returns"`
	OneMonthReturn *float64 `json:"1m_returns"`
	MarketCap      *float64 `json:"market_cap"`
}

// FetchLatestQuotes scans screen-YYYYMMDD indices newest-first for up to
// daysBack days, stopping once maxRecords distinct stock codes have been
// seen, and filtering non-finite or |return| > 50 outliers. allowedCountries
// restricts which country codes are accepted; an empty set accepts all.
func (c *Client) FetchLatestQuotes(ctx context.Context, daysBack, maxRecords int, allowedCountries map[string]struct{}) ([]model.QuoteRecord, error) {
	indices := dailyIndices(quotePrefix, daysBack)

	seen := make(map[string]struct{}, maxRecords)
	var out []model.QuoteRecord

	for _, idx := range indices {
		if len(out) >= maxRecords {
			break
		}
		hits, err := scanQuoteIndex(ctx, c.os, idx)
		if err != nil {
			logger.For(ctx).WithError(err).WithField("index", idx).Warn("skipping quote index")
			continue
		}
		for _, h := range hits {
			if _, dup := seen[h.Code]; dup {
				continue
			}
			if len(allowedCountries) > 0 {
				if _, ok := allowedCountries[h.Country]; !ok {
					continue
				}
			}
			var oneDayReturn float64
			if h.OneDayReturn != nil {
				if math.IsNaN(*h.OneDayReturn) || math.IsInf(*h.OneDayReturn, 0) || math.Abs(*h.OneDayReturn) > 50 {
					continue
				}
				oneDayReturn = *h.OneDayReturn
			}
			seen[h.Code] = struct{}{}
			out = append(out, model.QuoteRecord{
				Code:         model.StockCode(h.Code),
				Country:      h.Country,
				OneDayReturn: oneDayReturn,
				MarketCap:    h.MarketCap,
			})
			if len(out) >= maxRecords {
				break
			}
		}
	}
	return out, nil
}

func scanQuoteIndex(ctx context.Context, osc *opensearch.Client, index string) ([]quoteHit, error) {
	body := map[string]any{
		"size":  10000,
		"query": map[string]any{"match_all": map[string]any{}},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, err
	}

	req := opensearchapi.SearchRequest{Index: []string{index}, Body: &buf}
	res, err := req.Do(ctx, osc)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("search: index %s status %s", index, res.Status())
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source quoteHit `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, err
	}

	out := make([]quoteHit, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		if h.Source.Code == "" {
			continue
		}
		out = append(out, h.Source)
	}
	return out, nil
}

// LoadSeenItems unions seen-item ids for a customer over the last `days`
// curation-logs indices, each scanned with its own bounded timeout so one
// slow partition never blocks the whole context fetch.
func (c *Client) LoadSeenItems(ctx context.Context, custNo model.CustomerId, days int, perIndexTimeout time.Duration) (map[model.ItemId]struct{}, error) {
	indices := dailyIndices(interactionLogPrefix, days)
	out := make(map[model.ItemId]struct{})

	for _, idx := range indices {
		idxCtx, cancel := context.WithTimeout(ctx, perIndexTimeout)
		rows, err := scanInteractionIndex(idxCtx, c.os, idx)
		cancel()
		if err != nil {
			logger.For(ctx).WithError(err).WithField("index", idx).Warn("skipping seen-items index")
			continue
		}
		for _, r := range rows {
			if r.custNo == string(custNo) {
				out[model.ItemId(r.itemID)] = struct{}{}
			}
		}
	}
	return out, nil
}

// FetchStockReturns loads 1-day/1-month returns for a specific set of owned
// stock codes. It scans up to the 5 most recent quote indices newest-first
// and keeps each code's first hit, so a code missing from the latest index
// can be filled from an older one. All scans share one deadline of
// perStockTimeout times the number of codes; there is no separate timeout
// per stock. Stocks not found in any scanned index are absent from the
// result; the caller treats absence as "no return data".
func (c *Client) FetchStockReturns(ctx context.Context, codes map[model.StockCode]struct{}, perStockTimeout time.Duration) (map[model.StockCode]model.StockReturn, error) {
	out := make(map[model.StockCode]model.StockReturn, len(codes))
	if len(codes) == 0 {
		return out, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, perStockTimeout*time.Duration(len(codes)))
	defer cancel()

	for _, idx := range dailyIndices(quotePrefix, 5) {
		if len(out) == len(codes) {
			break
		}
		hits, err := scanQuoteIndex(fetchCtx, c.os, idx)
		if err != nil {
			logger.For(ctx).WithError(err).WithField("index", idx).Warn("skipping quote index for stock returns")
			continue
		}
		for _, h := range hits {
			code := model.StockCode(h.Code)
			if _, wanted := codes[code]; !wanted {
				continue
			}
			if _, already := out[code]; already {
				continue
			}
			out[code] = model.StockReturn{OneDay: h.OneDayReturn, OneMonth: h.OneMonthReturn}
		}
	}
	return out, nil
}
