// Package model holds the typed data model shared by the batch candidate
// generator and the online ranking pipeline.
package model

import "time"

// CustomerId is an opaque stable identifier. Stored as a string to preserve
// leading zeros in the numeric domain it's usually drawn from.
type CustomerId string

// ItemId is an opaque content identifier, distinct from the content's label.
type ItemId string

// StockCode is a market-listed security symbol.
type StockCode string

// Pool is the named source a candidate id came from during batch generation.
type Pool int

const (
	PoolGlobal Pool = iota
	PoolLocal
	PoolOther
)

func (p Pool) String() string {
	switch p {
	case PoolGlobal:
		return "global"
	case PoolLocal:
		return "local"
	case PoolOther:
		return "other"
	default:
		return "unknown"
	}
}

// ContentMeta is immutable once written and shared by both batch and online.
type ContentMeta struct {
	ItemID       ItemId
	Label        StockCode // empty when the content isn't tied to a stock
	BTopic       string
	STopic       string
	Sector       string
	Themes       []string
	LikedUsers   map[CustomerId]struct{}
	MarketCap    *float64
	CreatedAt    time.Time
	HasMarketCap bool
}

// UserProfile is mutable by an upstream system; core treats it read-only.
type UserProfile struct {
	CustNo      CustomerId
	Concerns    []Concern
	LastLoginDt time.Time
}

// Concern is a user's declared interest in a stock.
type Concern struct {
	GicCode string
	StkName string
}

// StockReturn holds the 1-day and 1-month return for a stock, either of
// which may be absent (nil).
type StockReturn struct {
	OneDay   *float64
	OneMonth *float64
}

// UserContext is ephemeral, per-request, and discarded on reply.
type UserContext struct {
	CustNo            CustomerId
	SeenItems         map[ItemId]struct{}
	OwnedStocks       map[StockCode]struct{}
	RecentStocks      map[StockCode]struct{}
	Group1Stocks      map[StockCode]struct{}
	OnboardingStocks  map[StockCode]struct{}
	OwnedStockReturns map[StockCode]StockReturn
	ContentMeta       map[ItemId]ContentMeta
	PortfolioData     PortfolioData
	Profile           UserProfile
}

// PortfolioData is the (possibly empty) result of the external portfolio API.
type PortfolioData struct {
	Holdings     []PortfolioHolding
	SectorWeight map[string]float64
}

// PortfolioHolding is a single position returned by the portfolio API.
type PortfolioHolding struct {
	KorName string
	GicCode string
	Sector  string
}

// ScoredItem pairs an item with a score.
type ScoredItem struct {
	ItemID ItemId
	Score  float64
}

// CandidateRecord is the persisted batch output, one per customer.
//
// Invariants: CurationList is sorted descending by score, has at most
// MAX_CANDIDATES_PER_USER entries, and every ItemID is unique within the
// record.
type CandidateRecord struct {
	CustNo       CustomerId
	CurationList []ScoredItem
	CreateDt     time.Time
	ModiDt       time.Time
}

// QuoteRecord is a single daily-quote observation read from the search index.
type QuoteRecord struct {
	Code         StockCode
	Country      string
	OneDayReturn float64
	MarketCap    *float64
}
