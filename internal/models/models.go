package models

import "time"

// FeedRow is one line of the supplier feed after header normalization.
type FeedRow struct {
	EAN       string
	Reference string
	Qty       float64
	NetPLN    float64
}

// Key returns the stable product identity: the EAN when present, the
// supplier reference otherwise. An empty result means the row cannot be
// correlated with anything and will fail validation.
func (r FeedRow) Key() string {
	if r.EAN != "" {
		return r.EAN
	}
	return r.Reference
}

// CacheEntry is the persisted last-known state for one product key.
// LastPriceNetEUR and LastQty are nil when the stored value was NULL.
type CacheEntry struct {
	Key             string
	ProductID       int
	AttributeID     int
	LastPriceNetEUR *float64
	LastQty         *int
	UpdatedAt       time.Time
}

// CatalogProduct is the slice of a remote catalog product the pipeline
// needs: identity, current price and the default combination (variant).
type CatalogProduct struct {
	ID                   int
	EAN13                string
	Reference            string
	Price                float64
	DefaultCombinationID int
}

// SyncRecord is one audit-log line per successfully processed row.
type SyncRecord struct {
	Time       time.Time `json:"time"`
	RunID      string    `json:"run_id"`
	Key        string    `json:"key"`
	ProductID  int       `json:"id"`
	OldPrice   float64   `json:"old_price"`
	NewPrice   float64   `json:"new_price"`
	FinalPrice float64   `json:"final_price"`
	Qty        int       `json:"qty"`
	Rate       float64   `json:"rate"`
	Mode       string    `json:"mode"`
}

// ErrorRecord is one error-log line for a rejected row or an aborted run.
type ErrorRecord struct {
	Time   time.Time `json:"time"`
	RunID  string    `json:"run_id"`
	Type   string    `json:"type"`
	Key    string    `json:"key,omitempty"`
	Reason string    `json:"reason"`
	Detail string    `json:"detail,omitempty"`
}
