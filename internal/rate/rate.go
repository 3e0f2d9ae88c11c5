// Package rate provides the PLN-per-EUR exchange rate for a sync run,
// either as a configured constant or from the ECB daily reference feed.
package rate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/antchfx/xmlquery"
)

// ErrUnavailable means the rate could not be obtained for this run.
var ErrUnavailable = errors.New("exchange rate unavailable")

// Source yields the exchange rate valid for one run.
type Source interface {
	Rate(ctx context.Context) (float64, error)
}

// Fixed is a Source returning a configured constant rate.
type Fixed float64

// Rate returns the fixed rate, or an error if it is not positive.
func (f Fixed) Rate(ctx context.Context) (float64, error) {
	if f <= 0 {
		return 0, fmt.Errorf("%w: fixed rate %v is not positive", ErrUnavailable, float64(f))
	}
	return float64(f), nil
}

// DefaultECBURL is the ECB daily reference rates document.
const DefaultECBURL = "https://www.ecb.europa.eu/stats/eurofxref/eurofxref-daily.xml"

// ECB fetches the daily reference quote for one currency from the ECB
// XML document (Envelope/Cube/Cube/Cube[@currency]).
type ECB struct {
	URL      string
	Currency string
	client   *http.Client
}

// NewECB returns an ECB source for the given currency, e.g. "PLN".
// An empty url selects DefaultECBURL.
func NewECB(url, currency string) *ECB {
	if url == "" {
		url = DefaultECBURL
	}
	return &ECB{
		URL:      url,
		Currency: currency,
		client:   &http.Client{Timeout: 20 * time.Second},
	}
}

// Rate fetches and extracts the daily quote.
func (e *ECB) Rate(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.URL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: ecb returned status %d", ErrUnavailable, resp.StatusCode)
	}

	doc, err := xmlquery.Parse(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	node := xmlquery.FindOne(doc, fmt.Sprintf("//Cube[@currency='%s']", e.Currency))
	if node == nil {
		return 0, fmt.Errorf("%w: currency %s not found in ECB document", ErrUnavailable, e.Currency)
	}
	v, err := strconv.ParseFloat(node.SelectAttr("rate"), 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%w: malformed rate for %s", ErrUnavailable, e.Currency)
	}
	return v, nil
}
