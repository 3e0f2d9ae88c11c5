// Package feed fetches and parses the supplier CSV price feed.
//
// The feed is semicolon-delimited with a header row. Suppliers are not
// consistent about column names, so headers are lowercased, de-spaced and
// matched against a list of known aliases before each record is mapped to
// a FeedRow.
package feed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Piaskraft/mjw-sync/internal/models"
)

var (
	// ErrUnavailable wraps transport or file errors: the feed could not
	// be obtained at all.
	ErrUnavailable = errors.New("feed unavailable")
	// ErrFormat wraps parse errors: the feed was obtained but is not
	// usable CSV.
	ErrFormat = errors.New("feed format error")
)

// Client fetches the feed from an http(s):// or file:// URL.
type Client struct {
	URL    string
	client *http.Client
}

// New returns a feed client for the given URL.
func New(url string) *Client {
	return &Client{
		URL:    url,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Fetch downloads the feed and returns one normalized row per record.
func (c *Client) Fetch(ctx context.Context) ([]models.FeedRow, error) {
	text, err := c.read(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	rows, err := Parse(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	return rows, nil
}

func (c *Client) read(ctx context.Context) (string, error) {
	if c.URL == "" {
		return "", errors.New("feed URL not configured")
	}
	if strings.HasPrefix(c.URL, "file://") {
		b, err := os.ReadFile(strings.TrimPrefix(c.URL, "file://"))
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("feed returned status %d", resp.StatusCode)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Column aliases seen across supplier exports, normalized form.
var (
	eanAliases   = []string{"ean", "ean13", "ean_13", "kodean", "kod_ean"}
	refAliases   = []string{"reference", "ref", "sku", "index", "kod"}
	qtyAliases   = []string{"qty", "quantity", "ilosc", "na_magazynie"}
	priceAliases = []string{"net_pln", "cenanetto", "cenanettopln", "netto", "price_pln", "price_net_pln"}
)

// Parse parses the raw CSV text into normalized rows. A UTF-8 BOM is
// stripped, the delimiter is a semicolon and records may have a relaxed
// column count.
func Parse(text string) ([]models.FeedRow, error) {
	text = strings.TrimPrefix(text, "\uFEFF")

	r := csv.NewReader(strings.NewReader(text))
	r.Comma = ';'
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	for i := range header {
		header[i] = normalizeName(header[i])
	}

	var rows []models.FeedRow
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		fields := make(map[string]string, len(rec))
		for i, v := range rec {
			if i < len(header) {
				fields[header[i]] = strings.TrimSpace(v)
			}
		}
		rows = append(rows, models.FeedRow{
			EAN:       pick(fields, eanAliases),
			Reference: pick(fields, refAliases),
			Qty:       toNum(pick(fields, qtyAliases)),
			NetPLN:    toNum(pick(fields, priceAliases)),
		})
	}
	return rows, nil
}

func normalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.Fields(s), "")
}

func pick(fields map[string]string, aliases []string) string {
	for _, name := range aliases {
		if v := fields[name]; v != "" {
			return v
		}
	}
	return ""
}

// toNum accepts both decimal points and the feed's decimal commas.
// Unparseable values become 0 and are left to the validator to reject.
func toNum(s string) float64 {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	if s == "" {
		return 0
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return n
}
