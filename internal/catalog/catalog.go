// Package catalog is the PrestaShop webservice client: product lookup by
// EAN or reference, the two-tier net-price update and stock quantity
// updates, all over the XML API with bounded retry.
package catalog

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Piaskraft/mjw-sync/internal/models"
)

// Client talks to one shop's webservice. The API key is sent as the
// basic-auth username with an empty password.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *slog.Logger
	retries int
	backoff time.Duration
}

// New returns a client for the webservice at baseURL.
func New(baseURL, apiKey string, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 20 * time.Second},
		log:     log,
		retries: 3,
		backoff: time.Second,
	}
}

// FindByEAN looks a product up by its EAN-13. nil, nil means no match.
func (c *Client) FindByEAN(ctx context.Context, ean string) (*models.CatalogProduct, error) {
	return c.findProduct(ctx, "filter[ean13]", ean)
}

// FindByReference looks a product up by its supplier reference.
func (c *Client) FindByReference(ctx context.Context, ref string) (*models.CatalogProduct, error) {
	return c.findProduct(ctx, "filter[reference]", ref)
}

func (c *Client) findProduct(ctx context.Context, filter, value string) (*models.CatalogProduct, error) {
	params := url.Values{}
	params.Set(filter, "["+value+"]")
	params.Set("limit", "1")
	params.Set("display", "[id,ean13,reference,price,id_default_combination]")

	doc, err := c.getXML(ctx, "/products", params)
	if err != nil {
		return nil, err
	}
	list := doc.child("products")
	if list == nil {
		return nil, nil
	}
	p := list.child("product")
	if p == nil {
		return nil, nil
	}
	return &models.CatalogProduct{
		ID:                   toInt(p.childText("id")),
		EAN13:                p.childText("ean13"),
		Reference:            p.childText("reference"),
		Price:                toFloat(p.childText("price")),
		DefaultCombinationID: toInt(p.childText("id_default_combination")),
	}, nil
}

// UpdatePrice pushes a new net price (VAT is added by the shop). The full
// product record is PUT first, with the fields the webservice rejects on
// write stripped out; if that fails for any reason a minimal price-only
// PUT is attempted before the row is reported failed.
func (c *Client) UpdatePrice(ctx context.Context, productID int, price float64) error {
	fullErr := c.updatePriceFull(ctx, productID, price)
	if fullErr == nil {
		return nil
	}
	c.log.Warn("full price update failed, falling back to minimal update",
		"product_id", productID, "err", fullErr)
	if minErr := c.updatePriceMinimal(ctx, productID, price); minErr != nil {
		return fmt.Errorf("full update: %v; minimal update: %w", fullErr, minErr)
	}
	return nil
}

func (c *Client) updatePriceFull(ctx context.Context, productID int, price float64) error {
	path := fmt.Sprintf("/products/%d", productID)
	doc, err := c.getXML(ctx, path, nil)
	if err != nil {
		return err
	}
	prod := doc.child("product")
	if prod == nil {
		return fmt.Errorf("product %d not found", productID)
	}
	prod.removeChildren("manufacturer_name", "position_in_category", "associations", "quantity")
	prod.setChildText("price", formatPrice(price))

	body, err := xml.Marshal(wrap(prod))
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPut, path, nil, body)
	return err
}

func (c *Client) updatePriceMinimal(ctx context.Context, productID int, price float64) error {
	prod := &node{XMLName: xml.Name{Local: "product"}}
	prod.setChildText("id", strconv.Itoa(productID))
	prod.setChildText("price", formatPrice(price))
	prod.setChildText("id_tax_rules_group", "0")

	body, err := xml.Marshal(wrap(prod))
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPut, fmt.Sprintf("/products/%d", productID), nil, body)
	return err
}

// StockAvailableID resolves the stock record for a (product, combination)
// pair. A zero id with nil error means no stock record exists.
func (c *Client) StockAvailableID(ctx context.Context, productID, attributeID int) (int, error) {
	params := url.Values{}
	params.Set("filter[id_product]", fmt.Sprintf("[%d]", productID))
	params.Set("filter[id_product_attribute]", fmt.Sprintf("[%d]", attributeID))
	params.Set("limit", "1")
	params.Set("display", "[id,id_product,id_product_attribute,quantity]")

	doc, err := c.getXML(ctx, "/stock_availables", params)
	if err != nil {
		return 0, err
	}
	list := doc.child("stock_availables")
	if list == nil {
		return 0, nil
	}
	sa := list.child("stock_available")
	if sa == nil {
		return 0, nil
	}
	return toInt(sa.childText("id")), nil
}

// UpdateQuantity sets the quantity on a stock record.
func (c *Client) UpdateQuantity(ctx context.Context, stockID, qty int) error {
	path := fmt.Sprintf("/stock_availables/%d", stockID)
	doc, err := c.getXML(ctx, path, nil)
	if err != nil {
		return err
	}
	sa := doc.child("stock_available")
	if sa == nil {
		return fmt.Errorf("stock_available %d not found", stockID)
	}
	sa.setChildText("quantity", strconv.Itoa(qty))

	body, err := xml.Marshal(wrap(sa))
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPut, path, nil, body)
	return err
}

func (c *Client) getXML(ctx context.Context, path string, params url.Values) (*node, error) {
	data, err := c.do(ctx, http.MethodGet, path, params, nil)
	if err != nil {
		return nil, err
	}
	var doc node
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s response: %w", path, err)
	}
	return &doc, nil
}

// do runs one request with bounded retry and doubling backoff. Any
// non-2xx status counts as a failed attempt.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, body []byte) ([]byte, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + encodeParams(params)
	}

	delay := c.backoff
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			delay *= 2
			c.log.Warn("catalog request retry",
				"method", method, "path", path, "attempt", attempt, "wait", delay)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, reader)
		if err != nil {
			return nil, err
		}
		req.SetBasicAuth(c.apiKey, "")
		req.Header.Set("Content-Type", "application/xml")
		req.Header.Set("Accept", "application/xml")

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			lastErr = fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, truncate(data))
			continue
		}
		return data, nil
	}
	return nil, lastErr
}

// encodeParams keeps the literal brackets the webservice requires in
// filter and display parameters.
func encodeParams(params url.Values) string {
	s := params.Encode()
	s = strings.ReplaceAll(s, "%5B", "[")
	s = strings.ReplaceAll(s, "%5D", "]")
	return s
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func toInt(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

func toFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}

func truncate(b []byte) string {
	const max = 200
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
