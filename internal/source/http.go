package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/BartekS5/refpull/internal/etl"
)

const maxBodyBytes = 64 << 20

// HTTPSource pages through a JSON API using page and size query parameters.
// Each response is either a JSON array of objects or an object holding that
// array under ResultsKey.
type HTTPSource struct {
	Client     *http.Client
	BaseURL    string
	PageParam  string // defaults to "page"
	SizeParam  string // defaults to "size"
	PageSize   int
	ResultsKey string

	// VersionURL is fetched by Handshake. Empty disables the handshake.
	VersionURL string

	// Limiter paces requests when set.
	Limiter *rate.Limiter
}

var _ Source = (*HTTPSource)(nil)

// NewHTTPSource returns a source with a 30s client timeout, limited to
// ratePerSec requests per second when ratePerSec > 0.
func NewHTTPSource(baseURL string, ratePerSec float64) *HTTPSource {
	s := &HTTPSource{
		Client:  &http.Client{Timeout: 30 * time.Second},
		BaseURL: baseURL,
	}
	if ratePerSec > 0 {
		s.Limiter = rate.NewLimiter(rate.Limit(ratePerSec), 1)
	}
	return s
}

func (h *HTTPSource) Fetch(ctx context.Context, index int) (*etl.Page, error) {
	size := pageSize(h.PageSize)
	offset, err := offsetFor(index, size)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(h.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	q := u.Query()
	q.Set(orDefault(h.PageParam, "page"), strconv.Itoa(index))
	q.Set(orDefault(h.SizeParam, "size"), strconv.Itoa(size))
	u.RawQuery = q.Encode()

	start := time.Now()
	var body any
	if err := h.getJSON(ctx, u.String(), &body); err != nil {
		return nil, err
	}
	records, err := h.results(body)
	if err != nil {
		return nil, err
	}

	meta := pageMetadata(KindHTTP, offset, time.Since(start))
	meta["url"] = u.String()
	return &etl.Page{Records: records, Metadata: meta}, nil
}

func (h *HTTPSource) results(body any) ([]etl.Record, error) {
	items := body
	if h.ResultsKey != "" {
		obj, ok := body.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected a JSON object holding %q, got %T", h.ResultsKey, body)
		}
		items, ok = obj[h.ResultsKey]
		if !ok {
			return nil, fmt.Errorf("response has no %q key", h.ResultsKey)
		}
	}
	if items == nil {
		return nil, nil
	}
	list, ok := items.([]any)
	if !ok {
		return nil, fmt.Errorf("expected a JSON array of records, got %T", items)
	}

	records := make([]etl.Record, 0, len(list))
	for i, item := range list {
		rec, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("record %d: expected a JSON object, got %T", i, item)
		}
		records = append(records, rec)
	}
	return records, nil
}

func (h *HTTPSource) HandshakeEndpoint() string { return h.VersionURL }

// Handshake fetches endpoint. A JSON object is returned as-is; any other
// JSON value is returned under "version".
func (h *HTTPSource) Handshake(ctx context.Context, endpoint string) (map[string]any, error) {
	var body any
	if err := h.getJSON(ctx, endpoint, &body); err != nil {
		return nil, err
	}
	if obj, ok := body.(map[string]any); ok {
		return obj, nil
	}
	return map[string]any{"version": body}, nil
}

func (h *HTTPSource) getJSON(ctx context.Context, target string, out any) error {
	if h.Limiter != nil {
		if err := h.Limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("GET %s: HTTP %d: %s", target, resp.StatusCode, snippet)
	}

	dec := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
