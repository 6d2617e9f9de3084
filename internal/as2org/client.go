// Package as2org fetches AS ownership metadata from the PANDA as2org API.
package as2org

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/malbeclabs/mddb/internal/metrics"
)

const (
	DefaultBaseURL  = "https://api.panda.caida.org/as2org/v1/asns/"
	DefaultPageSize = 4000
	DefaultTimeout  = 2 * time.Minute
)

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type Config struct {
	Logger     *slog.Logger
	HTTPClient HTTPClient
	BaseURL    string
	PageSize   int
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.PageSize < 0 {
		return errors.New("page size must not be negative")
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{
			Timeout:   DefaultTimeout,
			Transport: gzhttp.Transport(http.DefaultTransport),
		}
	}
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.PageSize == 0 {
		c.PageSize = DefaultPageSize
	}
	return nil
}

// Info is the ownership metadata of one AS.
type Info struct {
	ASNName string
	OrgName string
}

// ASN accepts the AS number encoded either as a JSON string or a number.
type ASN string

func (a *ASN) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = ASN(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid asn %s: %w", data, err)
	}
	if _, err := strconv.ParseUint(n.String(), 10, 32); err != nil {
		return fmt.Errorf("invalid asn %s: %w", data, err)
	}
	*a = ASN(n.String())
	return nil
}

type Record struct {
	ASN     ASN    `json:"asn"`
	ASNName string `json:"asnName"`
	OrgName string `json:"orgName"`
}

type PageInfo struct {
	HasNextPage bool `json:"hasNextPage"`
}

type Page struct {
	Data     []Record `json:"data"`
	PageInfo PageInfo `json:"pageInfo"`
}

type Client struct {
	log *slog.Logger
	cfg Config
}

func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{log: cfg.Logger, cfg: cfg}, nil
}

// GetPage fetches a single 1-based page.
func (c *Client) GetPage(ctx context.Context, page int) (*Page, error) {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base url: %w", err)
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	q.Set("perpage", strconv.Itoa(c.cfg.PageSize))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "mddb-updater/1.0")

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("as2org request failed with status: %d", resp.StatusCode)
	}

	var p Page
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	metrics.AS2OrgPages.Inc()
	metrics.AS2OrgRecords.Add(float64(len(p.Data)))
	return &p, nil
}

// GetAll walks every page and returns the metadata keyed by AS number. Paging
// stops once a page reports no next page or comes back short.
func (c *Client) GetAll(ctx context.Context) (map[string]Info, error) {
	c.log.Info("as2org: retrieving asn info", "url", c.cfg.BaseURL)

	infos := make(map[string]Info)
	for page := 1; ; page++ {
		p, err := c.GetPage(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("failed to get page %d: %w", page, err)
		}
		for _, r := range p.Data {
			infos[string(r.ASN)] = Info{ASNName: r.ASNName, OrgName: r.OrgName}
		}
		c.log.Debug("as2org: fetched page", "page", page, "records", len(p.Data))
		if !p.PageInfo.HasNextPage || len(p.Data) != c.cfg.PageSize {
			break
		}
	}

	c.log.Info("as2org: retrieved asn info", "asns", len(infos))
	return infos, nil
}
