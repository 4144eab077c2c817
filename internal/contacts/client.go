// Package contacts fetches contact records from the HubSpot CRM API.
package contacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cuongbtq/contacts-extractor/internal/domain"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	DefaultBaseURL  = "https://api.hubapi.com"
	DefaultPageSize = 100
	contactsPath    = "/crm/v3/objects/contacts"
	properties      = "email,firstname,lastname"
	maxErrorBody    = 512
)

// Config holds the contacts client configuration
type Config struct {
	BaseURL string
	// PageSize is the number of contacts requested per call, at most 100
	PageSize int
	// MaxRecords stops paging once reached; zero means no limit
	MaxRecords     int
	RequestTimeout time.Duration
}

// Client is a HubSpot contacts client
type Client struct {
	config     Config
	httpClient *http.Client
	schema     *jsonschema.Schema
	logger     *slog.Logger
}

type contactsPage struct {
	Results []struct {
		ID         string             `json:"id"`
		Properties map[string]*string `json:"properties"`
	} `json:"results"`
	Paging *struct {
		Next *struct {
			After string `json:"after"`
		} `json:"next"`
	} `json:"paging"`
}

// NewClient creates a new contacts client
func NewClient(config Config, logger *slog.Logger) (*Client, error) {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.PageSize <= 0 || config.PageSize > DefaultPageSize {
		config.PageSize = DefaultPageSize
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 30 * time.Second
	}

	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid contacts base url: %w", err)
	}

	schema, err := compileSchema(pageSchema)
	if err != nil {
		return nil, err
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.RequestTimeout},
		schema:     schema,
		logger:     logger,
	}, nil
}

// Fetch returns every contact visible to token. All failures are *domain.FetchError.
func (c *Client) Fetch(ctx context.Context, token string) ([]domain.Record, error) {
	records := []domain.Record{}
	after := ""

	for page := 1; ; page++ {
		p, err := c.fetchPage(ctx, token, after)
		if err != nil {
			return nil, err
		}

		for _, contact := range p.Results {
			records = append(records, domain.Record{
				Email:         property(contact.Properties, "email"),
				FirstName:     property(contact.Properties, "firstname"),
				LastName:      property(contact.Properties, "lastname"),
				IDFromService: contact.ID,
			})
		}

		c.logger.Debug("Fetched contacts page",
			slog.Int("page", page),
			slog.Int("page_size", len(p.Results)),
			slog.Int("total", len(records)),
		)

		if c.config.MaxRecords > 0 && len(records) >= c.config.MaxRecords {
			return records[:c.config.MaxRecords], nil
		}
		if p.Paging == nil || p.Paging.Next == nil || p.Paging.Next.After == "" {
			return records, nil
		}
		after = p.Paging.Next.After
	}
}

func (c *Client) fetchPage(ctx context.Context, token, after string) (*contactsPage, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(c.config.PageSize))
	query.Set("properties", properties)
	if after != "" {
		query.Set("after", after)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+contactsPath+"?"+query.Encode(), nil)
	if err != nil {
		return nil, domain.NewFetchError(domain.FetchErrorNetwork, 0, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewFetchError(domain.FetchErrorNetwork, 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewFetchError(domain.FetchErrorNetwork, resp.StatusCode, err)
	}

	if err := statusError(resp, body); err != nil {
		return nil, err
	}

	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, domain.NewFetchError(domain.FetchErrorMalformed, resp.StatusCode, err)
	}
	if err := c.schema.Validate(raw); err != nil {
		return nil, domain.NewFetchError(domain.FetchErrorMalformed, resp.StatusCode, fmt.Errorf("json does not match schema: %w", err))
	}

	var p contactsPage
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, domain.NewFetchError(domain.FetchErrorMalformed, resp.StatusCode, err)
	}
	return &p, nil
}

func statusError(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	detail := string(body)
	if len(detail) > maxErrorBody {
		detail = detail[:maxErrorBody]
	}
	if detail == "" {
		detail = http.StatusText(resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return domain.NewFetchError(domain.FetchErrorAuthentication, resp.StatusCode, errors.New(detail))
	case resp.StatusCode == http.StatusTooManyRequests:
		msg := detail
		if retry := resp.Header.Get("Retry-After"); retry != "" {
			msg = "retry after " + retry + "s: " + detail
		}
		return domain.NewFetchError(domain.FetchErrorRateLimited, resp.StatusCode, errors.New(msg))
	default:
		return domain.NewFetchError(domain.FetchErrorUpstream, resp.StatusCode, errors.New(detail))
	}
}

func property(props map[string]*string, name string) string {
	if v, ok := props[name]; ok && v != nil {
		return *v
	}
	return ""
}
