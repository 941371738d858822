package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/smacktalklabs/central/backend/internal/chat"
)

const (
	defaultSearchLimit = 12
	defaultTimeout     = 5 * time.Second
)

var (
	errMissingAPIKey  = errors.New("media: api key required")
	errMissingBaseURL = errors.New("media: base url required")
	// ErrSearchFailed wraps any upstream failure from the GIF provider.
	ErrSearchFailed = errors.New("media: search failed")
)

// Candidate is one search result offered for selection. Only candidates
// passing the chat media validation rule may enter an event.
type Candidate struct {
	URL    string `json:"url"`
	Title  string `json:"title"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// ClientConfig bundles the dependencies for the search client.
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Validator  *chat.MediaValidator
	Logger     *zap.Logger
}

// Client queries a Giphy-style search API and filters results through the
// same URL validation rule the chat boundary applies.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	validator  *chat.MediaValidator
	logger     *zap.Logger
}

// NewClient validates the configuration and constructs the client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errMissingBaseURL
	}
	if cfg.APIKey == "" {
		return nil, errMissingAPIKey
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	validator := cfg.Validator
	if validator == nil {
		validator = chat.NewMediaValidator(nil)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		validator:  validator,
		logger:     logger,
	}, nil
}

type searchResponse struct {
	Data []struct {
		Title  string `json:"title"`
		Images struct {
			Original struct {
				URL    string `json:"url"`
				Width  string `json:"width"`
				Height string `json:"height"`
			} `json:"original"`
		} `json:"images"`
	} `json:"data"`
}

// Search returns validated GIF candidates for the query. Results whose URL
// fails validation are filtered out rather than surfacing an error.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Candidate, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	endpoint, err := url.Parse(c.baseURL + "/v1/gifs/search")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchFailed, err)
	}
	params := endpoint.Query()
	params.Set("api_key", c.apiKey)
	params.Set("q", query)
	params.Set("limit", strconv.Itoa(limit))
	endpoint.RawQuery = params.Encode()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchFailed, err)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		c.logger.Warn("gif search request failed", zap.String("query", query), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrSearchFailed, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		c.logger.Warn("gif search returned non-200", zap.Int("status", response.StatusCode))
		return nil, fmt.Errorf("%w: status %d", ErrSearchFailed, response.StatusCode)
	}

	var decoded searchResponse
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchFailed, err)
	}

	candidates := make([]Candidate, 0, len(decoded.Data))
	for _, item := range decoded.Data {
		original := item.Images.Original
		if _, err := c.validator.Validate(chat.MediaAttachment{Kind: chat.MediaKindGIF, URL: original.URL}); err != nil {
			continue
		}
		width, _ := strconv.Atoi(original.Width)
		height, _ := strconv.Atoi(original.Height)
		candidates = append(candidates, Candidate{
			URL:    original.URL,
			Title:  item.Title,
			Width:  width,
			Height: height,
		})
	}
	return candidates, nil
}

// Select validates a chosen candidate into an attachment ready for an
// event, applying the same rule as the chat boundary.
func (c *Client) Select(candidate Candidate) (chat.MediaAttachment, error) {
	return c.validator.Validate(chat.MediaAttachment{
		Kind:    chat.MediaKindGIF,
		URL:     candidate.URL,
		AltText: candidate.Title,
	})
}
