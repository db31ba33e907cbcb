// Package pexels is a client for the Pexels photo API.
package pexels

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/imagery-cli/internal/resilience"
)

const defaultBaseURL = "https://api.pexels.com/v1"

// Client searches Pexels photos.
type Client interface {
	Search(ctx context.Context, query string, perPage int) ([]Photo, error)
	Collection(ctx context.Context, collectionID string, perPage int) ([]Photo, error)
}

// Photo is a Pexels photo.
type Photo struct {
	ID              int64  `json:"id"`
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	URL             string `json:"url"`
	Alt             string `json:"alt"`
	Photographer    string `json:"photographer"`
	PhotographerURL string `json:"photographer_url"`
	Src             Src    `json:"src"`
}

// Src holds the rendition URLs of a photo.
type Src struct {
	Original string `json:"original"`
	Large2x  string `json:"large2x"`
	Large    string `json:"large"`
	Medium   string `json:"medium"`
}

type searchResponse struct {
	TotalResults int     `json:"total_results"`
	Photos       []Photo `json:"photos"`
}

type collectionResponse struct {
	Media []Photo `json:"media"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		if url != "" {
			c.baseURL = url
		}
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a Pexels client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, query string, perPage int) ([]Photo, error) {
	q := url.Values{}
	q.Set("query", query)
	if perPage > 0 {
		q.Set("per_page", strconv.Itoa(perPage))
	}

	var resp searchResponse
	if err := c.get(ctx, "/search?"+q.Encode(), &resp); err != nil {
		return nil, eris.Wrapf(err, "pexels: search %q", query)
	}
	return resp.Photos, nil
}

func (c *httpClient) Collection(ctx context.Context, collectionID string, perPage int) ([]Photo, error) {
	q := url.Values{}
	q.Set("type", "photos")
	if perPage > 0 {
		q.Set("per_page", strconv.Itoa(perPage))
	}

	var resp collectionResponse
	if err := c.get(ctx, "/collections/"+url.PathEscape(collectionID)+"?"+q.Encode(), &resp); err != nil {
		return nil, eris.Wrapf(err, "pexels: collection %s", collectionID)
	}
	return resp.Media, nil
}

func (c *httpClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Authorization", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response")
	}
	if resp.StatusCode != http.StatusOK {
		return resilience.StatusError("pexels", resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrap(err, "unmarshal response")
	}
	return nil
}
