// Package unsplash is a client for the Unsplash photo search API.
package unsplash

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

const defaultBaseURL = "https://api.unsplash.com"

// Client searches Unsplash photos.
type Client interface {
	SearchPhotos(ctx context.Context, query string, perPage int) ([]Photo, error)
	CollectionPhotos(ctx context.Context, collectionID string, perPage int) ([]Photo, error)
}

// Photo is an Unsplash photo.
type Photo struct {
	ID             string `json:"id"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	AltDescription string `json:"alt_description"`
	URLs           URLs   `json:"urls"`
	User           User   `json:"user"`
}

// URLs holds the rendition URLs of a photo.
type URLs struct {
	Raw     string `json:"raw"`
	Full    string `json:"full"`
	Regular string `json:"regular"`
	Small   string `json:"small"`
}

// User is the photographer.
type User struct {
	Name     string `json:"name"`
	Username string `json:"username"`
}

type searchResponse struct {
	Total   int     `json:"total"`
	Results []Photo `json:"results"`
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
	accessKey string
	baseURL   string
	http      *http.Client
}

// NewClient creates an Unsplash client authenticated with an access key.
func NewClient(accessKey string, opts ...Option) Client {
	c := &httpClient{
		accessKey: accessKey,
		baseURL:   defaultBaseURL,
		http:      &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) SearchPhotos(ctx context.Context, query string, perPage int) ([]Photo, error) {
	q := url.Values{}
	q.Set("query", query)
	if perPage > 0 {
		q.Set("per_page", strconv.Itoa(perPage))
	}

	var resp searchResponse
	if err := c.get(ctx, "/search/photos?"+q.Encode(), &resp); err != nil {
		return nil, eris.Wrapf(err, "unsplash: search %q", query)
	}
	return resp.Results, nil
}

func (c *httpClient) CollectionPhotos(ctx context.Context, collectionID string, perPage int) ([]Photo, error) {
	q := url.Values{}
	if perPage > 0 {
		q.Set("per_page", strconv.Itoa(perPage))
	}

	var photos []Photo
	if err := c.get(ctx, "/collections/"+url.PathEscape(collectionID)+"/photos?"+q.Encode(), &photos); err != nil {
		return nil, eris.Wrapf(err, "unsplash: collection %s", collectionID)
	}
	return photos, nil
}

func (c *httpClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Authorization", "Client-ID "+c.accessKey)
	req.Header.Set("Accept-Version", "v1")

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
		return resilience.StatusError("unsplash", resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrap(err, "unmarshal response")
	}
	return nil
}
