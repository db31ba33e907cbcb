// Package foursquare is a client for the Foursquare Places API photo endpoint.
package foursquare

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

const defaultBaseURL = "https://api.foursquare.com/v3"

// Client fetches place photos by Foursquare place id.
type Client interface {
	PlacePhotos(ctx context.Context, fsqID string, limit int) ([]Photo, error)
}

// Photo is a Foursquare photo. The image URL is assembled from Prefix, a
// size token and Suffix.
type Photo struct {
	ID        string `json:"id"`
	CreatedAt string `json:"created_at"`
	Prefix    string `json:"prefix"`
	Suffix    string `json:"suffix"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// URL returns the photo URL at original size.
func (p Photo) URL() string {
	if p.Prefix == "" || p.Suffix == "" {
		return ""
	}
	return p.Prefix + "original" + p.Suffix
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

// NewClient creates a Foursquare Places client.
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

func (c *httpClient) PlacePhotos(ctx context.Context, fsqID string, limit int) ([]Photo, error) {
	if fsqID == "" {
		return nil, eris.New("foursquare: place id is required")
	}
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	endpoint := c.baseURL + "/places/" + url.PathEscape(fsqID) + "/photos"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, eris.Wrap(err, "foursquare: create request")
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "foursquare: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "foursquare: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resilience.StatusError("foursquare", resp.StatusCode, body)
	}

	var photos []Photo
	if err := json.Unmarshal(body, &photos); err != nil {
		return nil, eris.Wrap(err, "foursquare: unmarshal response")
	}
	return photos, nil
}
