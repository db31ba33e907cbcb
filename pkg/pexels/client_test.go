package pexels

import (
	"context"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/imagery-cli/internal/resilience"
)

func setupHTTPMock(t *testing.T) {
	t.Helper()
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)
}

func TestSearch_Success(t *testing.T) {
	setupHTTPMock(t)

	httpmock.RegisterResponder("GET", `=~^https://api\.pexels\.com/v1/search`,
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "pexels-key", req.Header.Get("Authorization"))
			assert.Equal(t, "Portugal nature", req.URL.Query().Get("query"))
			return httpmock.NewStringResponse(http.StatusOK, `{
				"total_results": 1,
				"photos": [{"id": 2014422, "width": 3024, "height": 3024,
					"photographer": "Joey Farina",
					"src": {"large2x": "https://images.pexels.com/photos/2014422/a.jpeg?h=650&w=940"}}]
			}`), nil
		})

	photos, err := NewClient("pexels-key").Search(context.Background(), "Portugal nature", 3)

	require.NoError(t, err)
	require.Len(t, photos, 1)
	assert.Equal(t, int64(2014422), photos[0].ID)
	assert.Equal(t, "Joey Farina", photos[0].Photographer)
	assert.Contains(t, photos[0].Src.Large2x, "2014422")
}

func TestCollection_Success(t *testing.T) {
	setupHTTPMock(t)

	httpmock.RegisterResponder("GET", `=~^https://api\.pexels\.com/v1/collections/abc123`,
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "photos", req.URL.Query().Get("type"))
			return httpmock.NewStringResponse(http.StatusOK,
				`{"media":[{"id":1,"src":{"large2x":"https://images.pexels.com/1.jpeg"}}]}`), nil
		})

	photos, err := NewClient("pexels-key").Collection(context.Background(), "abc123", 0)

	require.NoError(t, err)
	require.Len(t, photos, 1)
	assert.Equal(t, "https://images.pexels.com/1.jpeg", photos[0].Src.Large2x)
}

func TestSearch_ServerError(t *testing.T) {
	setupHTTPMock(t)

	httpmock.RegisterResponder("GET", `=~^https://api\.pexels\.com/v1/search`,
		httpmock.NewStringResponder(http.StatusBadGateway, `bad gateway`))

	photos, err := NewClient("pexels-key").Search(context.Background(), "Evora", 3)

	require.Error(t, err)
	assert.Nil(t, photos)
	assert.True(t, resilience.IsTransient(err))
}

func TestSearch_Forbidden(t *testing.T) {
	setupHTTPMock(t)

	httpmock.RegisterResponder("GET", `=~^https://api\.pexels\.com/v1/search`,
		httpmock.NewStringResponder(http.StatusForbidden, `{"error":"forbidden"}`))

	_, err := NewClient("pexels-key").Search(context.Background(), "Evora", 3)

	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
}

func TestSearch_MalformedJSON(t *testing.T) {
	setupHTTPMock(t)

	httpmock.RegisterResponder("GET", `=~^https://api\.pexels\.com/v1/search`,
		httpmock.NewStringResponder(http.StatusOK, `<html>`))

	_, err := NewClient("pexels-key").Search(context.Background(), "Evora", 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal")
}
