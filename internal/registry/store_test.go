package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/imagery-cli/internal/model"
)

type mockLister struct {
	mock.Mock
}

func (m *mockLister) ListProviders(ctx context.Context) ([]model.Provider, error) {
	args := m.Called(ctx)
	ps, _ := args.Get(0).([]model.Provider)
	return ps, args.Error(1)
}

func TestStoreSource_SkipsMalformedRows(t *testing.T) {
	bad := imageProvider("broken", true, 1)
	bad.Metadata.RateLimits.PerMinute = model.IntPtr(-1)

	l := &mockLister{}
	l.On("ListProviders", mock.Anything).Return([]model.Provider{
		imageProvider("google_places", true, 1),
		bad,
		imageProvider("google_places", true, 9),
		imageProvider("pexels", true, 2),
	}, nil)

	ps, err := StoreSource{Store: l}.Providers(context.Background())
	require.NoError(t, err)
	require.Len(t, ps, 2)
	assert.Equal(t, "google_places", ps[0].Name)
	assert.Equal(t, 1, ps[0].Priority("images"))
	assert.Equal(t, "pexels", ps[1].Name)
	l.AssertExpectations(t)
}

func TestStoreSource_Error(t *testing.T) {
	l := &mockLister{}
	l.On("ListProviders", mock.Anything).Return(nil, errors.New("connection refused"))

	_, err := StoreSource{Store: l}.Providers(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}
