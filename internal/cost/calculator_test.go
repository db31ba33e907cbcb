package cost

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/imagery-cli/internal/model"
)

func TestCalculator_Images(t *testing.T) {
	t.Parallel()
	google := model.Provider{Name: "google_places", Metadata: model.ProviderMetadata{CostPerImage: 0.007}}
	unsplash := model.Provider{Name: "unsplash"}

	tests := []struct {
		name  string
		calc  *Calculator
		p     model.Provider
		count int
		want  float64
	}{
		{name: "provider rate", calc: NewCalculator(nil), p: google, count: 3, want: 0.021},
		{name: "free provider", calc: NewCalculator(nil), p: unsplash, count: 10, want: 0},
		{name: "zero images", calc: NewCalculator(nil), p: google, count: 0, want: 0},
		{name: "override", calc: NewCalculator(map[string]float64{"google_places": 0.01}), p: google, count: 2, want: 0.02},
		{name: "nil calculator", calc: nil, p: google, count: 1, want: 0.007},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, tt.calc.Images(tt.p, tt.count), 1e-9)
		})
	}
}

func TestTally(t *testing.T) {
	t.Parallel()
	tally := NewTally()
	tally.Request("google_places")
	tally.Request("google_places")
	tally.Request("unsplash")
	tally.Add("google_places", 0.014)
	tally.Add("unsplash", 0)

	assert.Equal(t, map[string]int{"google_places": 2, "unsplash": 1}, tally.Requests())
	assert.Equal(t, map[string]float64{"google_places": 0.014, "unsplash": 0}, tally.Breakdown())
	assert.InDelta(t, 0.014, tally.Total(), 1e-9)
}

func TestTally_Concurrent(t *testing.T) {
	t.Parallel()
	tally := NewTally()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tally.Request("pexels")
			tally.Add("pexels", 0.001)
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, tally.Requests()["pexels"])
	assert.InDelta(t, 0.1, tally.Total(), 1e-9)
}
