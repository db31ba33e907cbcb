// Package coordinator fans a scheduled refresh out into one worker job per
// eligible city and country.
package coordinator

import (
	"context"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/imagery-cli/internal/jobs"
	"github.com/sells-group/imagery-cli/internal/model"
)

// Source enumerates the entities eligible for gallery refreshes.
type Source interface {
	EligibleCities(ctx context.Context, minVenues int) ([]model.City, error)
	EligibleCountries(ctx context.Context) ([]model.Country, error)
}

// Coordinator plans and enqueues worker jobs.
type Coordinator struct {
	src       Source
	queue     jobs.Queue
	minVenues int
}

// New creates a Coordinator. Cities need at least minVenues venues (minimum
// 1) to be eligible.
func New(src Source, queue jobs.Queue, minVenues int) *Coordinator {
	if minVenues < 1 {
		minVenues = 1
	}
	return &Coordinator{src: src, queue: queue, minVenues: minVenues}
}

// Plan builds one worker job per city and per country, each pointing back at
// parentID.
func Plan(parentID string, cities []model.City, countries []model.Country, force bool) []model.EnrichmentJob {
	out := make([]model.EnrichmentJob, 0, len(cities)+len(countries))
	for _, c := range cities {
		out = append(out, jobs.NewWorkerJob(model.EntityCity, c.ID, force, parentID))
	}
	for _, c := range countries {
		out = append(out, jobs.NewWorkerJob(model.EntityCountry, c.ID, force, parentID))
	}
	return out
}

// Run enumerates eligible entities and enqueues their jobs in one atomic
// submission. An empty parentJobID gets a fresh run id. Nothing is enqueued
// if enumeration or submission fails.
func (c *Coordinator) Run(ctx context.Context, parentJobID string, force bool) (*model.CoordinatorResult, error) {
	if parentJobID == "" {
		parentJobID = uuid.NewString()
	}
	log := zap.L().With(zap.String("component", "coordinator"), zap.String("job_id", parentJobID))

	cities, err := c.src.EligibleCities(ctx, c.minVenues)
	if err != nil {
		return nil, eris.Wrap(err, "coordinator: list cities")
	}
	countries, err := c.src.EligibleCountries(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "coordinator: list countries")
	}

	planned := Plan(parentJobID, cities, countries, force)
	if err := c.queue.EnqueueMany(ctx, planned); err != nil {
		return nil, eris.Wrap(err, "coordinator: enqueue")
	}

	res := &model.CoordinatorResult{
		RunID:           parentJobID,
		CitiesQueued:    len(cities),
		CountriesQueued: len(countries),
		TotalQueued:     len(planned),
	}
	log.Info("coordinator: jobs queued",
		zap.Int("cities", res.CitiesQueued),
		zap.Int("countries", res.CountriesQueued),
		zap.Bool("force", force))
	return res, nil
}
