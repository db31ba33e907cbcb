// Package provider adapts third-party image APIs to a common client shape.
package provider

import (
	"context"
	"sort"
	"sync"

	"github.com/sells-group/imagery-cli/internal/model"
)

// Registered provider names. These match the name column of the provider
// registry.
const (
	GooglePlaces = "google_places"
	Foursquare   = "foursquare"
	Unsplash     = "unsplash"
	Pexels       = "pexels"
)

// Client fetches images for an entity identified by the provider's own id.
type Client interface {
	// Name returns the registry name of the provider.
	Name() string
	// FetchByID returns images for the provider-specific identifier.
	FetchByID(ctx context.Context, id string) ([]model.ImageDescriptor, error)
}

// Searcher is a Client that can also answer free-text queries. Only searchers
// take part in gallery refreshes.
type Searcher interface {
	Client
	Search(ctx context.Context, query string) ([]model.ImageDescriptor, error)
}

// Set holds the configured clients keyed by provider name.
type Set struct {
	mu      sync.RWMutex
	clients map[string]Client
}

// NewSet creates a set from clients.
func NewSet(clients ...Client) *Set {
	s := &Set{clients: make(map[string]Client, len(clients))}
	for _, c := range clients {
		s.Register(c)
	}
	return s
}

// Register adds a client, replacing any client with the same name.
func (s *Set) Register(c Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.Name()] = c
}

// Get returns the client for name, or nil.
func (s *Set) Get(name string) Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clients[name]
}

// Searcher returns the client for name when it supports search.
func (s *Set) Searcher(name string) (Searcher, bool) {
	sr, ok := s.Get(name).(Searcher)
	return sr, ok
}

// List returns the registered names in sorted order.
func (s *Set) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.clients))
	for name := range s.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// descriptors numbers images in order, tagging each with the provider.
func descriptors(provider string, images []model.ImageDescriptor) []model.ImageDescriptor {
	for i := range images {
		images[i].SourceProvider = provider
		images[i].Position = i
	}
	return images
}
