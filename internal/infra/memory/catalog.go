package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"virtual-lab-service/internal/domain"
	"golang.org/x/sync/singleflight"
)

// CatalogLoader fetches challenge content from a backing store (YAML file, Postgres).
type CatalogLoader interface {
	LoadChallenges(ctx context.Context) ([]domain.Challenge, error)
}

// Catalog caches the challenge list with a TTL to avoid repeated loads.
type Catalog struct {
	loader CatalogLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu        sync.RWMutex
	cached    []domain.Challenge
	expiresAt time.Time
}

func NewCatalog(loader CatalogLoader, ttl time.Duration) *Catalog {
	return &Catalog{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *Catalog) ListChallenges(ctx context.Context) ([]domain.Challenge, error) {
	now := c.clock()

	c.mu.RLock()
	if c.cached != nil && c.expiresAt.After(now) {
		out := c.cached
		c.mu.RUnlock()
		return out, nil
	}
	c.mu.RUnlock()

	result, err, _ := c.sf.Do("catalog", func() (interface{}, error) {
		now := c.clock()
		c.mu.RLock()
		if c.cached != nil && c.expiresAt.After(now) {
			out := c.cached
			c.mu.RUnlock()
			return out, nil
		}
		c.mu.RUnlock()

		challenges, err := c.loader.LoadChallenges(ctx)
		if err != nil {
			return nil, err
		}
		if challenges == nil {
			challenges = []domain.Challenge{}
		}

		expiresAt := now.Add(c.ttlWithJitter())
		c.mu.Lock()
		c.cached = challenges
		c.expiresAt = expiresAt
		c.mu.Unlock()
		return challenges, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Challenge), nil
}

func (c *Catalog) GetChallenge(ctx context.Context, id string) (domain.Challenge, error) {
	challenges, err := c.ListChallenges(ctx)
	if err != nil {
		return domain.Challenge{}, err
	}
	for _, ch := range challenges {
		if ch.ID == id {
			return ch, nil
		}
	}
	return domain.Challenge{}, domain.ErrChallengeNotFound
}

func (c *Catalog) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

// StaticCatalogLoader is a loader backed by a fixed slice (tests, demos, YAML files).
type StaticCatalogLoader struct {
	challenges []domain.Challenge
}

func NewStaticCatalogLoader(challenges []domain.Challenge) *StaticCatalogLoader {
	return &StaticCatalogLoader{challenges: challenges}
}

func (l *StaticCatalogLoader) LoadChallenges(context.Context) ([]domain.Challenge, error) {
	return l.challenges, nil
}
