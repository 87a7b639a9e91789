package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"virtual-lab-service/internal/domain"
	"virtual-lab-service/internal/infra/memory"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const catalogKey = "catalog:challenges"

// Catalog caches the challenge list in Redis as one JSON document and falls
// back to a loader on cache miss. Instances sharing a server share the cache.
type Catalog struct {
	client *redis.Client
	loader memory.CatalogLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewCatalog(client *redis.Client, loader memory.CatalogLoader, ttl time.Duration) *Catalog {
	return &Catalog{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *Catalog) ListChallenges(ctx context.Context) ([]domain.Challenge, error) {
	if challenges, ok := c.cached(ctx); ok {
		return challenges, nil
	}

	result, err, _ := c.sf.Do(catalogKey, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if challenges, ok := c.cached(ctx); ok {
			return challenges, nil
		}

		challenges, err := c.loader.LoadChallenges(ctx)
		if err != nil {
			return nil, err
		}
		if challenges == nil {
			challenges = []domain.Challenge{}
		}
		if raw, err := json.Marshal(challenges); err == nil {
			_ = c.client.Set(ctx, catalogKey, raw, c.ttlWithJitter()).Err()
		}
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

// Invalidate drops the cached document, e.g. after a catalog import.
func (c *Catalog) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, catalogKey).Err()
}

func (c *Catalog) cached(ctx context.Context) ([]domain.Challenge, bool) {
	raw, err := c.client.Get(ctx, catalogKey).Bytes()
	if err != nil {
		return nil, false
	}
	var challenges []domain.Challenge
	if err := json.Unmarshal(raw, &challenges); err != nil {
		return nil, false
	}
	return challenges, true
}

func (c *Catalog) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
