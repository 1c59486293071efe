// internal/cache/campaign_cache.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/unclebandit/dunning-engine/internal/model"
	"github.com/unclebandit/dunning-engine/internal/repository"
)

const keyPrefix = "dunning:campaign:"

// CampaignCache is a read-through Redis cache over campaign definitions.
// Campaigns are read-mostly (every claimed execution needs its plan), so the
// scheduler goes through this instead of hitting Postgres per step. The API
// invalidates on every campaign mutation; TTL bounds staleness if it misses.
type CampaignCache struct {
	rdb  *redis.Client
	repo repository.CampaignRepositoryInterface
	ttl  time.Duration
}

func NewCampaignCache(rdb *redis.Client, repo repository.CampaignRepositoryInterface, ttl time.Duration) *CampaignCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CampaignCache{rdb: rdb, repo: repo, ttl: ttl}
}

// Get returns the campaign with steps, from Redis when possible.
func (c *CampaignCache) Get(ctx context.Context, id string) (*model.Campaign, error) {
	key := keyPrefix + id

	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var campaign model.Campaign
		if uerr := json.Unmarshal(raw, &campaign); uerr == nil {
			return &campaign, nil
		}
		// Corrupt entry: drop it and fall through to the repo.
		c.rdb.Del(ctx, key)
	} else if err != redis.Nil {
		log.Println("⚠️ campaign cache read failed, falling back to DB:", err)
	}

	campaign, err := c.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if raw, merr := json.Marshal(campaign); merr == nil {
		if serr := c.rdb.Set(ctx, key, raw, c.ttl).Err(); serr != nil {
			log.Println("⚠️ campaign cache write failed:", serr)
		}
	}
	return campaign, nil
}

// Invalidate drops the cached definition after a campaign mutation.
func (c *CampaignCache) Invalidate(ctx context.Context, id string) error {
	if err := c.rdb.Del(ctx, keyPrefix+id).Err(); err != nil {
		return fmt.Errorf("invalidate campaign %s: %w", id, err)
	}
	return nil
}
