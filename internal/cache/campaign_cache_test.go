package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/dunning-engine/internal/errors"
	"github.com/unclebandit/dunning-engine/internal/model"
)

type stubCampaignRepo struct {
	campaign *model.Campaign
	calls    int
}

func (s *stubCampaignRepo) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
	s.calls++
	if s.campaign == nil || s.campaign.ID != id {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	return s.campaign, nil
}

func (s *stubCampaignRepo) Create(ctx context.Context, c *model.Campaign) error { return nil }
func (s *stubCampaignRepo) ListCampaigns(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error) {
	return nil, 0, nil
}
func (s *stubCampaignRepo) UpdateStatus(ctx context.Context, id, status string) error { return nil }
func (s *stubCampaignRepo) AppendStep(ctx context.Context, campaignID string, step *model.CampaignStep) error {
	return nil
}
func (s *stubCampaignRepo) GetCampaignStats(ctx context.Context, campaignID string) (map[string]int, error) {
	return nil, nil
}

func testCache(t *testing.T, repo *stubCampaignRepo) (*CampaignCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewCampaignCache(rdb, repo, time.Minute), mr
}

func cachedCampaign() *model.Campaign {
	return &model.Campaign{
		ID:     "camp-1",
		Name:   "Standard Recovery",
		Status: model.CampaignActive,
		Steps: []model.CampaignStep{
			{StepIndex: 0, Action: model.ActionSendNotification, Channel: "email", TemplateID: "t1"},
		},
	}
}

func TestGet_ReadThroughPopulatesCache(t *testing.T) {
	repo := &stubCampaignRepo{campaign: cachedCampaign()}
	cache, mr := testCache(t, repo)

	first, err := cache.Get(context.Background(), "camp-1")
	require.NoError(t, err)
	assert.Equal(t, "Standard Recovery", first.Name)
	assert.Equal(t, 1, repo.calls)
	assert.True(t, mr.Exists("dunning:campaign:camp-1"))

	// Second read is served from Redis.
	second, err := cache.Get(context.Background(), "camp-1")
	require.NoError(t, err)
	assert.Equal(t, 1, repo.calls, "cache hit must not touch the repo")
	require.Len(t, second.Steps, 1)
	assert.Equal(t, "t1", second.Steps[0].TemplateID)
}

func TestGet_NotFoundIsNotCached(t *testing.T) {
	repo := &stubCampaignRepo{}
	cache, mr := testCache(t, repo)

	_, err := cache.Get(context.Background(), "missing")
	assert.True(t, appErrors.IsNotFound(err), "got %v", err)
	assert.False(t, mr.Exists("dunning:campaign:missing"))
}

func TestGet_CorruptEntryFallsBackToRepo(t *testing.T) {
	repo := &stubCampaignRepo{campaign: cachedCampaign()}
	cache, mr := testCache(t, repo)

	require.NoError(t, mr.Set("dunning:campaign:camp-1", "{not json"))

	campaign, err := cache.Get(context.Background(), "camp-1")
	require.NoError(t, err)
	assert.Equal(t, "camp-1", campaign.ID)
	assert.Equal(t, 1, repo.calls)
}

func TestInvalidate_DropsEntry(t *testing.T) {
	repo := &stubCampaignRepo{campaign: cachedCampaign()}
	cache, mr := testCache(t, repo)

	_, err := cache.Get(context.Background(), "camp-1")
	require.NoError(t, err)
	require.True(t, mr.Exists("dunning:campaign:camp-1"))

	require.NoError(t, cache.Invalidate(context.Background(), "camp-1"))
	assert.False(t, mr.Exists("dunning:campaign:camp-1"))

	_, err = cache.Get(context.Background(), "camp-1")
	require.NoError(t, err)
	assert.Equal(t, 2, repo.calls, "invalidated entry reloads from the repo")
}

func TestGet_EntryExpiresWithTTL(t *testing.T) {
	repo := &stubCampaignRepo{campaign: cachedCampaign()}
	cache, mr := testCache(t, repo)

	_, err := cache.Get(context.Background(), "camp-1")
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = cache.Get(context.Background(), "camp-1")
	require.NoError(t, err)
	assert.Equal(t, 2, repo.calls)
}
