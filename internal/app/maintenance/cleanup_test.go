package maintenance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/charlesng35/popshop/internal/cache"
	testutil "github.com/charlesng35/popshop/internal/database/testutil"
	"github.com/charlesng35/popshop/internal/models"
	"github.com/charlesng35/popshop/internal/monitoring"
	"github.com/charlesng35/popshop/internal/services"
)

type fakeShops []string

func (f fakeShops) InstalledDomains(context.Context) ([]string, error) { return f, nil }

type fakeSyncer struct {
	calls []string
	opts  services.SyncOptions
	fail  map[string]error
}

func (f *fakeSyncer) SyncProducts(_ context.Context, shop string, opts services.SyncOptions) (int, error) {
	f.calls = append(f.calls, shop)
	f.opts = opts
	if err := f.fail[shop]; err != nil {
		return 0, err
	}
	return 3, nil
}

func TestPurgeWebhooksHonoursRetention(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	now := time.Date(2024, 2, 10, 15, 0, 0, 0, time.UTC)

	old := now.Add(-45 * 24 * time.Hour)
	recent := now.Add(-2 * 24 * time.Hour)
	events := []models.WebhookEvent{
		{Topic: "PRODUCTS_UPDATE", Shop: "demo.myshopify.com", Processed: true, ProcessedAt: &old},
		{Topic: "PRODUCTS_UPDATE", Shop: "demo.myshopify.com", Processed: true, ProcessedAt: &recent},
		{Topic: "ORDERS_CREATE", Shop: "demo.myshopify.com"},
	}
	for i := range events {
		require.NoError(t, db.Create(&events[i]).Error)
	}

	webhooks, err := services.NewWebhookService(db, services.WebhookServiceConfig{})
	require.NoError(t, err)

	cleaner := NewCleaner(webhooks, WithNow(func() time.Time { return now }))
	removed, err := cleaner.PurgeWebhooks(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	var remaining int64
	require.NoError(t, db.Model(&models.WebhookEvent{}).Count(&remaining).Error)
	require.EqualValues(t, 2, remaining)

	cleaner = NewCleaner(webhooks, WithNow(func() time.Time { return now }), WithWebhookRetention(24*time.Hour))
	removed, err = cleaner.PurgeWebhooks(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)
}

func TestRunOnceExecutesEveryJob(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := cache.NewDatabaseStore(db)
	require.NoError(t, db.Create(&models.CacheEntry{
		Key:       "stale",
		Value:     []byte("x"),
		ExpiresAt: time.Now().Add(-time.Minute),
	}).Error)
	require.NoError(t, store.Set(context.Background(), "fresh", []byte("y"), time.Hour))

	webhooks, err := services.NewWebhookService(db, services.WebhookServiceConfig{})
	require.NoError(t, err)

	syncer := &fakeSyncer{}
	opts := services.SyncOptions{BatchSize: 25, MaxProducts: 50}
	tracker := monitoring.NewJobTracker()
	cleaner := NewCleaner(webhooks,
		WithTracker(tracker),
		WithCachePurge(store, ""),
		WithProductSync(fakeShops{"a.myshopify.com", "b.myshopify.com"}, syncer, "", opts),
	)

	require.NoError(t, cleaner.RunOnce(context.Background()))
	require.Equal(t, []string{"a.myshopify.com", "b.myshopify.com"}, syncer.calls)
	require.Equal(t, opts, syncer.opts)

	var keys []string
	require.NoError(t, db.Model(&models.CacheEntry{}).Pluck("cache_key", &keys).Error)
	require.Equal(t, []string{"fresh"}, keys)

	jobs := tracker.Snapshot()
	require.Len(t, jobs, 3)
	for _, job := range jobs {
		require.Equal(t, "success", job.LastStatus)
		require.EqualValues(t, 1, job.TotalRuns)
	}
}

func TestSyncAllAggregatesFailures(t *testing.T) {
	syncer := &fakeSyncer{fail: map[string]error{
		"a.myshopify.com": errors.New("throttled"),
		"c.myshopify.com": errors.New("revoked"),
	}}
	cleaner := NewCleaner(nil, WithProductSync(fakeShops{"a.myshopify.com", "b.myshopify.com", "c.myshopify.com"}, syncer, "", services.SyncOptions{}))

	err := cleaner.SyncAll(context.Background())
	require.Error(t, err)
	require.Len(t, multierr.Errors(err), 2)
	require.Len(t, syncer.calls, 3)
}

func TestStartRegistersConfiguredJobs(t *testing.T) {
	scheduler := cron.New(cron.WithLogger(cron.DiscardLogger))
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	webhooks, err := services.NewWebhookService(db, services.WebhookServiceConfig{})
	require.NoError(t, err)

	cleaner := NewCleaner(webhooks,
		WithCron(scheduler),
		WithCachePurge(cache.NewDatabaseStore(db), "@hourly"),
	)
	require.NoError(t, cleaner.Start())
	t.Cleanup(func() { <-cleaner.Stop().Done() })

	require.Len(t, scheduler.Entries(), 2)
}

func TestStartRejectsInvalidSchedule(t *testing.T) {
	cleaner := NewCleaner(fakePurger{}, WithWebhookSchedule("not a schedule"))
	require.Error(t, cleaner.Start())
}

func TestStartWithoutJobsIsNoop(t *testing.T) {
	scheduler := cron.New(cron.WithLogger(cron.DiscardLogger))
	cleaner := NewCleaner(nil, WithCron(scheduler))
	require.NoError(t, cleaner.Start())
	require.Empty(t, scheduler.Entries())
	require.NoError(t, cleaner.RunOnce(context.Background()))
}

type fakePurger struct{}

func (fakePurger) PurgeProcessed(context.Context, time.Time) (int64, error) { return 0, nil }
