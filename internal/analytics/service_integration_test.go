//go:build integration

package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/jailtonjunior94/streamflow/internal/domain"
	"github.com/jailtonjunior94/streamflow/internal/storage"
)

const (
	mobileAgent  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) Mobile/15E148"
	desktopAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/126.0"
)

func newTestService(t *testing.T) (*Service, *storage.EventsRepository) {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("streamflow_test"),
		postgres.WithUsername("streamflow"),
		postgres.WithPassword("streamflow"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, testcontainers.TerminateContainer(container))
	})

	uri, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := storage.New(uri)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Shutdown(context.Background()) })

	require.NoError(t, storage.Migrate(db.DB()))
	return NewService(db, nil), storage.NewEventsRepository(db)
}

func seedEvent(id, eventType, source, userID, agent string, ts time.Time, processing float64) *domain.Event {
	data := map[string]any{"user_agent": agent}
	if processing > 0 {
		data["processing_time"] = processing
	}
	return &domain.Event{
		ID:        id,
		Type:      eventType,
		Source:    source,
		Timestamp: ts,
		Severity:  domain.SeverityLow,
		UserID:    userID,
		Data:      data,
	}
}

func TestTopSourcesActivityFields(t *testing.T) {
	service, repo := newTestService(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, repo.Insert(ctx, seedEvent("e-1", "web.click", "web", "u-1", mobileAgent, now.Add(-2*time.Hour), 0)))
	require.NoError(t, repo.Insert(ctx, seedEvent("e-2", "web.click", "web", "u-1", mobileAgent, now.Add(-time.Hour), 0)))
	require.NoError(t, repo.Insert(ctx, seedEvent("e-3", "api.request", "api-gateway", "u-2", desktopAgent, now.Add(-30*time.Minute), 0)))

	sources, err := service.TopSources(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sources, 2)

	web := sources[0]
	assert.Equal(t, "web", web.Source)
	assert.EqualValues(t, 2, web.Events)
	assert.EqualValues(t, 1, web.UniqueUsers)
	require.NotNil(t, web.LastSeen)
	assert.True(t, web.LastSeen.Equal(now.Add(-time.Hour)))
	assert.InDelta(t, 1.5, web.AvgAgeHours, 0.2)

	gateway := sources[1]
	assert.Equal(t, "api-gateway", gateway.Source)
	assert.EqualValues(t, 1, gateway.Events)
	assert.EqualValues(t, 1, gateway.UniqueUsers)
}

func TestEventTypeDistributionFields(t *testing.T) {
	service, repo := newTestService(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, repo.Insert(ctx, seedEvent("e-1", "web.click", "web", "u-1", mobileAgent, now.Add(-time.Hour), 0.1)))
	require.NoError(t, repo.Insert(ctx, seedEvent("e-2", "web.click", "mobile", "u-2", mobileAgent, now.Add(-time.Hour), 0.3)))
	require.NoError(t, repo.Insert(ctx, seedEvent("e-3", "api.request", "web", "u-1", desktopAgent, now.Add(-time.Hour), 0)))

	shares, err := service.EventTypeDistribution(ctx)
	require.NoError(t, err)
	require.Len(t, shares, 2)

	clicks := shares[0]
	assert.Equal(t, "web.click", clicks.Type)
	assert.EqualValues(t, 2, clicks.Count)
	assert.EqualValues(t, 2, clicks.UniqueUsers)
	assert.EqualValues(t, 2, clicks.UniqueSources)
	assert.InDelta(t, 66.7, clicks.Percent, 0.01)
	require.NotNil(t, clicks.AvgProcessingTime)
	assert.InDelta(t, 0.2, *clicks.AvgProcessingTime, 0.001)

	requests := shares[1]
	assert.Equal(t, "api.request", requests.Type)
	assert.EqualValues(t, 1, requests.UniqueUsers)
	assert.EqualValues(t, 1, requests.UniqueSources)
	// No event of this type carries a processing time.
	assert.Nil(t, requests.AvgProcessingTime)
}

func TestUserDistributionShares(t *testing.T) {
	service, repo := newTestService(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, repo.Insert(ctx, seedEvent("e-1", "web.click", "web", "u-1", mobileAgent, now.Add(-time.Hour), 0)))
	require.NoError(t, repo.Insert(ctx, seedEvent("e-2", "web.click", "web", "u-1", mobileAgent, now.Add(-30*time.Minute), 0)))
	require.NoError(t, repo.Insert(ctx, seedEvent("e-3", "api.request", "web", "u-2", desktopAgent, now.Add(-time.Hour), 0)))

	distribution, err := service.UserDistribution(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, distribution.Days)
	assert.EqualValues(t, 2, distribution.Total)
	require.Len(t, distribution.Devices, 2)

	// Equal user counts order alphabetically.
	desktop := distribution.Devices[0]
	assert.Equal(t, DeviceDesktop, desktop.Device)
	assert.EqualValues(t, 1, desktop.Users)
	assert.EqualValues(t, 1, desktop.Events)
	assert.InDelta(t, 50.0, desktop.Percent, 0.01)

	mobile := distribution.Devices[1]
	assert.Equal(t, DeviceMobile, mobile.Device)
	assert.EqualValues(t, 1, mobile.Users)
	assert.EqualValues(t, 2, mobile.Events)
	assert.InDelta(t, 50.0, mobile.Percent, 0.01)
}
