package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgrid/flowgrid/common/models"
)

func TestNext_OneShot(t *testing.T) {
	next, err := Next(nil, time.Now(), "UTC")
	require.NoError(t, err)
	assert.Nil(t, next)

	next, err = Next(&models.Schedule{}, time.Now(), "UTC")
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestNext_Hourly(t *testing.T) {
	from := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)
	next, err := Next(&models.Schedule{Cron: "0 * * * *"}, from, "UTC")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC), *next)
}

func TestNext_TimezoneShiftsWallClock(t *testing.T) {
	// 9:00 daily in New York is 14:00 UTC during EST.
	from := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	next, err := Next(&models.Schedule{Cron: "0 9 * * *", Timezone: "America/New_York"}, from, "UTC")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, time.Date(2025, 1, 15, 14, 0, 0, 0, time.UTC), *next)
}

func TestNext_RespectsWindow(t *testing.T) {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 6, 1, 2, 0, 0, 0, time.UTC)
	s := &models.Schedule{Cron: "0 * * * *", StartTime: &start, EndTime: &end}

	next, err := Next(s, time.Date(2025, 5, 20, 0, 0, 0, 0, time.UTC), "UTC")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, start, *next, "first firing is clamped into the window")

	next, err = Next(s, end.Add(-time.Minute), "UTC")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, end, *next)

	next, err = Next(s, end, "UTC")
	require.NoError(t, err)
	assert.Nil(t, next, "schedule is exhausted past its end")
}

func TestNext_BadSpec(t *testing.T) {
	_, err := Next(&models.Schedule{Cron: "not a cron"}, time.Now(), "UTC")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(nil))
	assert.NoError(t, Validate(&models.Schedule{Cron: "*/5 * * * *", Timezone: "Europe/Berlin"}))
	assert.Error(t, Validate(&models.Schedule{Cron: "61 * * * *"}))
	assert.Error(t, Validate(&models.Schedule{Timezone: "Mars/Olympus"}))

	start := time.Now()
	end := start.Add(-time.Hour)
	assert.Error(t, Validate(&models.Schedule{Cron: "0 * * * *", StartTime: &start, EndTime: &end}))
}
