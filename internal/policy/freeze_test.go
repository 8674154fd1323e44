package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonthEndFreezeDefault(t *testing.T) {
	fw, err := NewFreezeWindow(nil)
	require.NoError(t, err)

	cases := []struct {
		name   string
		at     time.Time
		frozen bool
	}{
		{"mid month", time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC), false},
		{"day 28 of 31", time.Date(2026, 1, 28, 12, 0, 0, 0, time.UTC), false},
		{"day 29 of 31", time.Date(2026, 1, 29, 0, 0, 0, 0, time.UTC), true},
		{"last day of 31", time.Date(2026, 1, 31, 23, 59, 0, 0, time.UTC), true},
		{"feb 26 of 28", time.Date(2026, 2, 26, 12, 0, 0, 0, time.UTC), true},
		{"feb 25 of 28", time.Date(2026, 2, 25, 12, 0, 0, 0, time.UTC), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.frozen, fw.Active(tc.at))
		})
	}
}

func TestCustomFreezeCronMarksWholeDays(t *testing.T) {
	expr := "0 0 25-31 * *"
	fw, err := NewFreezeWindow(&expr)
	require.NoError(t, err)

	assert.True(t, fw.Active(time.Date(2026, 3, 26, 15, 30, 0, 0, time.UTC)), "afternoon of a freeze day is still frozen")
	assert.True(t, fw.Active(time.Date(2026, 3, 25, 0, 0, 0, 0, time.UTC)))
	assert.False(t, fw.Active(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)))
	assert.False(t, fw.Active(time.Date(2026, 3, 24, 23, 59, 0, 0, time.UTC)))
}

func TestInvalidFreezeCronRejected(t *testing.T) {
	expr := "not a cron"
	_, err := NewFreezeWindow(&expr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid freeze window cron")
}

func TestEmptyFreezeCronFallsBackToMonthEnd(t *testing.T) {
	expr := ""
	fw, err := NewFreezeWindow(&expr)
	require.NoError(t, err)
	assert.True(t, fw.Active(time.Date(2026, 1, 31, 12, 0, 0, 0, time.UTC)))
	assert.Contains(t, fw.Describe(), "month-end close")
}
