// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package directive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScheduleCron(t *testing.T) {
	now := time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)

	sched, err := ParseSchedule("cron: 0 9 * * *", time.UTC, now)
	require.NoError(t, err)
	assert.Equal(t, ScheduleCron, sched.Kind)
	assert.Equal(t, "0 9 * * *", sched.CronExpr)

	next := sched.NextFire(now)
	assert.Equal(t, time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC), next)
}

func TestParseScheduleOnce(t *testing.T) {
	now := time.Date(2029, 12, 31, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		value string
		want  time.Time
	}{
		{"once: 2030-01-01 09:00", time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC)},
		{"once: 2030-01-01", time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"once: January 1, 2030 at 9am", time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC)},
		{"once: January 1, 2030 at 9:30am", time.Date(2030, 1, 1, 9, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		sched, err := ParseSchedule(tt.value, time.UTC, now)
		require.NoError(t, err, tt.value)
		assert.Equal(t, ScheduleOnce, sched.Kind, tt.value)
		assert.Equal(t, tt.want, sched.At, tt.value)
	}
}

func TestParseScheduleOncePastRejected(t *testing.T) {
	now := time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC)
	_, err := ParseSchedule("once: 2030-01-01", time.UTC, now)
	require.Error(t, err)
}

func TestParseScheduleRejectsUnknownForms(t *testing.T) {
	now := time.Now()
	for _, value := range []string{
		"every day at 9",
		"cron: 0 9 * *",
		"once: tomorrow",
		"hourly",
	} {
		_, err := ParseSchedule(value, time.UTC, now)
		assert.Error(t, err, value)
	}
}

func TestOnceNextFireExpires(t *testing.T) {
	at := time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC)
	sched := &Schedule{Kind: ScheduleOnce, At: at}

	assert.Equal(t, at, sched.NextFire(at.Add(-time.Hour)))
	assert.True(t, sched.NextFire(at.Add(time.Hour)).IsZero())
}
