// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package directive

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/teradata-labs/assistantmd/pkg/types"
)

// onceLayouts are the accepted once: datetime spellings, tried in order.
// Relative phrases are deliberately not supported.
var onceLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"January 2, 2006 at 3:04pm",
	"January 2, 2006 at 3pm",
	"January 2, 2006",
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseSchedule parses a frontmatter schedule value: "cron: <5-field>" or
// "once: <datetime>". Once triggers must be strictly in the future.
func ParseSchedule(raw string, loc *time.Location, now time.Time) (*Schedule, error) {
	if loc == nil {
		loc = time.Local
	}
	trimmed := strings.TrimSpace(raw)
	prefix, rest, found := strings.Cut(trimmed, ":")
	if !found {
		return nil, &types.ScheduleParseError{Value: raw, Reason: "expected \"cron: <expr>\" or \"once: <datetime>\""}
	}
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(strings.TrimSpace(prefix)) {
	case "cron":
		if _, err := cronParser.Parse(rest); err != nil {
			return nil, &types.ScheduleParseError{Value: raw, Reason: "invalid cron expression: " + err.Error()}
		}
		return &Schedule{Kind: ScheduleCron, CronExpr: rest, Raw: trimmed}, nil

	case "once":
		at, err := parseOnceTime(rest, loc)
		if err != nil {
			return nil, &types.ScheduleParseError{Value: raw, Reason: err.Error()}
		}
		if !at.After(now) {
			return nil, &types.ScheduleParseError{Value: raw, Reason: "once trigger must be in the future"}
		}
		return &Schedule{Kind: ScheduleOnce, At: at, Raw: trimmed}, nil

	default:
		return nil, &types.ScheduleParseError{Value: raw, Reason: "unknown trigger kind " + prefix}
	}
}

func parseOnceTime(value string, loc *time.Location) (time.Time, error) {
	for _, layout := range onceLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &types.ScheduleParseError{Value: value, Reason: "unrecognized datetime"}
}

// NextFire computes the next trigger time after now: the next cron match
// or the one-shot instant (zero once it has passed).
func (s *Schedule) NextFire(now time.Time) time.Time {
	switch s.Kind {
	case ScheduleCron:
		spec, err := cronParser.Parse(s.CronExpr)
		if err != nil {
			return time.Time{}
		}
		return spec.Next(now)
	case ScheduleOnce:
		if s.At.After(now) {
			return s.At
		}
		return time.Time{}
	}
	return time.Time{}
}
