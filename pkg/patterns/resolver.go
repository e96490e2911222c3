// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package patterns substitutes date tokens, selectors, and globs in
// directive values. It never touches prompt bodies.
package patterns

import (
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/teradata-labs/assistantmd/pkg/types"
)

// DefaultPendingLimit caps {pending} selections when no count is given.
const DefaultPendingLimit = 10

// Config wires a Resolver.
type Config struct {
	// Location renders time tokens; nil means time.Local.
	Location *time.Location

	// WeekStart anchors the week tokens; the zero value is replaced by
	// Monday, the default week start.
	WeekStart time.Weekday

	// Now is a clock hook for tests; nil means time.Now.
	Now func() time.Time
}

// Resolver expands pattern tokens in directive values.
type Resolver struct {
	loc       *time.Location
	weekStart time.Weekday
	now       func() time.Time
}

// NewResolver creates a Resolver with defaults applied.
func NewResolver(cfg Config) *Resolver {
	r := &Resolver{
		loc:       cfg.Location,
		weekStart: cfg.WeekStart,
		now:       cfg.Now,
	}
	if r.loc == nil {
		r.loc = time.Local
	}
	if cfg.WeekStart == time.Sunday {
		// The zero Weekday is Sunday; the engine default is Monday.
		// A real Sunday week start arrives via WithWeekStart.
		r.weekStart = time.Monday
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// WithWeekStart returns a copy of the resolver anchored to the given week
// start day. Week start is a per-workflow setting.
func (r *Resolver) WithWeekStart(day time.Weekday) *Resolver {
	clone := *r
	clone.weekStart = day
	return &clone
}

var tokenRe = regexp.MustCompile(`\{([a-zA-Z_-]+)(:[^{}]*)?\}`)

// Expand substitutes every {token} and {token:FORMAT} occurrence in value.
// Unknown tokens, selectors outside file-list position, and invalid format
// strings all fail with InvalidPatternError.
func (r *Resolver) Expand(value string) (string, error) {
	var expandErr error
	out := tokenRe.ReplaceAllStringFunc(value, func(match string) string {
		if expandErr != nil {
			return match
		}
		sub := tokenRe.FindStringSubmatch(match)
		format := strings.TrimPrefix(sub[2], ":")
		repl, err := r.expandToken(sub[1], format, match)
		if err != nil {
			expandErr = err
			return match
		}
		return repl
	})
	if expandErr != nil {
		return "", expandErr
	}
	return out, nil
}

func (r *Resolver) expandToken(name, format, raw string) (string, error) {
	now := r.now().In(r.loc)
	canonical := strings.ReplaceAll(strings.ToLower(name), "_", "-")

	var anchor time.Time
	var defaultFormat string
	switch canonical {
	case "today":
		anchor, defaultFormat = now, "YYYY-MM-DD"
	case "yesterday":
		anchor, defaultFormat = now.AddDate(0, 0, -1), "YYYY-MM-DD"
	case "tomorrow":
		anchor, defaultFormat = now.AddDate(0, 0, 1), "YYYY-MM-DD"
	case "this-week":
		anchor, defaultFormat = r.startOfWeek(now), "YYYY-MM-DD"
	case "last-week":
		anchor, defaultFormat = r.startOfWeek(now).AddDate(0, 0, -7), "YYYY-MM-DD"
	case "next-week":
		anchor, defaultFormat = r.startOfWeek(now).AddDate(0, 0, 7), "YYYY-MM-DD"
	case "this-month":
		anchor, defaultFormat = startOfMonth(now), "YYYY-MM"
	case "last-month":
		anchor, defaultFormat = startOfMonth(now).AddDate(0, -1, 0), "YYYY-MM"
	case "day-name":
		anchor, defaultFormat = now, "dddd"
	case "month-name":
		anchor, defaultFormat = now, "MMMM"
	case "latest", "pending":
		return "", &types.InvalidPatternError{
			Pattern: raw,
			Reason:  "selector is only valid as the final segment of a file pattern",
		}
	default:
		return "", &types.InvalidPatternError{Pattern: raw, Reason: "unknown pattern token"}
	}

	if format == "" {
		format = defaultFormat
	}
	return renderFormat(anchor, format, raw)
}

func (r *Resolver) startOfWeek(t time.Time) time.Time {
	delta := (int(t.Weekday()) - int(r.weekStart) + 7) % 7
	return time.Date(t.Year(), t.Month(), t.Day()-delta, 0, 0, 0, 0, t.Location())
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

// formatTokens in longest-match-first order. Case distinguishes months
// (MM) from minutes (mm) and day-of-month (DD) from day names (dddd).
var formatTokens = []struct {
	token  string
	layout string
}{
	{"dddd", "Monday"},
	{"ddd", "Mon"},
	{"YYYY", "2006"},
	{"YY", "06"},
	{"MMMM", "January"},
	{"MMM", "Jan"},
	{"MM", "01"},
	{"DD", "02"},
	{"HH", "15"},
	{"mm", "04"},
	{"ss", "05"},
	{"M", "1"},
	{"D", "2"},
}

func renderFormat(t time.Time, format, raw string) (string, error) {
	var b strings.Builder
	i := 0
scan:
	for i < len(format) {
		for _, ft := range formatTokens {
			if strings.HasPrefix(format[i:], ft.token) {
				b.WriteString(t.Format(ft.layout))
				i += len(ft.token)
				continue scan
			}
		}
		c := format[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
			return "", &types.InvalidPatternError{
				Pattern: raw,
				Reason:  "unknown format token " + string(c),
			}
		}
		b.WriteByte(c)
		i++
	}
	return b.String(), nil
}

// SelectorKind distinguishes the two file-list selectors.
type SelectorKind string

const (
	// SelectorLatest picks the most recent N files by name order.
	SelectorLatest SelectorKind = "latest"

	// SelectorPending picks up to N files not yet marked processed.
	SelectorPending SelectorKind = "pending"
)

// Selector is a {latest[:N]} or {pending[:N]} marker extracted from a file
// pattern.
type Selector struct {
	Kind SelectorKind
	N    int
}

var selectorRe = regexp.MustCompile(`^\{(latest|pending)(?::(\d+))?\}$`)

// ExtractSelector pulls the trailing selector marker off a file pattern,
// returning the glob to match instead plus the parsed selector. A pattern
// without a marker is returned unchanged with a nil selector. Markers must
// stand alone as the final path segment.
func ExtractSelector(pattern string) (string, *Selector, error) {
	dir, last := path.Split(strings.TrimSpace(pattern))
	if !strings.Contains(last, "{latest") && !strings.Contains(last, "{pending") {
		return pattern, nil, nil
	}

	m := selectorRe.FindStringSubmatch(last)
	if m == nil {
		return "", nil, &types.InvalidPatternError{
			Pattern: pattern,
			Reason:  "{latest}/{pending} must stand alone as the final path segment",
		}
	}

	sel := &Selector{Kind: SelectorKind(m[1])}
	switch {
	case m[2] != "":
		n, err := strconv.Atoi(m[2])
		if err != nil || n <= 0 {
			return "", nil, &types.InvalidPatternError{Pattern: pattern, Reason: "selector count must be positive"}
		}
		sel.N = n
	case sel.Kind == SelectorPending:
		sel.N = DefaultPendingLimit
	default:
		sel.N = 1
	}

	return path.Join(dir, "*"), sel, nil
}

// ValidatePathPattern rejects path constructs the sandbox forbids: empty
// patterns, absolute paths, parent references, and recursive globs.
func ValidatePathPattern(pattern string) error {
	if strings.TrimSpace(pattern) == "" {
		return &types.InvalidPatternError{Pattern: pattern, Reason: "empty pattern"}
	}
	if strings.Contains(pattern, "**") {
		return &types.InvalidPatternError{Pattern: pattern, Reason: "recursive globs are not allowed"}
	}
	if filepath.IsAbs(pattern) || strings.HasPrefix(pattern, "/") || strings.HasPrefix(pattern, "\\") {
		return &types.InvalidPatternError{Pattern: pattern, Reason: "absolute paths are not allowed"}
	}
	for _, seg := range strings.Split(pattern, "/") {
		if seg == ".." {
			return &types.InvalidPatternError{Pattern: pattern, Reason: "parent references are not allowed"}
		}
	}
	return nil
}
