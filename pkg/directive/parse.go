// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package directive

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/teradata-labs/assistantmd/pkg/patterns"
	"github.com/teradata-labs/assistantmd/pkg/types"
)

// Fixed-role section headings, matched case-insensitively.
const (
	headingInstructions        = "instructions"
	headingChatInstructions    = "chat instructions"
	headingContextInstructions = "context instructions"
)

// Parse turns one markdown definition file into a typed Definition. The
// name is the file base name without extension; kind selects which
// directives and frontmatter keys are legal.
func Parse(name string, content []byte, kind Kind) (*Definition, error) {
	fm, err := extractFrontmatter(string(content))
	if err != nil {
		return nil, err
	}

	def := &Definition{
		Name:            name,
		Kind:            kind,
		Engine:          "step",
		Enabled:         true,
		WeekStartDay:    time.Monday,
		PassthroughRuns: CountAll,
		Custom:          map[string]interface{}{},
	}
	digest := sha256.Sum256(content)
	def.SourceDigest = hex.EncodeToString(digest[:])

	if err := applyFrontmatter(def, fm.Fields); err != nil {
		return nil, err
	}
	if err := parseBody(def, fm.Body, fm.BodyStart); err != nil {
		return nil, err
	}
	checkToolOutputOverlap(def)
	return def, nil
}

// applyFrontmatter validates the recognized keys and preserves unknown
// ones under Custom.
func applyFrontmatter(def *Definition, fields map[string]interface{}) error {
	for key, raw := range fields {
		switch strings.ToLower(strings.ReplaceAll(key, "-", "_")) {
		case "workflow_engine":
			engine := strings.TrimSpace(asString(raw))
			if engine != "step" {
				return &types.DirectiveParseError{Line: 1, Name: "workflow_engine", Reason: fmt.Sprintf("unknown engine %q (only \"step\" is defined)", engine)}
			}
			def.Engine = engine
		case "schedule":
			sched, err := ParseSchedule(asString(raw), time.Local, time.Now())
			if err != nil {
				// The definition still loads; it just schedules nothing.
				def.ScheduleError = err.Error()
				continue
			}
			def.Schedule = sched
		case "enabled":
			b, ok := raw.(bool)
			if !ok {
				return &types.DirectiveParseError{Line: 1, Name: "enabled", Reason: fmt.Sprintf("expected true or false, got %v", raw)}
			}
			def.Enabled = b
		case "description":
			def.Description = asString(raw)
		case "week_start_day":
			day, ok := parseDayName(asString(raw))
			if !ok {
				return &types.DirectiveParseError{Line: 1, Name: "week_start_day", Reason: fmt.Sprintf("unknown day name %q", raw)}
			}
			def.WeekStartDay = day
		case "passthrough_runs":
			if def.Kind != KindContextTemplate {
				return &types.DirectiveParseError{Line: 1, Name: "passthrough_runs", Reason: "only valid in context templates"}
			}
			n, err := parseCount(raw)
			if err != nil {
				return &types.DirectiveParseError{Line: 1, Name: "passthrough_runs", Reason: err.Error()}
			}
			def.PassthroughRuns = n
		case "token_threshold":
			if def.Kind != KindContextTemplate {
				return &types.DirectiveParseError{Line: 1, Name: "token_threshold", Reason: "only valid in context templates"}
			}
			n, err := parseCount(raw)
			if err != nil || n < 0 {
				return &types.DirectiveParseError{Line: 1, Name: "token_threshold", Reason: fmt.Sprintf("expected a non-negative integer, got %v", raw)}
			}
			def.TokenThreshold = n
		default:
			def.Custom[key] = raw
		}
	}
	return nil
}

var headingRe = regexp.MustCompile(`^##\s+(.+?)\s*$`)

// parseBody splits the markdown into level-2 sections and parses each
// executable section's directive block.
func parseBody(def *Definition, body string, startLine int) error {
	lines := strings.Split(body, "\n")

	type section struct {
		heading string
		line    int
		lines   []string
	}
	var sections []*section
	var current *section

	for i, line := range lines {
		if m := headingRe.FindStringSubmatch(line); m != nil {
			current = &section{heading: m[1], line: startLine + i}
			sections = append(sections, current)
			continue
		}
		if current != nil {
			current.lines = append(current.lines, line)
		}
	}

	for _, sec := range sections {
		switch strings.ToLower(sec.heading) {
		case headingInstructions:
			def.Instructions = strings.TrimSpace(strings.Join(sec.lines, "\n"))
		case headingChatInstructions:
			if def.Kind != KindContextTemplate {
				return &types.DirectiveParseError{Line: sec.line, Reason: "section \"Chat Instructions\" is only valid in context templates"}
			}
			def.ChatInstructions = strings.TrimSpace(strings.Join(sec.lines, "\n"))
		case headingContextInstructions:
			if def.Kind != KindContextTemplate {
				return &types.DirectiveParseError{Line: sec.line, Reason: "section \"Context Instructions\" is only valid in context templates"}
			}
			def.ContextInstructions = strings.TrimSpace(strings.Join(sec.lines, "\n"))
		default:
			step, err := parseStep(sec.heading, sec.lines, sec.line, def.Kind)
			if err != nil {
				return err
			}
			step.Index = len(def.Steps)
			def.Steps = append(def.Steps, *step)
		}
	}
	return nil
}

// parseStep consumes directive lines at the top of a section. The first
// non-directive non-blank line ends the block; the remainder is the body.
func parseStep(heading string, lines []string, headingLine int, kind Kind) (*Step, error) {
	step := &Step{
		Heading:   heading,
		Line:      headingLine,
		WriteMode: types.WriteModeAppend,
		RunOn:     DayMaskAll,
	}

	bodyFrom := len(lines)
	modelLine := headingLine
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(trimmed, "@") {
			bodyFrom = i
			break
		}
		before := step.Model
		if err := applyDirective(step, trimmed, headingLine+1+i, kind); err != nil {
			return nil, err
		}
		if step.Model != before {
			modelLine = headingLine + 1 + i
		}
	}
	step.Body = strings.TrimSpace(strings.Join(lines[bodyFrom:], "\n"))

	// A model response must land somewhere. Only @model none steps may
	// omit every destination; they pass their inputs through instead.
	if step.Model != "" && !step.ModelNone() && !step.RoutesOutput() {
		return nil, &types.DirectiveParseError{Line: modelLine, Name: "model", Reason: "model response has no destination; add @output or use @model none"}
	}
	return step, nil
}

var directiveRe = regexp.MustCompile(`^@([a-zA-Z][a-zA-Z0-9_-]*):?\s*(.*)$`)

// applyDirective parses one @name line and folds it into the step.
// Unknown names are a parse error so typos surface on rescan.
func applyDirective(step *Step, line string, lineNo int, kind Kind) error {
	m := directiveRe.FindStringSubmatch(line)
	if m == nil {
		return &types.DirectiveParseError{Line: lineNo, Reason: "malformed directive line"}
	}
	name := strings.ToLower(strings.ReplaceAll(m[1], "-", "_"))
	rest := strings.TrimSpace(m[2])

	fail := func(reason string) error {
		return &types.DirectiveParseError{Line: lineNo, Name: name, Reason: reason}
	}
	contextOnly := func() error {
		if kind != KindContextTemplate {
			return fail("only valid in context templates")
		}
		return nil
	}

	switch name {
	case "input":
		value, params, err := splitTrailingParams(rest)
		if err != nil {
			return fail(err.Error())
		}
		spec, err := parseInputSpec(value, params, kind)
		if err != nil {
			return fail(err.Error())
		}
		spec.Line = lineNo
		step.Inputs = append(step.Inputs, *spec)

	case "output":
		value, params, err := splitTrailingParams(rest)
		if err != nil {
			return fail(err.Error())
		}
		spec, err := parseOutputSpec(value, kind)
		if err != nil {
			return fail(err.Error())
		}
		for _, p := range params {
			switch p.key {
			case "scope":
				scope := types.Scope(p.value)
				if !scope.Valid() {
					return fail(fmt.Sprintf("unknown scope %q", p.value))
				}
				spec.Scope = scope
			case "write_mode":
				mode := types.WriteMode(p.value)
				if !mode.Valid() {
					return fail(fmt.Sprintf("unknown write mode %q", p.value))
				}
				spec.WriteMode = mode
			default:
				return fail(fmt.Sprintf("unknown parameter %q", p.key))
			}
		}
		step.Outputs = append(step.Outputs, *spec)

	case "header":
		if kind != KindWorkflow {
			return fail("only valid in workflows")
		}
		if rest == "" {
			return fail("missing header text")
		}
		step.Header = rest

	case "model":
		value, params, err := splitTrailingParams(rest)
		if err != nil {
			return fail(err.Error())
		}
		if value == "" {
			return fail("missing model alias")
		}
		step.Model = value
		for _, p := range params {
			if p.key != "thinking" {
				return fail(fmt.Sprintf("unknown parameter %q", p.key))
			}
			step.Thinking = p.value == "" || strings.EqualFold(p.value, "true")
		}

	case "write_mode":
		mode := types.WriteMode(rest)
		if !mode.Valid() {
			return fail(fmt.Sprintf("expected append, replace, or new, got %q", rest))
		}
		step.WriteMode = mode

	case "run_on":
		mask, err := parseRunOn(rest)
		if err != nil {
			return fail(err.Error())
		}
		step.RunOn = mask

	case "tools":
		specs, err := parseToolTokens(rest, kind)
		if err != nil {
			return fail(err.Error())
		}
		// Later parameters for a repeated tool name win.
		for _, spec := range specs {
			replaced := false
			for i := range step.Tools {
				if step.Tools[i].Name == spec.Name {
					step.Tools[i] = spec
					replaced = true
					break
				}
			}
			if !replaced {
				step.Tools = append(step.Tools, spec)
			}
		}

	case "cache":
		if err := contextOnly(); err != nil {
			return err
		}
		spec, err := parseCacheSpec(rest)
		if err != nil {
			return fail(err.Error())
		}
		step.Cache = spec

	case "recent_runs":
		if err := contextOnly(); err != nil {
			return err
		}
		n, err := parseCount(rest)
		if err != nil {
			return fail(err.Error())
		}
		step.RecentRuns = n

	case "recent_summaries":
		if err := contextOnly(); err != nil {
			return err
		}
		n, err := parseCount(rest)
		if err != nil {
			return fail(err.Error())
		}
		step.RecentSummaries = n

	default:
		return fail("unknown directive")
	}
	return nil
}

// param is one entry from a trailing (k=v, flag, k="v,w") group.
type param struct {
	key   string
	value string
}

// splitTrailingParams separates a directive value from its trailing
// parenthesized parameter group, if any.
func splitTrailingParams(rest string) (string, []param, error) {
	if !strings.HasSuffix(rest, ")") {
		return rest, nil, nil
	}
	open := strings.LastIndex(rest, "(")
	if open == -1 {
		return "", nil, fmt.Errorf("unbalanced parameter parentheses")
	}
	value := strings.TrimSpace(rest[:open])
	params, err := parseParams(rest[open+1 : len(rest)-1])
	if err != nil {
		return "", nil, err
	}
	return value, params, nil
}

// parseParams splits "k=v, flag, k2=\"v,w\"" respecting double quotes.
func parseParams(s string) ([]param, error) {
	var params []param
	for _, field := range splitTopLevel(s, ',') {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		key, value, found := strings.Cut(field, "=")
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("empty parameter name in %q", s)
		}
		if !found {
			params = append(params, param{key: strings.ToLower(strings.ReplaceAll(key, "-", "_"))})
			continue
		}
		value = strings.TrimSpace(value)
		if len(value) >= 2 && strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`) {
			value = value[1 : len(value)-1]
		}
		params = append(params, param{key: strings.ToLower(strings.ReplaceAll(key, "-", "_")), value: value})
	}
	return params, nil
}

// splitTopLevel splits on sep outside double quotes and parentheses.
func splitTopLevel(s string, sep byte) []string {
	var parts []string
	depth := 0
	quoted := false
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			quoted = !quoted
		case '(':
			if !quoted {
				depth++
			}
		case ')':
			if !quoted && depth > 0 {
				depth--
			}
		case sep:
			if !quoted && depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}

// parseOutputSpec parses "file: PATH", "variable: NAME", "context", or
// "discard". Context destinations are only legal in context templates.
func parseOutputSpec(value string, kind Kind) (*types.OutputSpec, error) {
	prefix, target, found := strings.Cut(value, ":")
	prefix = strings.TrimSpace(strings.ToLower(prefix))
	target = strings.TrimSpace(target)

	switch prefix {
	case "file":
		if !found || target == "" {
			return nil, fmt.Errorf("file destination requires a path")
		}
		if err := patterns.ValidatePathPattern(target); err != nil {
			return nil, err
		}
		return &types.OutputSpec{Dest: types.DestFile, Target: target}, nil
	case "variable":
		if !found || target == "" {
			return nil, fmt.Errorf("variable destination requires a name")
		}
		return &types.OutputSpec{Dest: types.DestVariable, Target: target}, nil
	case "context":
		if kind != KindContextTemplate {
			return nil, fmt.Errorf("context destination is only valid in context templates")
		}
		return &types.OutputSpec{Dest: types.DestContext}, nil
	case "discard":
		return &types.OutputSpec{Dest: types.DestDiscard}, nil
	case "inline":
		return &types.OutputSpec{Dest: types.DestInline}, nil
	default:
		return nil, fmt.Errorf("unknown destination %q", value)
	}
}

// parseInputSpec parses "file: PATTERN" or "variable: NAME" plus the
// flag set required | refs_only | head=N | properties[="K1,K2"] |
// output=… | write_mode=… | scope=….
func parseInputSpec(value string, params []param, kind Kind) (*InputSpec, error) {
	prefix, target, found := strings.Cut(value, ":")
	prefix = strings.TrimSpace(strings.ToLower(prefix))
	target = strings.TrimSpace(target)
	if !found || target == "" {
		return nil, fmt.Errorf("expected file:PATTERN or variable:NAME, got %q", value)
	}

	spec := &InputSpec{Value: target}
	switch prefix {
	case "file":
		spec.Kind = SourceFile
		if err := patterns.ValidatePathPattern(target); err != nil {
			return nil, err
		}
	case "variable":
		spec.Kind = SourceVariable
	default:
		return nil, fmt.Errorf("unknown input source %q", prefix)
	}

	for _, p := range params {
		switch p.key {
		case "required":
			spec.Required = true
		case "refs_only":
			spec.RefsOnly = true
		case "head":
			n, err := strconv.Atoi(p.value)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("head requires a positive integer, got %q", p.value)
			}
			spec.Head = n
		case "properties":
			filter := &PropertiesFilter{}
			if p.value != "" {
				for _, key := range strings.Split(p.value, ",") {
					if key = strings.TrimSpace(key); key != "" {
						filter.Keys = append(filter.Keys, key)
					}
				}
			}
			spec.Properties = filter
		case "output":
			out, err := parseOutputSpec(p.value, kind)
			if err != nil {
				return nil, fmt.Errorf("output parameter: %w", err)
			}
			spec.Output = out
		case "write_mode":
			mode := types.WriteMode(p.value)
			if !mode.Valid() {
				return nil, fmt.Errorf("unknown write mode %q", p.value)
			}
			spec.WriteMode = mode
		case "scope":
			scope := types.Scope(p.value)
			if !scope.Valid() {
				return nil, fmt.Errorf("unknown scope %q", p.value)
			}
			spec.Scope = scope
		default:
			return nil, fmt.Errorf("unknown parameter %q", p.key)
		}
	}
	return spec, nil
}

// parseToolTokens parses the @tools value: a comma-separated token list
// where each token is name[(output=…, write_mode=…, scope=…)].
func parseToolTokens(value string, kind Kind) ([]ToolSpec, error) {
	if strings.TrimSpace(value) == "" {
		return nil, fmt.Errorf("missing tool list")
	}
	var specs []ToolSpec
	for _, token := range splitTopLevel(value, ',') {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		name, params, err := splitTrailingParams(token)
		if err != nil {
			return nil, err
		}
		if name == "" || strings.ContainsAny(name, " \t") {
			return nil, fmt.Errorf("malformed tool token %q", token)
		}
		spec := ToolSpec{Name: name}
		for _, p := range params {
			switch p.key {
			case "output":
				out, err := parseOutputSpec(p.value, kind)
				if err != nil {
					return nil, fmt.Errorf("tool %s output: %w", name, err)
				}
				spec.Output = out
			case "write_mode":
				mode := types.WriteMode(p.value)
				if !mode.Valid() {
					return nil, fmt.Errorf("tool %s: unknown write mode %q", name, p.value)
				}
				spec.WriteMode = mode
			case "scope":
				scope := types.Scope(p.value)
				if !scope.Valid() {
					return nil, fmt.Errorf("tool %s: unknown scope %q", name, p.value)
				}
				spec.Scope = scope
			default:
				return nil, fmt.Errorf("tool %s: unknown parameter %q", name, p.key)
			}
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// parseRunOn parses "daily", "never", or a comma/space separated list of
// day names and abbreviations.
func parseRunOn(value string) (DayMask, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "":
		return 0, fmt.Errorf("missing day list")
	case "daily":
		return DayMaskAll, nil
	case "never":
		return DayMaskNever, nil
	}

	mask := DayMaskNever
	for _, field := range strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' }) {
		day, ok := parseDayName(field)
		if !ok {
			return 0, fmt.Errorf("unknown day %q", field)
		}
		mask = mask.With(day)
	}
	return mask, nil
}

var dayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday, "tues": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

func parseDayName(s string) (time.Weekday, bool) {
	day, ok := dayNames[strings.ToLower(strings.TrimSpace(s))]
	return day, ok
}

var durationRe = regexp.MustCompile(`^(\d+)([smhd])$`)

// parseCacheSpec parses session, daily, weekly, or <N>{s,m,h,d}.
func parseCacheSpec(value string) (*CacheSpec, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "session":
		return &CacheSpec{Kind: CacheSession}, nil
	case "daily":
		return &CacheSpec{Kind: CacheDaily}, nil
	case "weekly":
		return &CacheSpec{Kind: CacheWeekly}, nil
	}
	m := durationRe.FindStringSubmatch(strings.TrimSpace(value))
	if m == nil {
		return nil, fmt.Errorf("expected session, daily, weekly, or a duration like 30m, got %q", value)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return nil, fmt.Errorf("duration count must be positive")
	}
	unit := map[string]time.Duration{"s": time.Second, "m": time.Minute, "h": time.Hour, "d": 24 * time.Hour}[m[2]]
	return &CacheSpec{Kind: CacheDuration, TTL: time.Duration(n) * unit}, nil
}

// parseCount parses a non-negative integer or "all" (CountAll).
func parseCount(raw interface{}) (int, error) {
	switch v := raw.(type) {
	case int:
		if v < 0 {
			return 0, fmt.Errorf("expected a non-negative integer, got %d", v)
		}
		return v, nil
	case string:
		if strings.EqualFold(strings.TrimSpace(v), "all") {
			return CountAll, nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n < 0 {
			return 0, fmt.Errorf("expected a non-negative integer or \"all\", got %q", v)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("expected a non-negative integer or \"all\", got %v", raw)
	}
}

func asString(raw interface{}) string {
	if s, ok := raw.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", raw)
}

// checkToolOutputOverlap records a warning for steps that combine
// @output file: with the file_ops_safe tool. Both writers are allowed;
// the last write wins per ordinary file semantics.
func checkToolOutputOverlap(def *Definition) {
	for i := range def.Steps {
		step := &def.Steps[i]
		hasFileOutput := false
		for _, out := range step.Outputs {
			if out.Dest == types.DestFile {
				hasFileOutput = true
				break
			}
		}
		if !hasFileOutput {
			continue
		}
		for _, tool := range step.Tools {
			if tool.Name == "file_ops_safe" {
				def.Warnings = append(def.Warnings, fmt.Sprintf(
					"step %q combines @output file: with the file_ops_safe tool; both may write the same path", step.Heading))
				break
			}
		}
	}
}
