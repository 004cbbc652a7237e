package routing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/relayhq/intake-engine/pkg/logging"
)

// Input carries the conversation facts a rule can match on.
type Input struct {
	Now    time.Time
	Origin string // channel origin, e.g. "whatsapp", "webchat"
	Text   string // first inbound message text
	Sector string // classified sector/intent label
}

// RuleSource supplies the active rule set in evaluation order.
type RuleSource interface {
	ListActive(ctx context.Context) ([]*Rule, error)
}

// Evaluator applies first-match-wins routing over the active rules.
type Evaluator struct {
	rules  RuleSource
	logger *logging.Logger
}

// NewEvaluator builds a rule evaluator.
func NewEvaluator(rules RuleSource, logger *logging.Logger) *Evaluator {
	if rules == nil {
		panic("routing: rule source required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Evaluator{rules: rules, logger: logger}
}

// Evaluate returns the decision of the highest-priority matching rule, or nil
// when no rule matches. A malformed rule is skipped, never fatal: one bad row
// must not stop intake.
func (e *Evaluator) Evaluate(ctx context.Context, in Input) (*Decision, error) {
	rules, err := e.rules.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range rules {
		ok, err := Matches(r, in)
		if err != nil {
			e.logger.Warn("skipping malformed routing rule", "rule_id", r.ID, "error", err)
			continue
		}
		if ok {
			return &Decision{Rule: r, DestinationType: r.DestinationType, DestinationID: r.DestinationID}, nil
		}
	}
	return nil, nil
}

// Matches reports whether a single rule matches the input.
func Matches(r *Rule, in Input) (bool, error) {
	switch r.ConditionType {
	case ConditionSchedule:
		return scheduleMatches(r.ConditionValue, in.Now)
	case ConditionOrigin:
		return strings.EqualFold(r.ConditionValue, in.Origin), nil
	case ConditionKeyword:
		return strings.Contains(strings.ToLower(in.Text), strings.ToLower(r.ConditionValue)), nil
	case ConditionSector:
		return strings.EqualFold(r.ConditionValue, in.Sector), nil
	default:
		return false, fmt.Errorf("routing: unknown condition type %q", r.ConditionType)
	}
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday,
	"wed": time.Wednesday, "thu": time.Thursday, "fri": time.Friday,
	"sat": time.Saturday,
}

// scheduleMatches evaluates values like "mon-fri 09:00-18:00" or
// "sat 08:00-12:00" against the given instant. Time windows may wrap
// midnight.
func scheduleMatches(value string, now time.Time) (bool, error) {
	fields := strings.Fields(strings.ToLower(value))
	if len(fields) != 2 {
		return false, fmt.Errorf("routing: bad schedule %q", value)
	}

	dayOK, err := dayInRange(fields[0], now.Weekday())
	if err != nil {
		return false, err
	}
	if !dayOK {
		return false, nil
	}

	start, end, err := parseTimeWindow(fields[1])
	if err != nil {
		return false, err
	}
	minute := now.Hour()*60 + now.Minute()
	if start == end {
		return true, nil
	}
	if start < end {
		return minute >= start && minute < end, nil
	}
	// Overnight window.
	return minute >= start || minute < end, nil
}

func dayInRange(spec string, day time.Weekday) (bool, error) {
	from, to, found := strings.Cut(spec, "-")
	fromDay, ok := weekdays[from]
	if !ok {
		return false, fmt.Errorf("routing: bad day %q", from)
	}
	if !found {
		return day == fromDay, nil
	}
	toDay, ok := weekdays[to]
	if !ok {
		return false, fmt.Errorf("routing: bad day %q", to)
	}
	// Ranges may wrap the week, e.g. "fri-mon".
	if fromDay <= toDay {
		return day >= fromDay && day <= toDay, nil
	}
	return day >= fromDay || day <= toDay, nil
}

func parseTimeWindow(spec string) (start, end int, err error) {
	from, to, found := strings.Cut(spec, "-")
	if !found {
		return 0, 0, fmt.Errorf("routing: bad time window %q", spec)
	}
	if start, err = parseMinutes(from); err != nil {
		return 0, 0, err
	}
	if end, err = parseMinutes(to); err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

func parseMinutes(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("routing: bad time %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}
