// Package intent turns free text into structured search filters.
//
// DESIGN: Extraction is deterministic: plain regex and keyword tables, no
// model call. High-confidence phrases ("under $50/day", "an SUV in
// Phoenix") map directly onto slots; anything the extractor cannot read
// with confidence is simply left unset for the model to clarify in
// conversation.
package intent

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/driveline/concierge/internal/session"
)

// categoryAliases maps utterance keywords to canonical vehicle categories.
var categoryAliases = map[string]string{
	"suv":         "suv",
	"crossover":   "suv",
	"sedan":       "sedan",
	"saloon":      "sedan",
	"truck":       "truck",
	"pickup":      "truck",
	"van":         "van",
	"minivan":     "van",
	"convertible": "convertible",
	"cabriolet":   "convertible",
	"compact":     "compact",
	"economy":     "economy",
	"luxury":      "luxury",
	"electric":    "electric",
	"ev":          "electric",
}

var (
	// "under $40/day", "less than $50 a day", "max $35 per day", "under $40"
	budgetPattern = regexp.MustCompile(`(?i)(?:under|below|less\s+than|max(?:imum)?|up\s+to|no\s+more\s+than)\s*\$\s*(\d+(?:\.\d+)?)`)
	// "in Phoenix", "around Salt Lake City", "near Austin"
	locationPattern = regexp.MustCompile(`(?:in|near|around|at)\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+){0,2})`)
	// "2026-09-04 to 2026-09-07"
	isoRangePattern = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})\s*(?:to|through|until|-)\s*(\d{4}-\d{2}-\d{2})`)
	// "no deposit", "without a deposit"
	noDepositPattern = regexp.MustCompile(`(?i)\b(?:no|without\s+a?|zero)\s+deposit\b`)
	depositOKPattern = regexp.MustCompile(`(?i)\bdeposit\s+(?:is\s+)?(?:fine|ok|okay|no\s+problem)\b`)
)

// locationStopwords are capitalized words that match the location pattern
// but are not places.
var locationStopwords = map[string]bool{
	"I": true, "My": true, "The": true, "That": true, "This": true,
	"Suv": true, "SUV": true,
}

// Extract reads slot values out of one utterance and merges them over the
// prior slot set. Existing values are overwritten only when the utterance
// states a new one; every field remains independently settable.
func Extract(text string, prior session.Slots, now time.Time) session.Slots {
	out := prior

	if m := budgetPattern.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil && v > 0 {
			out.BudgetPerDay = &v
		}
	}

	if cat := extractCategory(text); cat != "" {
		out.Category = &cat
	}

	if loc := extractLocation(text); loc != "" {
		out.Location = &loc
	}

	if dr := extractDates(text, now); dr != nil {
		out.Dates = dr
	}

	if noDepositPattern.MatchString(text) {
		v := false
		out.Deposit = &v
	} else if depositOKPattern.MatchString(text) {
		v := true
		out.Deposit = &v
	}

	return out
}

func extractCategory(text string) string {
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:'\"")
		if cat, ok := categoryAliases[word]; ok {
			return cat
		}
	}
	return ""
}

func extractLocation(text string) string {
	for _, m := range locationPattern.FindAllStringSubmatch(text, -1) {
		candidate := m[1]
		if !locationStopwords[strings.Fields(candidate)[0]] {
			return candidate
		}
	}
	return ""
}

// extractDates resolves explicit ISO ranges and a small set of relative
// phrases. Relative phrases are resolved against `now` so the result is
// pure given the clock.
func extractDates(text string, now time.Time) *session.DateRange {
	if m := isoRangePattern.FindStringSubmatch(text); m != nil {
		start, err1 := time.Parse("2006-01-02", m[1])
		end, err2 := time.Parse("2006-01-02", m[2])
		if err1 == nil && err2 == nil && !end.Before(start) {
			return &session.DateRange{Start: m[1], End: m[2]}
		}
	}

	lower := strings.ToLower(text)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	switch {
	case strings.Contains(lower, "next weekend"):
		sat := nextWeekday(today.AddDate(0, 0, 7), time.Saturday)
		return rangeOf(sat, sat.AddDate(0, 0, 1))
	case strings.Contains(lower, "this weekend"):
		sat := nextWeekday(today, time.Saturday)
		return rangeOf(sat, sat.AddDate(0, 0, 1))
	case strings.Contains(lower, "next week"):
		mon := nextWeekday(today.AddDate(0, 0, 1), time.Monday)
		return rangeOf(mon, mon.AddDate(0, 0, 4))
	case strings.Contains(lower, "tomorrow"):
		t := today.AddDate(0, 0, 1)
		return rangeOf(t, t.AddDate(0, 0, 1))
	case strings.Contains(lower, "today"):
		return rangeOf(today, today.AddDate(0, 0, 1))
	}
	return nil
}

// nextWeekday returns the first day >= from that falls on the given weekday.
func nextWeekday(from time.Time, day time.Weekday) time.Time {
	offset := (int(day) - int(from.Weekday()) + 7) % 7
	return from.AddDate(0, 0, offset)
}

func rangeOf(start, end time.Time) *session.DateRange {
	return &session.DateRange{
		Start: start.Format("2006-01-02"),
		End:   end.Format("2006-01-02"),
	}
}

// ordinals maps selection words to candidate list positions.
var ordinals = map[string]int{
	"first": 0, "second": 1, "third": 2, "fourth": 3, "fifth": 4,
	"1st": 0, "2nd": 1, "3rd": 2, "4th": 3, "5th": 4,
}

var selectionVerbs = regexp.MustCompile(`(?i)\b(book|take|pick|choose|select|go\s+with|reserve|want)\b`)

// ExtractSelection resolves an explicit candidate choice ("book the first
// one", "I'll take the Corolla") against the presented list. Returns the
// vehicle ID or "" when no unambiguous selection is present.
func ExtractSelection(text string, candidates []session.VehicleCandidate) string {
	if len(candidates) == 0 || !selectionVerbs.MatchString(text) {
		return ""
	}
	lower := strings.ToLower(text)

	for word, idx := range ordinals {
		if strings.Contains(lower, word) && idx < len(candidates) {
			return candidates[idx].ID
		}
	}

	for _, c := range candidates {
		if c.Model != "" && strings.Contains(lower, strings.ToLower(c.Model)) {
			return c.ID
		}
		if c.Make != "" && strings.Contains(lower, strings.ToLower(c.Make)) {
			return c.ID
		}
	}
	return ""
}
