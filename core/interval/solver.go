// Package interval implements the Interval Solver: a greedy free-slot
// search over merged busy intervals for one user, plus the multi-user
// intersection module used by the Group Scheduler.
package interval

import (
	"sort"
	"time"
)

// Interval is a half-open [Start, End) UTC instant range, tagged with the
// set of accounts (or, for group merges, synthetic group ids) that
// contributed a busy block to it.
type Interval struct {
	Start    time.Time
	End      time.Time
	Accounts map[string]bool
}

// WorkingHoursProfile is a per-user weekly template: local start/end per
// weekday in an IANA timezone. The zero value means "no working-hours
// preference" (every hour scores neutrally).
type WorkingHoursProfile struct {
	Timezone string
	// Days maps time.Weekday -> (local start-of-day minute, local
	// end-of-day minute), e.g. Monday: {540, 1020} for 09:00-17:00.
	Days map[time.Weekday][2]int
}

// Weights controls candidate scoring. Defaults mirror production
// convention of named, tunable float constants.
type Weights struct {
	WorkingHours  float64
	EdgeDistance  float64
	Preference    float64
}

// DefaultWeights are the documented defaults.
var DefaultWeights = Weights{
	WorkingHours: 0.5,
	EdgeDistance: 0.3,
	Preference:   0.2,
}

// MergeOverlapping merges overlapping or adjacent intervals. Idempotent,
// order-independent; the output is pairwise disjoint and sorted by start
// (P6). Each merged interval's Accounts set is the union of every input
// interval's accounts that contributed to it.
func MergeOverlapping(intervals []Interval) []Interval {
	if len(intervals) == 0 {
		return nil
	}

	sorted := make([]Interval, len(intervals))
	copy(sorted, intervals)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start.Equal(sorted[j].Start) {
			return sorted[i].End.Before(sorted[j].End)
		}
		return sorted[i].Start.Before(sorted[j].Start)
	})

	merged := make([]Interval, 0, len(sorted))
	cur := cloneInterval(sorted[0])

	for _, next := range sorted[1:] {
		if !next.Start.After(cur.End) { // overlapping or adjacent
			if next.End.After(cur.End) {
				cur.End = next.End
			}
			for acct := range next.Accounts {
				cur.Accounts[acct] = true
			}
			continue
		}
		merged = append(merged, cur)
		cur = cloneInterval(next)
	}
	merged = append(merged, cur)
	return merged
}

func cloneInterval(i Interval) Interval {
	accts := make(map[string]bool, len(i.Accounts))
	for k := range i.Accounts {
		accts[k] = true
	}
	return Interval{Start: i.Start, End: i.End, Accounts: accts}
}

// AllDayBusyInterval returns the busy block contributed by an all-day
// event: [00:00 of day, 00:00 of next day) in UTC, unless a working-hours
// profile supplies a local midnight for the given timezone.
func AllDayBusyInterval(day time.Time, profile *WorkingHoursProfile) Interval {
	loc := time.UTC
	if profile != nil && profile.Timezone != "" {
		if l, err := time.LoadLocation(profile.Timezone); err == nil {
			loc = l
		}
	}
	local := day.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return Interval{Start: start.UTC(), End: start.AddDate(0, 0, 1).UTC()}
}

// BuildGroupAccountID returns the synthetic account id (`group:<user>`)
// used to tag a participant's merged busy intervals in cross-user data
// paths. It never contains any real account id substring (P7).
func BuildGroupAccountID(userID string) string {
	return "group:" + userID
}

// Candidate is one proposed slot, scored and ranked.
type Candidate struct {
	Start       time.Time
	End         time.Time
	Score       float64
	Explanation string
}

// Solve runs the greedy single-user search: window [start,end], duration
// D, merged busy intervals, and the set of account ids required to be a
// hard block. Returns up to k candidates ranked by score, ties broken by
// earliest start.
func Solve(window Interval, duration time.Duration, busy []Interval, requiredAccounts map[string]bool, profile *WorkingHoursProfile, weights Weights, k int) []Candidate {
	merged := MergeOverlapping(filterRequired(busy, requiredAccounts))

	free := freeSlots(window, merged)

	var candidates []Candidate
	step := 15 * time.Minute

	for _, slot := range free {
		for t := slot.Start; !t.Add(duration).After(slot.End); t = t.Add(step) {
			end := t.Add(duration)
			score := scoreSlot(t, end, window, profile, weights)
			candidates = append(candidates, Candidate{
				Start:       t,
				End:         end,
				Score:       score,
				Explanation: explain(t, end, window, profile),
			})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Start.Before(candidates[j].Start)
	})

	if k > 0 && len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates
}

// filterRequired keeps only busy intervals that intersect at least one
// required account; an interval is a hard block only if it intersects the
// set of required accounts.
func filterRequired(busy []Interval, required map[string]bool) []Interval {
	if len(required) == 0 {
		return busy
	}
	out := make([]Interval, 0, len(busy))
	for _, b := range busy {
		for acct := range b.Accounts {
			if required[acct] {
				out = append(out, b)
				break
			}
		}
	}
	return out
}

// freeSlots computes the complement of merged busy intervals within window.
func freeSlots(window Interval, busy []Interval) []Interval {
	var free []Interval
	cursor := window.Start
	for _, b := range busy {
		if b.Start.After(cursor) {
			free = append(free, Interval{Start: cursor, End: b.Start})
		}
		if b.End.After(cursor) {
			cursor = b.End
		}
	}
	if cursor.Before(window.End) {
		free = append(free, Interval{Start: cursor, End: window.End})
	}
	return free
}

func scoreSlot(start, end time.Time, window Interval, profile *WorkingHoursProfile, w Weights) float64 {
	workingHoursScore := workingHoursCompliance(start, end, profile)
	edgeScore := edgeDistance(start, end, window)
	preferenceScore := 1.0 // no per-slot preference signal modeled beyond working hours; reserved for future weighting

	return w.WorkingHours*workingHoursScore + w.EdgeDistance*edgeScore + w.Preference*preferenceScore
}

func workingHoursCompliance(start, end time.Time, profile *WorkingHoursProfile) float64 {
	if profile == nil || len(profile.Days) == 0 {
		return 1.0
	}
	loc := time.UTC
	if profile.Timezone != "" {
		if l, err := time.LoadLocation(profile.Timezone); err == nil {
			loc = l
		}
	}
	localStart := start.In(loc)
	bounds, ok := profile.Days[localStart.Weekday()]
	if !ok {
		return 0.0
	}
	minuteOfDay := localStart.Hour()*60 + localStart.Minute()
	endLocal := end.In(loc)
	endMinuteOfDay := endLocal.Hour()*60 + endLocal.Minute()
	if localStart.Day() != endLocal.Day() {
		return 0.0
	}
	if minuteOfDay >= bounds[0] && endMinuteOfDay <= bounds[1] {
		return 1.0
	}
	return 0.0
}

// edgeDistance rewards candidates further from the window's edges,
// normalized into [0,1].
func edgeDistance(start, end time.Time, window Interval) float64 {
	total := window.End.Sub(window.Start)
	if total <= 0 {
		return 0
	}
	fromStart := start.Sub(window.Start)
	fromEnd := window.End.Sub(end)
	nearest := fromStart
	if fromEnd < nearest {
		nearest = fromEnd
	}
	score := float64(nearest) / (float64(total) / 2)
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}

func explain(start, end time.Time, window Interval, profile *WorkingHoursProfile) string {
	if workingHoursCompliance(start, end, profile) == 1.0 {
		return "within working hours"
	}
	return "outside working hours"
}

// MultiUserMerge merges each user's busy intervals independently (already
// tagged with their synthetic group id by the caller) and returns the
// union list, ready for Solve's requiredAccounts filter keyed by
// `group:<user>` ids. This is the sole data that crosses user boundaries
// for scheduling.
func MultiUserMerge(perUser map[string][]Interval) []Interval {
	var all []Interval
	for user, busy := range perUser {
		tagged := make([]Interval, len(busy))
		for i, b := range busy {
			tagged[i] = Interval{Start: b.Start, End: b.End, Accounts: map[string]bool{BuildGroupAccountID(user): true}}
		}
		merged := MergeOverlapping(tagged)
		all = append(all, merged...)
	}
	return all
}
