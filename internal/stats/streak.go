package stats

import "time"

// ComputeStreaks derives current and longest streaks from the distinct set
// of calendar days that have at least one activity. Days must be midnight
// truncated in one timezone; duplicates are tolerated.
//
// The current streak is the run of consecutive days ending today or
// yesterday; a last activity older than that means the streak is broken.
// The longest streak is the longest consecutive run ever observed.
func ComputeStreaks(days []time.Time, today time.Time) (current, longest int) {
	if len(days) == 0 {
		return 0, 0
	}

	seen := make(map[int64]struct{}, len(days))
	var latest int64
	for _, day := range days {
		n := dayNumber(day)
		seen[n] = struct{}{}
		if n > latest {
			latest = n
		}
	}

	for n := range seen {
		if _, ok := seen[n-1]; ok {
			continue // not the start of a run
		}
		run := 1
		for {
			if _, ok := seen[n+int64(run)]; !ok {
				break
			}
			run++
		}
		if run > longest {
			longest = run
		}
	}

	todayN := dayNumber(today)
	if latest == todayN || latest == todayN-1 {
		for n := latest; ; n-- {
			if _, ok := seen[n]; !ok {
				break
			}
			current++
		}
	}
	return current, longest
}

func dayNumber(t time.Time) int64 {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).Unix() / 86400
}
