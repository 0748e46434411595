package format

import (
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// PeriodDates resolves a report period word into inclusive start and
// end dates. "today" and "yesterday" are single days; "week", "month"
// and "quarter" reach back 7, 30 and 90 days. Two space-separated
// dates are taken verbatim when both parse. Anything else means today.
func PeriodDates(word string, now time.Time) (string, string) {
	today := now.Format(dateLayout)

	switch strings.ToLower(strings.TrimSpace(word)) {
	case "today", "":
		return today, today
	case "yesterday":
		d := now.AddDate(0, 0, -1).Format(dateLayout)
		return d, d
	case "week":
		return now.AddDate(0, 0, -7).Format(dateLayout), today
	case "month":
		return now.AddDate(0, 0, -30).Format(dateLayout), today
	case "quarter":
		return now.AddDate(0, 0, -90).Format(dateLayout), today
	}

	parts := strings.Fields(word)
	if len(parts) == 2 {
		_, err1 := time.Parse(dateLayout, parts[0])
		_, err2 := time.Parse(dateLayout, parts[1])
		if err1 == nil && err2 == nil {
			return parts[0], parts[1]
		}
	}
	return today, today
}
