package parse

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// The circulars page writes dates as DD/MM/YYYY with occasional dash or dot
// separators, sometimes surrounded by labels. Matching is a search, not a
// full-string parse, so "Published: 05/08/2025" still yields a date.
var datePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(\d{1,2})/(\d{1,2})/(\d{4})`),
	regexp.MustCompile(`(\d{1,2})-(\d{1,2})-(\d{4})`),
	regexp.MustCompile(`(\d{1,2})\.(\d{1,2})\.(\d{4})`),
}

// ParseDate extracts a day-first date from free-form text. The boolean is
// false when no pattern matches or the matched values do not form a real
// calendar date.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, re := range datePatterns {
		m := re.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
		if t.Day() != day || t.Month() != time.Month(month) || t.Year() != year {
			continue
		}
		return t, true
	}
	return time.Time{}, false
}
