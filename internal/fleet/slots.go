package fleet

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var slotPattern = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)?\b`)

// NormalizeSlot converts a loosely written time ("10am", "Tomorrow 2pm",
// "9:00") to the HH:MM form used by the slot table.
func NormalizeSlot(s string) (string, bool) {
	m := slotPattern.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}

	hour, _ := strconv.Atoi(m[1])
	minute := 0
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	switch strings.ToLower(m[3]) {
	case "pm":
		if hour < 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	}
	if hour > 23 || minute > 59 {
		return "", false
	}
	return fmt.Sprintf("%02d:%02d", hour, minute), true
}
