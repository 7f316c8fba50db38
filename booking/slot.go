package booking

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var dateRegex = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
var clockRegex = regexp.MustCompile(`^([01]?[0-9]|2[0-3]):[0-5][0-9]$`)

// validateDateFormat checks if a string is in YYYY-MM-DD format
func validateDateFormat(date string) bool {
	if !dateRegex.MatchString(date) {
		return false
	}
	_, err := time.Parse("2006-01-02", date)
	return err == nil
}

// NormalizeSlot converts a slot label to canonical 24-hour HH:MM form so two
// spellings of the same slot ("10:00 AM", "10:00") collide in the index.
func NormalizeSlot(label string) (string, error) {
	label = strings.TrimSpace(label)

	// Already 24-hour HH:MM, pad and return
	if clockRegex.MatchString(label) {
		parts := strings.Split(label, ":")
		h, _ := strconv.Atoi(parts[0])
		m, _ := strconv.Atoi(parts[1])
		return fmt.Sprintf("%02d:%02d", h, m), nil
	}

	formats := []string{
		"15:04:05",
		"3:04PM",
		"3:04 PM",
		"3PM",
		"3 PM",
		"3:04:05PM",
		"3:04:05 PM",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, label); err == nil {
			return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute()), nil
		}
	}

	return "", fmt.Errorf("unsupported slot label: %s", label)
}
