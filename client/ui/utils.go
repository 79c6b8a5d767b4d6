package ui

import (
	"fmt"
	"time"
)

// formatTime formats a message timestamp for the thread
func formatTime(t, now time.Time) string {
	t = t.Local()
	diff := now.Sub(t)
	switch {
	case diff < 24*time.Hour:
		return t.Format("15:04")
	case diff < 48*time.Hour:
		return "Yesterday"
	default:
		return t.Format("Jan 2")
	}
}

// formatLastSeen formats the last seen timestamp for display
func formatLastSeen(t *time.Time, now time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}

	diff := now.Sub(*t)
	if diff < time.Minute {
		return "just now"
	} else if diff < time.Hour {
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 min ago"
		}
		return fmt.Sprintf("%d min ago", mins)
	} else if diff < 24*time.Hour {
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	} else if diff < 30*24*time.Hour {
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	}
	return t.Local().Format("Jan 2, 2006")
}

// formatDateSeparator formats a date for display as a separator
func formatDateSeparator(t, now time.Time) string {
	t = t.In(now.Location())
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	yesterday := today.AddDate(0, 0, -1)
	msgDate := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, now.Location())

	if msgDate.Equal(today) {
		return "Today"
	} else if msgDate.Equal(yesterday) {
		return "Yesterday"
	} else if msgDate.Year() == now.Year() {
		return t.Format("January 2")
	}
	return t.Format("January 2, 2006")
}

func sameDay(a, b time.Time) bool {
	a, b = a.Local(), b.Local()
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}
