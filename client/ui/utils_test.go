package ui

import (
	"testing"
	"time"
)

func TestFormatTime(t *testing.T) {
	now := time.Date(2024, 5, 10, 15, 0, 0, 0, time.Local)

	tests := []struct {
		name string
		at   time.Time
		want string
	}{
		{"same day", now.Add(-2 * time.Hour), "13:00"},
		{"within a day", now.Add(-23 * time.Hour), now.Add(-23 * time.Hour).Format("15:04")},
		{"yesterday", now.Add(-30 * time.Hour), "Yesterday"},
		{"older", now.Add(-72 * time.Hour), "May 7"},
	}
	for _, tt := range tests {
		if got := formatTime(tt.at, now); got != tt.want {
			t.Errorf("%s: formatTime = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestFormatLastSeen(t *testing.T) {
	now := time.Date(2024, 5, 10, 15, 0, 0, 0, time.Local)
	at := func(d time.Duration) *time.Time {
		v := now.Add(-d)
		return &v
	}

	tests := []struct {
		at   *time.Time
		want string
	}{
		{nil, ""},
		{at(10 * time.Second), "just now"},
		{at(time.Minute), "1 min ago"},
		{at(5 * time.Minute), "5 min ago"},
		{at(time.Hour), "1 hour ago"},
		{at(3 * time.Hour), "3 hours ago"},
		{at(24 * time.Hour), "1 day ago"},
		{at(4 * 24 * time.Hour), "4 days ago"},
		{at(60 * 24 * time.Hour), "Mar 11, 2024"},
	}
	for _, tt := range tests {
		if got := formatLastSeen(tt.at, now); got != tt.want {
			t.Errorf("formatLastSeen(%v) = %q, want %q", tt.at, got, tt.want)
		}
	}
}

func TestFormatDateSeparator(t *testing.T) {
	now := time.Date(2024, 5, 10, 15, 0, 0, 0, time.Local)

	tests := []struct {
		at   time.Time
		want string
	}{
		{now.Add(-time.Hour), "Today"},
		{time.Date(2024, 5, 9, 23, 59, 0, 0, time.Local), "Yesterday"},
		{time.Date(2024, 2, 1, 12, 0, 0, 0, time.Local), "February 1"},
		{time.Date(2023, 12, 31, 12, 0, 0, 0, time.Local), "December 31, 2023"},
	}
	for _, tt := range tests {
		if got := formatDateSeparator(tt.at, now); got != tt.want {
			t.Errorf("formatDateSeparator(%v) = %q, want %q", tt.at, got, tt.want)
		}
	}
}
