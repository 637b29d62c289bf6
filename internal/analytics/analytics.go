package analytics

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"webhook-receiver/internal/event"
)

// DailyStats summarizes the events received on one day
type DailyStats struct {
	Date           string                  `json:"date"`
	TotalEvents    int                     `json:"total_events"`
	UniqueSessions int                     `json:"unique_sessions"`
	EventsBySource map[string]int          `json:"events_by_source"`
	SessionStats   map[string]SessionStats `json:"session_stats"`
}

type SessionStats struct {
	SessionID string    `json:"session_id"`
	Events    int       `json:"events"`
	LastEvent time.Time `json:"last_event"`
}

// AnalyzeDailyEvents counts events whose ReceivedAt falls on targetDate in targetDate's location.
func AnalyzeDailyEvents(events []event.Event, targetDate time.Time) *DailyStats {
	startOfDay := time.Date(targetDate.Year(), targetDate.Month(), targetDate.Day(), 0, 0, 0, 0, targetDate.Location())
	endOfDay := startOfDay.AddDate(0, 0, 1)

	stats := &DailyStats{
		Date:           startOfDay.Format("2006-01-02"),
		EventsBySource: make(map[string]int),
		SessionStats:   make(map[string]SessionStats),
	}

	for _, ev := range events {
		if ev.ReceivedAt.Before(startOfDay) || !ev.ReceivedAt.Before(endOfDay) {
			continue
		}
		stats.TotalEvents++
		stats.EventsBySource[strings.ToLower(ev.Source)]++

		if ev.SessionID == "" {
			continue
		}
		ss := stats.SessionStats[ev.SessionID]
		ss.SessionID = ev.SessionID
		ss.Events++
		if ev.ReceivedAt.After(ss.LastEvent) {
			ss.LastEvent = ev.ReceivedAt
		}
		stats.SessionStats[ev.SessionID] = ss
	}

	stats.UniqueSessions = len(stats.SessionStats)
	return stats
}

// GenerateReportSummary renders a short plain-text digest suitable for logs.
func (ds *DailyStats) GenerateReportSummary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Webhook activity for %s: %d events, %d sessions\n", ds.Date, ds.TotalEvents, ds.UniqueSessions)

	sources := make([]string, 0, len(ds.EventsBySource))
	for s := range ds.EventsBySource {
		sources = append(sources, s)
	}
	sort.Strings(sources)
	for _, s := range sources {
		fmt.Fprintf(&b, "- %s: %d\n", s, ds.EventsBySource[s])
	}
	return b.String()
}

// ToJSON renders the stats as a single-line JSON record.
func (ds *DailyStats) ToJSON() (string, error) {
	data, err := json.Marshal(ds)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
