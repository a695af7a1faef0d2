package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"workqueue/internal/queue"
)

var titleCaser = cases.Title(language.English)

var queueListColumns = []column{
	{Header: "Key"},
	{Header: "Type"},
	{Header: "Storage"},
	{Header: "Priority"},
	{Header: "Status"},
	{Header: "Failures", Align: alignRight},
	{Header: "Scheduled"},
	{Header: "Reason", MaxWidth: 48},
}

func buildQueueStatusRows(stats map[queue.Status]int) [][]string {
	if len(stats) == 0 {
		return nil
	}
	rows := make([][]string, 0, len(stats))
	for _, status := range queue.AllStatuses() {
		count, ok := stats[status]
		if !ok {
			continue
		}
		rows = append(rows, []string{formatStatusLabel(string(status)), fmt.Sprintf("%d", count)})
	}
	return rows
}

// buildQueueListRows orders entries the way the dispatcher would consider
// them: priority first, then scheduled time.
func buildQueueListRows(entries []*queue.Entry, now time.Time) [][]string {
	if len(entries) == 0 {
		return nil
	}
	sorted := make([]*queue.Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		pi, pj := priorityRank(sorted[i].Priority), priorityRank(sorted[j].Priority)
		if pi != pj {
			return pi < pj
		}
		return sorted[i].ScheduledTime.Before(sorted[j].ScheduledTime)
	})

	rows := make([][]string, 0, len(sorted))
	for _, e := range sorted {
		rows = append(rows, []string{
			shortKey(e.Key),
			string(e.Type),
			e.StorageKey,
			formatStatusLabel(string(e.Priority)),
			formatStatusLabel(string(e.Status)),
			fmt.Sprintf("%d", e.FailureCount),
			formatRelativeTime(e.ScheduledTime, now),
			firstLine(e.FailureDescription),
		})
	}
	return rows
}

func buildStorageRows(units []*queue.Storage, now time.Time) [][]string {
	rows := make([][]string, 0, len(units))
	for _, u := range units {
		rows = append(rows, []string{
			u.Key,
			formatStatusLabel(string(u.QueueState)),
			humanize.Comma(int64(u.SeriesCount)),
			humanize.Comma(int64(u.InstanceCount)),
			formatRelativeTime(u.LastUpdated, now),
			u.Path,
		})
	}
	return rows
}

func priorityRank(p queue.Priority) int {
	switch p {
	case queue.PriorityStat:
		return 0
	case queue.PriorityHigh:
		return 1
	default:
		return 2
	}
}

func formatStatusLabel(status string) string {
	status = strings.TrimSpace(status)
	if status == "" {
		return ""
	}
	return titleCaser.String(strings.ReplaceAll(status, "_", " "))
}

func formatRelativeTime(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

func formatDisplayTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func shortKey(key string) string {
	if len(key) > 8 {
		return key[:8]
	}
	return key
}

func firstLine(value string) string {
	value = strings.TrimSpace(value)
	if idx := strings.IndexByte(value, '\n'); idx >= 0 {
		return value[:idx] + " ..."
	}
	return value
}
