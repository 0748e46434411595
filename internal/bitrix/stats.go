package bitrix

import "time"

// Task status codes as the task sub-API reports them.
const (
	StatusNew             = 1
	StatusPending         = 2
	StatusInProgress      = 3
	StatusAwaitingControl = 4
	StatusCompleted       = 5
	StatusDeferred        = 6
	StatusRejected        = 7
)

// TaskStats aggregates a user's tasks by status. Rejected tasks are
// excluded from every counter, including Total, so the status buckets
// always sum back to Total. Overdue counts in addition to the status
// bucket, never instead of it.
type TaskStats struct {
	Total               int
	Completed           int
	InProgress          int
	Overdue             int
	Pending             int
	Deferred            int
	AwaitingControl     int
	SupposedlyCompleted int
}

// ClassifyTasks buckets tasks by status relative to now. Every
// non-rejected task lands in exactly one status bucket; tasks with a
// missing or unknown status count as pending. A task is overdue when
// its deadline date is strictly before now, it has no close date and
// it is not completed.
func ClassifyTasks(tasks []Record, now time.Time) TaskStats {
	var stats TaskStats

	for _, task := range tasks {
		status, _ := task.Int("STATUS")
		if status == StatusRejected {
			continue
		}
		stats.Total++

		switch status {
		case StatusCompleted:
			stats.Completed++
		case StatusInProgress:
			stats.InProgress++
		case StatusAwaitingControl:
			stats.AwaitingControl++
		case StatusDeferred:
			stats.Deferred++
		default:
			stats.Pending++
		}

		if status != StatusCompleted && isOverdue(task, now) {
			stats.Overdue++
		}
	}
	return stats
}

// isOverdue reports whether a still-open task's deadline has passed.
// Deadlines arrive as ISO timestamps; the date part is parsed at
// midnight and compared against now, so a task due today turns
// overdue as soon as the day starts.
func isOverdue(task Record, now time.Time) bool {
	deadline := task.Str("DEADLINE")
	if len(deadline) < 10 {
		return false
	}
	if task.Has("CLOSED_DATE") {
		return false
	}
	due, err := time.Parse("2006-01-02", deadline[:10])
	if err != nil {
		return false
	}
	return due.Before(now)
}
