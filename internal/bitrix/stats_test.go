package bitrix

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func taskRec(status any, deadline string) Record {
	rec := Record{"STATUS": status}
	if deadline != "" {
		rec["DEADLINE"] = deadline
	}
	return rec
}

func TestClassifyTasks_Buckets(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	tasks := []Record{
		taskRec(float64(1), ""),
		taskRec(float64(2), ""),
		taskRec(float64(3), ""),
		taskRec(float64(4), ""),
		taskRec(float64(5), ""),
		taskRec(float64(6), ""),
		taskRec(float64(7), ""),
	}

	stats := ClassifyTasks(tasks, now)

	assert.Equal(t, 6, stats.Total, "rejected tasks stay out of total")
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 1, stats.InProgress)
	assert.Equal(t, 1, stats.AwaitingControl)
	assert.Equal(t, 1, stats.Deferred)
	assert.Equal(t, 2, stats.Pending, "new and pending statuses both count as pending")
	assert.Equal(t, 0, stats.Overdue)
}

func TestClassifyTasks_UnknownStatusCountsAsPending(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	tasks := []Record{
		taskRec(float64(99), ""),
		{"TITLE": "no status at all"},
	}

	stats := ClassifyTasks(tasks, now)

	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.Pending)
}

func TestClassifyTasks_Overdue(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	t.Run("open task past deadline", func(t *testing.T) {
		stats := ClassifyTasks([]Record{taskRec(float64(2), "2020-01-01T00:00:00+03:00")}, now)
		assert.Equal(t, 1, stats.Overdue)
		assert.Equal(t, 1, stats.Pending, "overdue adds to the status bucket, not instead of it")
	})

	t.Run("closed task past deadline", func(t *testing.T) {
		task := taskRec(float64(2), "2020-01-01T00:00:00+03:00")
		task["CLOSED_DATE"] = "2020-01-02T10:00:00+03:00"
		stats := ClassifyTasks([]Record{task}, now)
		assert.Equal(t, 0, stats.Overdue)
	})

	t.Run("completed task past deadline", func(t *testing.T) {
		stats := ClassifyTasks([]Record{taskRec(float64(5), "2020-01-01T00:00:00+03:00")}, now)
		assert.Equal(t, 0, stats.Overdue)
		assert.Equal(t, 1, stats.Completed)
	})

	t.Run("deadline earlier today", func(t *testing.T) {
		stats := ClassifyTasks([]Record{taskRec(float64(2), "2024-06-15T00:00:00+03:00")}, now)
		assert.Equal(t, 1, stats.Overdue, "a task due today is already overdue once the day has started")
	})

	t.Run("yesterday's deadline near local midnight", func(t *testing.T) {
		msk := time.FixedZone("MSK", 3*60*60)
		late := time.Date(2024, 6, 16, 1, 0, 0, 0, msk)
		stats := ClassifyTasks([]Record{taskRec(float64(2), "2024-06-15T18:00:00+03:00")}, late)
		assert.Equal(t, 1, stats.Overdue)
	})

	t.Run("deadline in the future", func(t *testing.T) {
		stats := ClassifyTasks([]Record{taskRec(float64(2), "2099-01-01T00:00:00+03:00")}, now)
		assert.Equal(t, 0, stats.Overdue)
	})

	t.Run("unparseable deadline ignored", func(t *testing.T) {
		stats := ClassifyTasks([]Record{taskRec(float64(2), "not-a-date")}, now)
		assert.Equal(t, 0, stats.Overdue)
	})
}

func TestClassifyTasks_TotalEqualsStatusBucketSum(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	tasks := []Record{
		taskRec(float64(1), "2020-01-01T00:00:00+03:00"),
		taskRec(float64(2), ""),
		taskRec(float64(3), "2020-01-01T00:00:00+03:00"),
		taskRec(float64(4), ""),
		taskRec(float64(5), "2020-01-01T00:00:00+03:00"),
		taskRec(float64(6), ""),
		taskRec(float64(7), ""),
		taskRec(float64(42), ""),
	}

	stats := ClassifyTasks(tasks, now)

	sum := stats.Completed + stats.InProgress + stats.Pending + stats.Deferred + stats.AwaitingControl
	assert.Equal(t, stats.Total, sum)
	assert.Equal(t, 2, stats.Overdue)
}

func TestClassifyTasks_Empty(t *testing.T) {
	stats := ClassifyTasks(nil, time.Now())
	assert.Equal(t, TaskStats{}, stats)
}
