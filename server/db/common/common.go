// Package common contains utility methods used by all adapters.
package common

import (
	"encoding/json"

	"github.com/chemi/chat/server/logs"
	t "github.com/chemi/chat/server/store/types"
)

// QueryLimit returns the maximum number of records a query may return: the smaller of
// the requested limit and the adapter's cap.
func QueryLimit(opts *t.QueryOpt, maxResults int) int {
	limit := maxResults
	if opts != nil && opts.Limit > 0 && opts.Limit < limit {
		limit = opts.Limit
	}
	return limit
}

// SeqRange returns the range of message sequence ids [since, before) requested by the
// query. The before == 0 means the range is open ended.
func SeqRange(opts *t.QueryOpt) (since, before int) {
	since = 1
	if opts != nil {
		if opts.Since > 0 {
			since = opts.Since
		}
		if opts.Before > 0 {
			before = opts.Before
		}
	}
	return since, before
}

// TrimMailbox drops the oldest tasks so that no more than max tasks remain.
// The max <= 0 means the mailbox is unbounded.
func TrimMailbox(tasks []t.Task, max int) []t.Task {
	if max <= 0 || len(tasks) <= max {
		return tasks
	}
	return tasks[len(tasks)-max:]
}

// EncodeTask serializes the task for storing in a text or JSON column.
func EncodeTask(task *t.Task) []byte {
	if task == nil {
		return nil
	}
	data, _ := json.Marshal(task)
	return data
}

// DecodeTask deserializes a task stored by EncodeTask.
func DecodeTask(src []byte) (t.Task, error) {
	var task t.Task
	if len(src) == 0 {
		return task, t.ErrMalformed
	}
	err := json.Unmarshal(src, &task)
	return task, err
}

// DecodeTasks decodes drained task rows in order. A row which cannot be decoded is
// never deliverable, so it is logged and skipped rather than failing the drain.
func DecodeTasks(email string, rows [][]byte) []t.Task {
	tasks := make([]t.Task, 0, len(rows))
	for _, row := range rows {
		task, err := DecodeTask(row)
		if err != nil {
			logs.Warn.Printf("db: dropped malformed task of '%s': %v", email, err)
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks
}
