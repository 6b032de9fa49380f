package chat

import (
	"errors"

	"github.com/chemi/chat/server/store"
	"github.com/chemi/chat/server/store/types"
)

// Drain returns pending tasks of the user oldest first and clears the mailbox. An empty
// mailbox yields an empty slice. Each task is returned by exactly one Drain call.
func (s *Service) Drain(user string) ([]types.Task, error) {
	if user == "" {
		return nil, errValidation("user email is missing")
	}
	tasks, err := store.Mailbox.Drain(user)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, errWithDetail(ErrUserNotFound, user)
		}
		return nil, errStorage("drain mailbox", err)
	}
	return tasks, nil
}

// Requeue returns drained but undelivered tasks to the user's mailbox. They are placed
// after tasks which arrived since the drain.
func (s *Service) Requeue(user string, tasks []types.Task) error {
	for i := range tasks {
		if err := enqueue(user, &tasks[i]); err != nil {
			return err
		}
	}
	return nil
}

// enqueue pushes the task into the user's mailbox.
func enqueue(user string, task *types.Task) error {
	if err := store.Mailbox.Push(user, task); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return errWithDetail(ErrUserNotFound, user)
		}
		return errStorage("enqueue task", err)
	}
	return nil
}
