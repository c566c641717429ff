package queue

import "context"

// Outcome is the result a worker reports back for a task it claimed.
type Outcome int

const (
	Completed Outcome = iota
	Failed
)

// MarkDone applies the C6 state machine to the task identified by id. A
// Failed report requeues the task while num_retries < MaxRetries and
// increments num_retries; a Failed report at num_retries = MaxRetries is
// terminal. That gives six attempts in total (one initial try and five
// retries), and the sixth Failed report leaves the task Failed.
func (s *Store) MarkDone(ctx context.Context, id int64, outcome Outcome) error {
	task, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}

	switch outcome {
	case Completed:
		completed := StatusCompleted
		return s.Update(ctx, id, TaskPatch{Status: &completed})

	case Failed:
		if task.NumRetries < MaxRetries {
			queued := StatusQueued
			nextRetries := task.NumRetries + 1
			return s.Update(ctx, id, TaskPatch{Status: &queued, NumRetries: &nextRetries})
		}
		failed := StatusFailed
		return s.Update(ctx, id, TaskPatch{Status: &failed})

	default:
		return storageFault("mark_done", errUnknownOutcome)
	}
}
