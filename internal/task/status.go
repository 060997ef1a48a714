package task

// Status is a task's lifecycle state.
type Status string

const (
	StatusPending     Status = "pending"
	StatusDownloading Status = "downloading"
	StatusCanceling   Status = "canceling"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCanceled    Status = "canceled"
)

func (s Status) String() string {
	return string(s)
}

// IsTerminal reports whether no further transitions are accepted.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// IsRunning reports whether an orchestration may still own the task.
func (s Status) IsRunning() bool {
	return s == StatusPending || s == StatusDownloading || s == StatusCanceling
}

// CanTransition is the guard applied to every store update. Terminal states
// are sticky, and a task being canceled cannot be pulled back to downloading
// by a late progress event. Same-state updates are allowed.
func CanTransition(from, to Status) bool {
	if from.IsTerminal() {
		return false
	}
	if from == StatusCanceling && to == StatusDownloading {
		return false
	}
	return true
}
