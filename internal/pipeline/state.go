package pipeline

// State is the lifecycle state of a Pipeline.
type State int32

const (
	StateNew State = iota
	StatePreExecute
	StateExecute
	StateExecuteSuccessHandler
	StateFailed
	StateSucceeded
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StatePreExecute:
		return "pre_execute"
	case StateExecute:
		return "execute"
	case StateExecuteSuccessHandler:
		return "execute_success_handler"
	case StateFailed:
		return "failed"
	case StateSucceeded:
		return "succeeded"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateFailed || s == StateSucceeded
}

// TaskState is the lifecycle state of a Task.
type TaskState int32

const (
	TaskInit TaskState = iota
	TaskStarted
	TaskInProgress
	TaskResponseSent
	TaskCancelled
	TaskError
)

func (s TaskState) String() string {
	switch s {
	case TaskInit:
		return "init"
	case TaskStarted:
		return "started"
	case TaskInProgress:
		return "in_progress"
	case TaskResponseSent:
		return "response_sent"
	case TaskCancelled:
		return "cancelled"
	case TaskError:
		return "error"
	default:
		return "unknown"
	}
}

// IsFinal reports whether the state is one of the terminal states.
func (s TaskState) IsFinal() bool {
	return s == TaskResponseSent || s == TaskCancelled || s == TaskError
}
