package models

const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Task lifecycle states.
const (
	TaskPending  = "pending"
	TaskFiring   = "firing"
	TaskExecuted = "executed"
)

// Push event names delivered to subscriber rooms.
const (
	EventTaskResult      = "taskResult"
	EventNewNotification = "newNotification"
	EventJoined          = "joined"
)

// SourceStatusOK is the status value a schedule source reports on success.
const SourceStatusOK = "OK"
