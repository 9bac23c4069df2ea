package domain

import (
	"time"

	"github.com/google/uuid"
)

// TaskFailure is published when a background task fails, so the consumer can
// tell a failed operation apart from one that simply had nothing to report.
// Error is already redacted and safe to display.
type TaskFailure struct {
	TaskID   uuid.UUID `json:"task_id"`
	TaskName string    `json:"task_name"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}
