package messagequeue

// TaskCreatedPayload is the schema for tasks.created messages.
type TaskCreatedPayload struct {
	TaskID  string   `json:"task_id"`
	Owner   string   `json:"owner"`
	Command string   `json:"command"`
	FileIDs []string `json:"file_ids"`
}

// TaskCompletedPayload is the schema for tasks.completed messages.
type TaskCompletedPayload struct {
	TaskID     string   `json:"task_id"`
	Owner      string   `json:"owner"`
	ResultPath string   `json:"result_path"`
	Files      []string `json:"files"`
	DurationMS int64    `json:"duration_ms"`
}

// TaskFailedPayload is the schema for tasks.failed messages.
type TaskFailedPayload struct {
	TaskID     string `json:"task_id"`
	Owner      string `json:"owner"`
	Error      string `json:"error"`
	DurationMS int64  `json:"duration_ms"`
}

// TaskSubmitPayload is the schema for tasks.submit messages.
type TaskSubmitPayload struct {
	Command string `json:"command"`
	Owner   string `json:"owner"`
}
