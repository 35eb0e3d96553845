package messagequeue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects pass validation
// (future-proof for new message types).
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	var target any
	switch {
	case subject == SubjectTaskCreated:
		target = &TaskCreatedPayload{}
	case subject == SubjectTaskCompleted:
		target = &TaskCompletedPayload{}
	case subject == SubjectTaskFailed:
		target = &TaskFailedPayload{}
	case subject == SubjectTaskSubmit:
		var p TaskSubmitPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if strings.TrimSpace(p.Command) == "" {
			return errors.New("schema validation failed for " + subject + ": command is required")
		}
		return nil
	default:
		return nil
	}

	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}
	return nil
}
