package queue

import (
	"encoding/json"
	"fmt"

	"github.com/phrazzld/sendnforget/internal/domain"
)

// EncodeTask serializes a task into the queue wire format.
func EncodeTask(task domain.NotificationTask) ([]byte, error) {
	if err := task.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	body, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task: %w", err)
	}
	return body, nil
}

// DecodeTask parses a queue message. Messages that are not valid JSON or that
// lack required fields can never be processed and are reported as
// domain.ErrInvalidFormat.
func DecodeTask(body []byte) (domain.NotificationTask, error) {
	var task domain.NotificationTask
	if err := json.Unmarshal(body, &task); err != nil {
		return domain.NotificationTask{}, fmt.Errorf("%w: %v", domain.ErrInvalidFormat, err)
	}
	if err := task.Validate(); err != nil {
		return domain.NotificationTask{}, fmt.Errorf("%w: %w", domain.ErrInvalidFormat, err)
	}
	return task, nil
}
