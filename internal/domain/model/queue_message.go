package model

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"
)

// Priority tolerates both JSON numbers and numeric strings on the wire.
// Enqueuers disagree on the encoding; an unparseable priority degrades to
// zero instead of rejecting the whole message.
type Priority int

// UnmarshalJSON implements json.Unmarshaler for Priority.
func (p *Priority) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		*p = 0
		return nil
	}
	s = strings.Trim(s, `"`)
	n, err := strconv.Atoi(s)
	if err != nil {
		*p = 0
		return nil
	}
	*p = Priority(n)
	return nil
}

// SubmitMessage is the queue message contract between enqueuers and the
// subscriber. Required: JobID, CustomerID, PackageSize.
type SubmitMessage struct {
	JobID       string    `json:"job_id"`
	CustomerID  string    `json:"customer_id"`
	PackageSize int       `json:"package_size"`
	Priority    Priority  `json:"priority,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	Source      string    `json:"source,omitempty"`
}

// Validate checks the required queue message fields. A validation failure is
// terminal: retrying cannot fix malformed input, so callers drop the message.
func (m *SubmitMessage) Validate() error {
	if strings.TrimSpace(m.JobID) == "" {
		return errors.New("job_id is required")
	}
	if strings.TrimSpace(m.CustomerID) == "" {
		return errors.New("customer_id is required")
	}
	if m.PackageSize <= 0 {
		return errors.New("package_size must be a positive integer")
	}
	return nil
}

// ParseSubmitMessage decodes and validates a raw queue message body.
func ParseSubmitMessage(body []byte) (*SubmitMessage, error) {
	var msg SubmitMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}
