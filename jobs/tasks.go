package jobs

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeDeliverInvitation mails an invitation link to the invitee.
	TaskTypeDeliverInvitation = "invitation:deliver"
	// DefaultMaxRetry bounds delivery attempts for mail tasks.
	DefaultMaxRetry = 5
)

// InvitationPayload describes the invitation mail to deliver. The link carries
// the plaintext token, so the payload only lives in the queue.
type InvitationPayload struct {
	InvitationID uuid.UUID `json:"invitation_id"`
	Email        string    `json:"email"`
	Name         string    `json:"name,omitempty"`
	Link         string    `json:"link"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Validate reports whether the payload can be delivered.
func (p InvitationPayload) Validate() error {
	switch {
	case p.InvitationID == uuid.Nil:
		return errors.New("invitation id required")
	case p.Email == "":
		return errors.New("recipient required")
	case p.Link == "":
		return errors.New("link required")
	}
	return nil
}

// NewInvitationTask constructs an Asynq task.
func NewInvitationTask(payload InvitationPayload) (*asynq.Task, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeDeliverInvitation, data), nil
}
