package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-iam/internal/jobs"
)

// InvitationJob mails invitation links.
type InvitationJob struct {
	Mailer  Mailer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewInvitationJob wires dependencies for the delivery handler.
func NewInvitationJob(mailer Mailer, logger *slog.Logger, metrics *jobmetrics.Metrics) *InvitationJob {
	return &InvitationJob{Mailer: mailer, Logger: logger, Metrics: metrics}
}

// Handle processes TaskTypeDeliverInvitation tasks. Malformed payloads are
// dropped without retry.
func (j *InvitationJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Mailer == nil {
		return errors.New("invitation delivery: handler not configured")
	}
	var payload InvitationPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := payload.Validate(); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskTypeDeliverInvitation)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	msg, err := RenderInvitation(payload)
	if err != nil {
		return fmt.Errorf("render invitation: %v: %w", err, asynq.SkipRetry)
	}
	logger := j.logger().With(slog.String("invitation_id", payload.InvitationID.String()))
	if err := j.Mailer.Send(ctx, msg); err != nil {
		logger.Warn("invitation delivery failed", slog.Any("error", err))
		return err
	}
	j.Metrics.MailSent("invitation")
	logger.Info("invitation delivered")
	return nil
}

func (j *InvitationJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
