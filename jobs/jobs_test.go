package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-iam/internal/invitations"
	jobmetrics "github.com/odyssey-erp/odyssey-iam/internal/jobs"
)

type recordingMailer struct {
	sent []Message
	err  error
}

func (m *recordingMailer) Send(_ context.Context, msg Message) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

type recordingEnqueuer struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
}

func (e *recordingEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	e.tasks = append(e.tasks, task)
	e.opts = append(e.opts, opts)
	return &asynq.TaskInfo{Queue: QueueDefault, Type: task.Type()}, nil
}

func (e *recordingEnqueuer) Close() error { return nil }

func samplePayload() InvitationPayload {
	return InvitationPayload{
		InvitationID: uuid.New(),
		Email:        "grace@example.com",
		Name:         "Grace Hopper",
		Link:         "https://iam.example.com/accept-invitation?token=abc",
		ExpiresAt:    time.Date(2025, 6, 8, 9, 30, 0, 0, time.UTC),
	}
}

func TestClientNotifyInvitationEnqueuesTask(t *testing.T) {
	enq := &recordingEnqueuer{}
	client := &Client{client: enq, maxRetry: DefaultMaxRetry}
	want := samplePayload()

	err := client.NotifyInvitation(context.Background(), invitations.Notice{
		InvitationID: want.InvitationID,
		Email:        want.Email,
		Name:         want.Name,
		Link:         want.Link,
		ExpiresAt:    want.ExpiresAt,
	})
	require.NoError(t, err)
	require.Len(t, enq.tasks, 1)
	assert.Equal(t, TaskTypeDeliverInvitation, enq.tasks[0].Type())
	assert.Len(t, enq.opts[0], 2)

	var got InvitationPayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &got))
	assert.Equal(t, want, got)
}

func TestClientRejectsIncompleteNotice(t *testing.T) {
	enq := &recordingEnqueuer{}
	client := &Client{client: enq}

	err := client.NotifyInvitation(context.Background(), invitations.Notice{Email: "x@example.com"})
	assert.Error(t, err)
	assert.Empty(t, enq.tasks)
}

func TestInvitationJobDeliversMail(t *testing.T) {
	mailer := &recordingMailer{}
	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())
	job := NewInvitationJob(mailer, nil, metrics)

	task, err := NewInvitationTask(samplePayload())
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	require.Len(t, mailer.sent, 1)
	msg := mailer.sent[0]
	assert.Equal(t, "grace@example.com", msg.To)
	assert.Equal(t, invitationSubject, msg.Subject)
	assert.Contains(t, msg.Body, "Hello Grace Hopper,")
	assert.Contains(t, msg.Body, "https://iam.example.com/accept-invitation?token=abc")
	assert.Contains(t, msg.Body, "2025-06-08 09:30 UTC")
}

func TestInvitationJobSkipsRetryOnBadPayload(t *testing.T) {
	mailer := &recordingMailer{}
	job := NewInvitationJob(mailer, nil, nil)

	err := job.Handle(context.Background(), asynq.NewTask(TaskTypeDeliverInvitation, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	err = job.Handle(context.Background(), asynq.NewTask(TaskTypeDeliverInvitation, []byte(`{"email":"a@example.com"}`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Empty(t, mailer.sent)
}

func TestInvitationJobRetriesMailerFailure(t *testing.T) {
	relayDown := errors.New("connection refused")
	job := NewInvitationJob(&recordingMailer{err: relayDown}, nil, nil)

	task, err := NewInvitationTask(samplePayload())
	require.NoError(t, err)
	err = job.Handle(context.Background(), task)
	assert.ErrorIs(t, err, relayDown)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestSMTPMailerComposesMessage(t *testing.T) {
	mailer, err := NewSMTPMailer(SMTPConfig{Host: "127.0.0.1", Port: 1025, From: "no-reply@odyssey.local"})
	require.NoError(t, err)
	mailer.now = func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }

	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
		gotAuth smtp.Auth
	)
	mailer.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotAuth, gotTo, gotMsg = addr, a, to, string(msg)
		return nil
	}

	require.NoError(t, mailer.Send(context.Background(), Message{To: "grace@example.com", Subject: "Hi", Body: "line1\nline2"}))
	assert.Equal(t, "127.0.0.1:1025", gotAddr)
	assert.Nil(t, gotAuth)
	assert.Equal(t, []string{"grace@example.com"}, gotTo)
	assert.Contains(t, gotMsg, "Subject: Hi\r\n")
	assert.Contains(t, gotMsg, "Content-Type: text/plain; charset=UTF-8\r\n")
	assert.Contains(t, gotMsg, "\r\n\r\nline1\r\nline2")

	err = mailer.Send(context.Background(), Message{To: "a@example.com\r\nBcc: b@example.com", Subject: "x"})
	assert.Error(t, err)
}

func TestNewSMTPMailerRequiresHost(t *testing.T) {
	_, err := NewSMTPMailer(SMTPConfig{From: "no-reply@odyssey.local"})
	assert.Error(t, err)
}

func TestHandlerHealthWithoutQueue(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, nil).MountRoutes(r)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"queue":"default","enabled":false,"pending":0}`, rr.Body.String())
}
