// Package invitations implements the onboarding flow: an administrator
// invites an email address and the invitee redeems a single-use token to
// create a principal.
package invitations

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-iam/internal/audit"
	"github.com/odyssey-erp/odyssey-iam/internal/auth"
	"github.com/odyssey-erp/odyssey-iam/internal/identity"
	"github.com/odyssey-erp/odyssey-iam/internal/observability"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/store"
)

const (
	// DefaultTTL is how long an invitation stays redeemable.
	DefaultTTL = 7 * 24 * time.Hour
	// TokenBytes is the entropy of a redemption token.
	TokenBytes = 32

	acceptPath = "/accept-invitation"
)

// Notice is handed to the Notifier once an invitation is committed.
type Notice struct {
	InvitationID uuid.UUID
	Email        string
	Name         string
	Link         string
	ExpiresAt    time.Time
}

// Notifier delivers invitation notices, typically by enqueueing a mail job.
type Notifier interface {
	NotifyInvitation(ctx context.Context, notice Notice) error
}

// Options configures the Service.
type Options struct {
	TTL     time.Duration
	BaseURL string
}

// CreateInput carries a new invitation.
type CreateInput struct {
	Email     string
	FirstName string
	LastName  string
	RoleID    *uuid.UUID
	// TTL overrides Options.TTL when positive.
	TTL time.Duration
}

// Created is the result of Create. Token is the only copy of the plaintext
// redemption token.
type Created struct {
	Invitation identity.Invitation
	Token      string
	Link       string
}

// Service implements the invitation lifecycle.
type Service struct {
	store    store.Store
	hasher   *auth.Hasher
	sessions *auth.Service
	audit    *audit.Service
	notifier Notifier
	metrics  *observability.Metrics
	logger   *slog.Logger
	validate *validator.Validate
	opts     Options
	now      func() time.Time
	random   io.Reader
}

// NewService constructs a Service. notifier and metrics may be nil.
func NewService(st store.Store, hasher *auth.Hasher, sessions *auth.Service, auditSvc *audit.Service, notifier Notifier, metrics *observability.Metrics, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	return &Service{
		store:    st,
		hasher:   hasher,
		sessions: sessions,
		audit:    auditSvc,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
		validate: validator.New(),
		opts:     opts,
		now:      time.Now,
		random:   rand.Reader,
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithRandom overrides the token entropy source.
func (s *Service) WithRandom(r io.Reader) *Service {
	s.random = r
	return s
}

// Digest returns the stored form of a redemption token.
func Digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (s *Service) newToken() (string, error) {
	buf := make([]byte, TokenBytes)
	if _, err := io.ReadFull(s.random, buf); err != nil {
		return "", shared.Wrap(shared.ErrPersistence, "invitation token", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Link returns the redemption URL for token.
func (s *Service) Link(token string) string {
	return strings.TrimRight(s.opts.BaseURL, "/") + acceptPath + "?token=" + url.QueryEscape(token)
}

// Create invites email. It fails with Conflict when a principal or an active
// invitation already exists for the address.
func (s *Service) Create(ctx context.Context, actor *rbac.Actor, in CreateInput) (Created, error) {
	if !rbac.AuthorizeAdmin(actor) {
		return Created{}, shared.Errorf(shared.ErrAuthorization, "administrator required")
	}
	email := identity.NormalizeEmail(in.Email)
	if err := s.validate.Var(email, "required,email"); err != nil {
		return Created{}, shared.Errorf(shared.ErrValidation, "a valid email is required")
	}
	ttl := in.TTL
	if ttl <= 0 {
		ttl = s.opts.TTL
	}
	raw, err := s.newToken()
	if err != nil {
		return Created{}, err
	}
	now := s.now().UTC()
	inv := identity.Invitation{
		ID:        uuid.New(),
		Email:     email,
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
		TokenHash: Digest(raw),
		RoleID:    in.RoleID,
		InvitedBy: actor.GetID(),
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}

	err = s.store.WithTx(ctx, func(ctx context.Context, q store.Queries) error {
		if err := q.LockEmail(ctx, email); err != nil {
			return err
		}
		if _, err := q.GetUserByEmail(ctx, email); err == nil {
			return shared.Errorf(shared.ErrConflict, "a user with this email already exists")
		} else if !errors.Is(err, shared.ErrNotFound) {
			return err
		}
		pending, err := q.HasActiveInvitation(ctx, email, now)
		if err != nil {
			return err
		}
		if pending {
			return shared.Errorf(shared.ErrConflict, "an active invitation already exists for this email")
		}
		if inv.RoleID != nil {
			if _, err := q.GetRole(ctx, *inv.RoleID); err != nil {
				return err
			}
		}
		if err := q.CreateInvitation(ctx, inv); err != nil {
			return err
		}
		return s.audit.Append(ctx, q, audit.Entry{
			ActorID:      &inv.InvitedBy,
			Action:       audit.ActionInvitationCreate,
			ResourceType: "invitation",
			ResourceID:   inv.ID.String(),
			Detail:       email,
		})
	})
	if err != nil {
		return Created{}, err
	}
	s.metrics.ObserveInvitation("created")

	out := Created{Invitation: inv, Token: raw, Link: s.Link(raw)}
	s.notify(ctx, out)
	return out, nil
}

func (s *Service) notify(ctx context.Context, c Created) {
	if s.notifier == nil {
		return
	}
	name := strings.TrimSpace(c.Invitation.FirstName + " " + c.Invitation.LastName)
	err := s.notifier.NotifyInvitation(ctx, Notice{
		InvitationID: c.Invitation.ID,
		Email:        c.Invitation.Email,
		Name:         name,
		Link:         c.Link,
		ExpiresAt:    c.Invitation.ExpiresAt,
	})
	if err != nil {
		s.logger.Warn("invitation delivery not scheduled",
			slog.String("invitation_id", c.Invitation.ID.String()),
			slog.Any("error", err))
	}
}

// Accept redeems token, creating the invited principal with password and
// signing it in. The invitation is consumed in the same transaction.
func (s *Service) Accept(ctx context.Context, token, password string) (*auth.Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, shared.Errorf(shared.ErrValidation, "invitation token required")
	}
	if err := auth.ValidatePassword(password); err != nil {
		return nil, err
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()

	var user identity.User
	err = s.store.WithTx(ctx, func(ctx context.Context, q store.Queries) error {
		inv, err := q.GetInvitationByTokenHash(ctx, Digest(token))
		if errors.Is(err, shared.ErrNotFound) {
			return shared.Errorf(shared.ErrNotFound, "invitation not found")
		}
		if err != nil {
			return err
		}
		if state := inv.State(now); state != identity.InvitationPending {
			return shared.Errorf(shared.ErrInvalidState, "invitation is %s", state)
		}
		marked, err := q.MarkInvitationUsed(ctx, inv.ID, now)
		if err != nil {
			return err
		}
		if !marked {
			return shared.Errorf(shared.ErrInvalidState, "invitation is %s", identity.InvitationAccepted)
		}
		if err := q.LockEmail(ctx, inv.Email); err != nil {
			return err
		}
		if _, err := q.GetUserByEmail(ctx, inv.Email); err == nil {
			return shared.Errorf(shared.ErrConflict, "a user with this email already exists")
		} else if !errors.Is(err, shared.ErrNotFound) {
			return err
		}
		user = identity.User{
			ID:           uuid.New(),
			Email:        inv.Email,
			FirstName:    inv.FirstName,
			LastName:     inv.LastName,
			PasswordHash: hash,
			IsActive:     true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := q.CreateUser(ctx, user); err != nil {
			return err
		}
		if inv.RoleID != nil {
			_, err := q.GetRole(ctx, *inv.RoleID)
			switch {
			case err == nil:
				if err := q.AddUserRole(ctx, user.ID, *inv.RoleID); err != nil {
					return err
				}
			case !errors.Is(err, shared.ErrNotFound):
				return err
			}
		}
		return s.audit.Append(ctx, q, audit.Entry{
			ActorID:      &user.ID,
			Action:       audit.ActionInvitationAccept,
			ResourceType: "invitation",
			ResourceID:   inv.ID.String(),
			Detail:       inv.Email,
		})
	})
	if err != nil {
		if errors.Is(err, shared.ErrInvalidState) || errors.Is(err, shared.ErrNotFound) {
			s.metrics.ObserveInvitation("rejected")
		}
		return nil, err
	}
	s.metrics.ObserveInvitation("accepted")
	return s.sessions.SessionFor(ctx, user)
}

// Revoke ends a pending invitation. Revoking a terminal invitation is a
// no-op.
func (s *Service) Revoke(ctx context.Context, actor *rbac.Actor, id uuid.UUID) error {
	if !rbac.AuthorizeAdmin(actor) {
		return shared.Errorf(shared.ErrAuthorization, "administrator required")
	}
	now := s.now().UTC()
	var revoked bool
	err := s.store.WithTx(ctx, func(ctx context.Context, q store.Queries) error {
		inv, err := q.GetInvitation(ctx, id)
		if err != nil {
			return err
		}
		if inv.State(now) != identity.InvitationPending {
			return nil
		}
		if revoked, err = q.RevokeInvitation(ctx, id, now); err != nil || !revoked {
			return err
		}
		actorID := actor.GetID()
		return s.audit.Append(ctx, q, audit.Entry{
			ActorID:      &actorID,
			Action:       audit.ActionInvitationRevoke,
			ResourceType: "invitation",
			ResourceID:   id.String(),
			Detail:       inv.Email,
		})
	})
	if err != nil {
		return err
	}
	if revoked {
		s.metrics.ObserveInvitation("revoked")
	}
	return nil
}

// ListActive returns invitations that can still be redeemed, newest first.
func (s *Service) ListActive(ctx context.Context, actor *rbac.Actor) ([]identity.Invitation, error) {
	if !rbac.AuthorizeAdmin(actor) {
		return nil, shared.Errorf(shared.ErrAuthorization, "administrator required")
	}
	out, err := s.store.ListActiveInvitations(ctx, s.now().UTC())
	if err != nil {
		return nil, shared.Persistence("invitations: list", err)
	}
	return out, nil
}
