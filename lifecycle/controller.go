// Package lifecycle moves pickup requests through
// pending -> accepted -> completed and holds the authorization policy for
// every request action.
package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"bellhop/docstore"
	"bellhop/luggage"
	"bellhop/profile"
)

var (
	// ErrForbidden signals an actor whose role may not perform the action.
	ErrForbidden = errors.New("lifecycle: forbidden")
	// ErrAlreadyClaimed signals that another bellman accepted the request first.
	ErrAlreadyClaimed = errors.New("lifecycle: request already claimed")
	// ErrInvalidTransition signals an action that does not apply to the
	// request's current status.
	ErrInvalidTransition = errors.New("lifecycle: invalid status transition")
	// ErrNotFound signals that the request does not exist.
	ErrNotFound = luggage.ErrNotFound
)

// Requests is the subset of the request repository the controller writes through.
type Requests interface {
	Create(ctx context.Context, guestID string, in luggage.NewRequest) (string, error)
	Get(ctx context.Context, id string) (luggage.Request, error)
	Transition(ctx context.Context, id string, from luggage.Status, fields docstore.Fields) error
}

// Controller applies lifecycle actions.
type Controller struct {
	requests Requests
	log      *logrus.Logger
}

// NewController returns a Controller writing through requests.
func NewController(requests Requests, log *logrus.Logger) *Controller {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Controller{requests: requests, log: log}
}

// Submit creates a pending request on behalf of a guest.
func (c *Controller) Submit(ctx context.Context, actor profile.UserProfile, in luggage.NewRequest) (string, error) {
	if !CanCreate(actor) {
		return "", fmt.Errorf("%w: %s may not create requests", ErrForbidden, actor.Role)
	}
	return c.requests.Create(ctx, actor.UID, in)
}

// Accept claims a pending request for a bellman. Of any number of concurrent
// accepts on one request exactly one succeeds; the rest get ErrAlreadyClaimed
// and the winner's bellman fields are never overwritten.
func (c *Controller) Accept(ctx context.Context, id string, actor profile.UserProfile) error {
	if actor.Role != profile.RoleBellman {
		return fmt.Errorf("%w: %s may not accept requests", ErrForbidden, actor.Role)
	}

	current, err := c.requests.Get(ctx, id)
	if err != nil {
		return err
	}
	entry := c.log.WithFields(logrus.Fields{
		"request_id": id,
		"bellman_id": actor.UID,
		"status":     current.Status,
	})
	if current.Status != luggage.StatusPending {
		entry.Info("lifecycle: accept rejected, request not pending")
		return ErrAlreadyClaimed
	}

	err = c.requests.Transition(ctx, id, luggage.StatusPending, docstore.Fields{
		luggage.FieldStatus:      string(luggage.StatusAccepted),
		luggage.FieldBellmanID:   actor.UID,
		luggage.FieldBellmanName: bellmanName(actor),
		luggage.FieldAcceptedAt:  docstore.ServerTimestamp,
	})
	switch {
	case err == nil:
		entry.WithField("status", luggage.StatusAccepted).Info("lifecycle: request accepted")
		return nil
	case errors.Is(err, luggage.ErrStatusMismatch):
		entry.Info("lifecycle: accept lost race")
		return ErrAlreadyClaimed
	case errors.Is(err, luggage.ErrNotFound):
		return ErrNotFound
	}
	return fmt.Errorf("lifecycle: accept: %w", err)
}

// Complete marks an accepted request completed. The write is conditional on
// the request still being accepted, so a stale caller can never reopen or
// rewrite a request.
func (c *Controller) Complete(ctx context.Context, id string, actor profile.UserProfile) error {
	if !canComplete(actor.Role) {
		return fmt.Errorf("%w: %s may not complete requests", ErrForbidden, actor.Role)
	}

	current, err := c.requests.Get(ctx, id)
	if err != nil {
		return err
	}
	entry := c.log.WithFields(logrus.Fields{
		"request_id": id,
		"actor_id":   actor.UID,
		"actor_role": actor.Role,
		"status":     current.Status,
	})
	if current.Status != luggage.StatusAccepted {
		entry.Info("lifecycle: complete rejected")
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, luggage.StatusCompleted)
	}

	err = c.requests.Transition(ctx, id, luggage.StatusAccepted, docstore.Fields{
		luggage.FieldStatus:      string(luggage.StatusCompleted),
		luggage.FieldCompletedAt: docstore.ServerTimestamp,
	})
	switch {
	case err == nil:
		entry.WithField("status", luggage.StatusCompleted).Info("lifecycle: request completed")
		return nil
	case errors.Is(err, luggage.ErrStatusMismatch):
		entry.Info("lifecycle: complete lost race")
		return fmt.Errorf("%w: request is no longer accepted", ErrInvalidTransition)
	case errors.Is(err, luggage.ErrNotFound):
		return ErrNotFound
	}
	return fmt.Errorf("lifecycle: complete: %w", err)
}

func bellmanName(p profile.UserProfile) string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Email
}
