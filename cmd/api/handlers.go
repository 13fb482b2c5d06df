package main

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"bellhop/lifecycle"
	"bellhop/luggage"
	"bellhop/profile"
	"bellhop/session"
)

const qrImageBase = "https://api.qrserver.com/v1/create-qr-code/?size=300x300&data="

type profileResponse struct {
	UID         string `json:"uid"`
	Email       string `json:"email,omitempty"`
	Role        string `json:"role"`
	DisplayName string `json:"displayName,omitempty"`
}

type sessionResponse struct {
	Token     string          `json:"token"`
	SessionID string          `json:"sessionId"`
	Anonymous bool            `json:"anonymous"`
	Profile   profileResponse `json:"profile"`
}

type requestResponse struct {
	ID            string            `json:"id"`
	GuestID       string            `json:"guestId"`
	GuestName     string            `json:"guestName,omitempty"`
	RoomNumber    string            `json:"roomNumber"`
	LuggageType   string            `json:"luggageType"`
	PickupTime    string            `json:"pickupTime"`
	ScheduledTime string            `json:"scheduledTime,omitempty"`
	Notes         string            `json:"notes,omitempty"`
	Status        string            `json:"status"`
	BellmanID     string            `json:"bellmanId,omitempty"`
	BellmanName   string            `json:"bellmanName,omitempty"`
	Timestamp     string            `json:"timestamp"`
	AcceptedAt    *string           `json:"acceptedAt,omitempty"`
	CompletedAt   *string           `json:"completedAt,omitempty"`
	Actions       lifecycle.Actions `json:"actions"`
}

type listResponse struct {
	Requests []requestResponse `json:"requests"`
	Stats    luggage.Stats     `json:"stats"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	Role     string `json:"role" binding:"omitempty,oneof=guest bellman admin"`
}

type listQuery struct {
	View   string `form:"view" binding:"omitempty,oneof=queue history"`
	Room   string `form:"room"`
	Status string `form:"status" binding:"omitempty,oneof=pending accepted completed"`
}

type qrResponse struct {
	URL      string `json:"url"`
	ImageURL string `json:"imageUrl"`
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.health(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleSignInAnonymous(c *gin.Context) {
	sess, err := s.sessions.SignInAnonymous(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toSessionResponse(sess))
}

func (s *Server) handleSignIn(c *gin.Context) {
	var body loginRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		s.bindError(c, err)
		return
	}

	sess, err := s.sessions.SignInWithPassword(c.Request.Context(), body.Email, body.Password, profile.Role(body.Role))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toSessionResponse(sess))
}

func (s *Server) handleSignOut(c *gin.Context) {
	sess := currentSession(c)
	if err := s.sessions.SignOut(c.Request.Context(), sess.ID); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleMe(c *gin.Context) {
	c.JSON(http.StatusOK, toProfileResponse(currentSession(c).Profile))
}

func (s *Server) handleCreateRequest(c *gin.Context) {
	sess := currentSession(c)
	var body luggage.NewRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		s.bindError(c, err)
		return
	}

	ctx := c.Request.Context()
	id, err := s.lifecycle.Submit(ctx, sess.Profile, body)
	if err != nil {
		s.writeError(c, err)
		return
	}
	req, err := s.requests.Get(ctx, id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toRequestResponse(req, sess.Profile))
}

func (s *Server) handleListRequests(c *gin.Context) {
	sess := currentSession(c)
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		s.bindError(c, err)
		return
	}
	view, err := luggage.ParseView(q.View)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	filter := luggage.Filter{Room: q.Room, Status: luggage.Status(q.Status)}

	requests, err := s.requests.ListFor(c.Request.Context(), sess.Profile, view)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, listResponse{
		Requests: toRequestResponses(filter.Apply(requests), sess.Profile),
		Stats:    luggage.Summarize(requests),
	})
}

func (s *Server) handleGetRequest(c *gin.Context) {
	sess := currentSession(c)
	req, err := s.requests.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if !lifecycle.CanView(sess.Profile, req) {
		// Guests cannot tell another guest's request from a missing one.
		if sess.Profile.Role == profile.RoleGuest {
			s.writeError(c, luggage.ErrNotFound)
			return
		}
		s.writeError(c, lifecycle.ErrForbidden)
		return
	}
	c.JSON(http.StatusOK, toRequestResponse(req, sess.Profile))
}

func (s *Server) handleAccept(c *gin.Context) {
	s.transition(c, s.lifecycle.Accept)
}

func (s *Server) handleComplete(c *gin.Context) {
	s.transition(c, s.lifecycle.Complete)
}

func (s *Server) transition(c *gin.Context, action func(context.Context, string, profile.UserProfile) error) {
	sess := currentSession(c)
	ctx := c.Request.Context()
	id := c.Param("id")

	if err := action(ctx, id, sess.Profile); err != nil {
		s.writeError(c, err)
		return
	}
	req, err := s.requests.Get(ctx, id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toRequestResponse(req, sess.Profile))
}

func (s *Server) handleQR(c *gin.Context) {
	if currentSession(c).Profile.Role != profile.RoleAdmin {
		s.writeError(c, lifecycle.ErrForbidden)
		return
	}
	c.JSON(http.StatusOK, qrResponse{
		URL:      s.appURL,
		ImageURL: qrImageBase + url.QueryEscape(s.appURL),
	})
}

func toProfileResponse(p profile.UserProfile) profileResponse {
	return profileResponse{UID: p.UID, Email: p.Email, Role: string(p.Role), DisplayName: p.DisplayName}
}

func toSessionResponse(sess *session.Session) sessionResponse {
	return sessionResponse{
		Token:     sess.Token,
		SessionID: sess.ID,
		Anonymous: sess.Identity.Anonymous,
		Profile:   toProfileResponse(sess.Profile),
	}
}

func toRequestResponse(r luggage.Request, viewer profile.UserProfile) requestResponse {
	resp := requestResponse{
		ID:            r.ID,
		GuestID:       r.GuestID,
		GuestName:     r.GuestName,
		RoomNumber:    r.RoomNumber,
		LuggageType:   string(r.LuggageType),
		PickupTime:    string(r.PickupTime),
		ScheduledTime: r.ScheduledTime,
		Notes:         r.Notes,
		Status:        string(r.Status),
		BellmanID:     r.BellmanID,
		BellmanName:   r.BellmanName,
		Timestamp:     r.Timestamp.UTC().Format(time.RFC3339),
		Actions:       lifecycle.ActionsFor(viewer, r),
	}
	if r.AcceptedAt != nil {
		ts := r.AcceptedAt.UTC().Format(time.RFC3339)
		resp.AcceptedAt = &ts
	}
	if r.CompletedAt != nil {
		ts := r.CompletedAt.UTC().Format(time.RFC3339)
		resp.CompletedAt = &ts
	}
	return resp
}

func toRequestResponses(reqs []luggage.Request, viewer profile.UserProfile) []requestResponse {
	out := make([]requestResponse, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, toRequestResponse(r, viewer))
	}
	return out
}
