package main

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"bellhop/liveview"
	"bellhop/luggage"
	"bellhop/profile"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

type stateResponse struct {
	Phase    liveview.Phase    `json:"phase"`
	Version  uint64            `json:"version"`
	Requests []requestResponse `json:"requests,omitempty"`
	Request  *requestResponse  `json:"request,omitempty"`
	Error    string            `json:"error,omitempty"`
}

func toStateResponse(st liveview.State, viewer profile.UserProfile) stateResponse {
	resp := stateResponse{Phase: st.Phase, Version: st.Version}
	if st.Requests != nil {
		resp.Requests = toRequestResponses(st.Requests, viewer)
	}
	if st.Request != nil {
		r := toRequestResponse(*st.Request, viewer)
		resp.Request = &r
	}
	if st.Err != nil {
		resp.Error = st.Err.Error()
	}
	return resp
}

func (s *Server) handleLiveList(c *gin.Context) {
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
	s.serveView(c, func(ctx context.Context, p profile.UserProfile) (*liveview.View, error) {
		return s.views.WatchList(ctx, p, view)
	})
}

func (s *Server) handleLiveRequest(c *gin.Context) {
	id := c.Param("id")
	s.serveView(c, func(ctx context.Context, p profile.UserProfile) (*liveview.View, error) {
		return s.views.WatchRequest(ctx, p, id)
	})
}

// serveView opens a view, ties it to the caller's session and streams every
// state over a websocket until either side goes away.
func (s *Server) serveView(c *gin.Context, open func(context.Context, profile.UserProfile) (*liveview.View, error)) {
	sess := currentSession(c)
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	v, err := open(ctx, sess.Profile)
	if err != nil {
		s.writeError(c, err)
		return
	}
	defer v.Close()
	if err := sess.Track(v); err != nil {
		s.writeError(c, err)
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.WithError(err).Warn("api: websocket upgrade failed")
		return
	}
	defer conn.Close()

	entry := s.log.WithFields(logrus.Fields{"session": sess.ID, "uid": sess.Profile.UID, "path": c.Request.URL.Path})
	entry.Debug("api: live view opened")

	go readPump(conn, cancel)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	if err := writeState(conn, toStateResponse(v.Current(), sess.Profile)); err != nil {
		return
	}
	for {
		select {
		case st, ok := <-v.Updates():
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "view closed")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
				entry.Debug("api: live view closed")
				return
			}
			if err := writeState(conn, toStateResponse(st, sess.Profile)); err != nil {
				entry.WithError(err).Debug("api: live write failed")
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				entry.WithError(err).Debug("api: ping failed")
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// readPump keeps the read deadline fresh and cancels once the client leaves.
// Client messages carry no meaning and are discarded.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeState(conn *websocket.Conn, st stateResponse) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(st)
}
