package main

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"bellhop/auth"
	"bellhop/docstore"
	"bellhop/lifecycle"
	"bellhop/liveview"
	"bellhop/luggage"
	"bellhop/profile"
	"bellhop/session"
)

const ctxKeySession = "session"

type sessionManager interface {
	SignInAnonymous(ctx context.Context) (*session.Session, error)
	SignInWithPassword(ctx context.Context, email, password string, required profile.Role) (*session.Session, error)
	Current(ctx context.Context, token string) (*session.Session, error)
	SignOut(ctx context.Context, id string) error
}

type requestReader interface {
	Get(ctx context.Context, id string) (luggage.Request, error)
	ListFor(ctx context.Context, p profile.UserProfile, view luggage.View) ([]luggage.Request, error)
}

type lifecycleController interface {
	Submit(ctx context.Context, actor profile.UserProfile, in luggage.NewRequest) (string, error)
	Accept(ctx context.Context, id string, actor profile.UserProfile) error
	Complete(ctx context.Context, id string, actor profile.UserProfile) error
}

type viewOpener interface {
	WatchList(ctx context.Context, p profile.UserProfile, view luggage.View) (*liveview.View, error)
	WatchRequest(ctx context.Context, p profile.UserProfile, id string) (*liveview.View, error)
}

// Server exposes the request lifecycle over HTTP and websockets.
type Server struct {
	sessions  sessionManager
	requests  requestReader
	lifecycle lifecycleController
	views     viewOpener
	health    func(ctx context.Context) error

	appURL         string
	allowedOrigins []string
	log            *logrus.Logger
	upgrader       websocket.Upgrader
}

// ServerDeps wires a Server.
type ServerDeps struct {
	Sessions       sessionManager
	Requests       requestReader
	Lifecycle      lifecycleController
	Views          viewOpener
	Health         func(ctx context.Context) error
	AppURL         string
	AllowedOrigins []string
	Log            *logrus.Logger
}

var registerTagNames sync.Once

// useWireNames makes gin's validator report json or form names, so binding
// failures name the same fields clients send.
func useWireNames() {
	registerTagNames.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			for _, key := range []string{"json", "form"} {
				name, _, _ := strings.Cut(f.Tag.Get(key), ",")
				if name != "" && name != "-" {
					return name
				}
			}
			return f.Name
		})
	})
}

// NewServer builds a Server from deps.
func NewServer(deps ServerDeps) *Server {
	useWireNames()
	log := deps.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{
		sessions:       deps.Sessions,
		requests:       deps.Requests,
		lifecycle:      deps.Lifecycle,
		views:          deps.Views,
		health:         deps.Health,
		appURL:         deps.AppURL,
		allowedOrigins: deps.AllowedOrigins,
		log:            log,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Router returns the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(s.log))
	corsConfig := cors.Config{
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if s.allowAllOrigins() {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = s.allowedOrigins
		corsConfig.AllowCredentials = true
	}
	router.Use(cors.New(corsConfig))

	router.GET("/healthz", s.handleHealth)

	api := router.Group("/api")
	api.POST("/session/anonymous", s.handleSignInAnonymous)
	api.POST("/session/login", s.handleSignIn)

	authed := api.Group("")
	authed.Use(s.authenticate)
	authed.DELETE("/session", s.handleSignOut)
	authed.GET("/me", s.handleMe)
	authed.POST("/requests", s.handleCreateRequest)
	authed.GET("/requests", s.handleListRequests)
	authed.GET("/requests/:id", s.handleGetRequest)
	authed.POST("/requests/:id/accept", s.handleAccept)
	authed.POST("/requests/:id/complete", s.handleComplete)
	authed.GET("/live/requests", s.handleLiveList)
	authed.GET("/live/requests/:id", s.handleLiveRequest)
	authed.GET("/qr", s.handleQR)

	return router
}

// authenticate resolves the session from a bearer token, or from the token
// query parameter for websocket clients that cannot set headers.
func (s *Server) authenticate(c *gin.Context) {
	token := c.Query("token")
	if header := c.GetHeader("Authorization"); header != "" {
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}

	sess, err := s.sessions.Current(c.Request.Context(), token)
	if err != nil {
		s.writeError(c, err)
		c.Abort()
		return
	}
	c.Set(ctxKeySession, sess)
	c.Next()
}

func currentSession(c *gin.Context) *session.Session {
	v, _ := c.Get(ctxKeySession)
	sess, _ := v.(*session.Session)
	return sess
}

func (s *Server) allowAllOrigins() bool {
	for _, o := range s.allowedOrigins {
		if o == "*" {
			return true
		}
	}
	return len(s.allowedOrigins) == 0
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || s.allowAllOrigins() {
		return true
	}
	for _, o := range s.allowedOrigins {
		if strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

type errorResponse struct {
	Error  string               `json:"error"`
	Fields []luggage.FieldError `json:"fields,omitempty"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, luggage.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrNotAuthenticated), errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, session.ErrSessionClosed):
		return http.StatusUnauthorized
	case errors.Is(err, lifecycle.ErrForbidden), errors.Is(err, luggage.ErrUnauthorizedRole):
		return http.StatusForbidden
	case errors.Is(err, luggage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, lifecycle.ErrAlreadyClaimed), errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, auth.ErrDuplicateEmail):
		return http.StatusConflict
	case errors.Is(err, docstore.ErrUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: err.Error()}

	var verr *luggage.ValidationError
	if errors.As(err, &verr) {
		resp.Fields = verr.Fields
	}
	if status == http.StatusInternalServerError {
		s.log.WithError(err).WithField("path", c.FullPath()).Error("api: internal error")
		resp.Error = "internal error"
	}
	c.JSON(status, resp)
}

// bindError answers a failed ShouldBind. Tag failures carry their fields,
// anything else is a malformed body or query.
func (s *Server) bindError(c *gin.Context, err error) {
	var verr *luggage.ValidationError
	if errors.As(luggage.FromValidator(err), &verr) {
		s.writeError(c, verr)
		return
	}
	badRequest(c, "malformed request: "+err.Error())
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, errorResponse{Error: msg})
}

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Debug("api: request")
	}
}
