package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vexa-ai/vexa/pkg/bots"
	"github.com/vexa-ai/vexa/pkg/bus"
	"github.com/vexa-ai/vexa/pkg/docker"
	"github.com/vexa-ai/vexa/pkg/models"
	"github.com/vexa-ai/vexa/pkg/services"
	"github.com/vexa-ai/vexa/pkg/transcripts"
)

// UserStore is the slice of the user service the API needs.
type UserStore interface {
	GetUserByToken(ctx context.Context, token string) (*models.User, error)
	CreateUser(ctx context.Context, input services.CreateUserInput) (*models.User, error)
	GetUser(ctx context.Context, userID int64) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	ListUsers(ctx context.Context, skip, limit int) ([]*models.User, error)
	UpdateUser(ctx context.Context, userID int64, input services.UpdateUserInput) (*models.User, error)
	CreateToken(ctx context.Context, userID int64) (*models.APIToken, error)
	ListTokens(ctx context.Context, userID int64) ([]*models.APIToken, error)
	DeleteToken(ctx context.Context, userID, tokenID int64) error
}

// BotManager drives the bot lifecycle endpoints.
type BotManager interface {
	RequestBot(ctx context.Context, user *models.User, input bots.RequestBotInput) (*models.Meeting, error)
	StopBot(ctx context.Context, userID int64, platform models.Platform, nativeID string) error
	Reconfigure(ctx context.Context, userID int64, platform models.Platform, nativeID, language, task string) error
	Status(ctx context.Context) ([]docker.ContainerInfo, error)
	HandleExit(ctx context.Context, connectionID string, exitCode int, reason string) error
}

// TranscriptReader assembles transcripts for the read endpoints.
type TranscriptReader interface {
	GetTranscript(ctx context.Context, userID int64, platform models.Platform, nativeID string) (*transcripts.Transcript, error)
}

// MeetingLister lists a user's meetings.
type MeetingLister interface {
	ListMeetings(ctx context.Context, userID int64) ([]*models.Meeting, error)
}

// Server is the HTTP API over the bot manager, the transcript assembler and
// the provisioning services.
type Server struct {
	users       UserStore
	bots        BotManager
	transcripts TranscriptReader
	meetings    MeetingLister

	// pool and bus back the health endpoint and may be nil in tests.
	pool *pgxpool.Pool
	bus  bus.Bus

	adminToken string
	httpServer *http.Server
}

// NewServer creates the API server. The pool and bus are only probed by the
// health endpoint and may be nil.
func NewServer(users UserStore, botManager BotManager, reader TranscriptReader, meetings MeetingLister, pool *pgxpool.Pool, b bus.Bus, adminToken string) *Server {
	if users == nil {
		panic("NewServer: users must not be nil")
	}
	if botManager == nil {
		panic("NewServer: botManager must not be nil")
	}
	if reader == nil {
		panic("NewServer: reader must not be nil")
	}
	if meetings == nil {
		panic("NewServer: meetings must not be nil")
	}
	return &Server{
		users:       users,
		bots:        botManager,
		transcripts: reader,
		meetings:    meetings,
		pool:        pool,
		bus:         b,
		adminToken:  adminToken,
	}
}

// Routes builds the gin engine with all endpoints registered.
func (s *Server) Routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.handleHealth)

	// Bots call back here when their process exits. Authenticated by the
	// connection id, not an API key.
	r.POST("/bots/internal/callback/exited", s.handleExitCallback)

	authed := r.Group("/", s.authMiddleware())
	{
		authed.POST("/bots", s.handleRequestBot)
		authed.DELETE("/bots/:platform/:native_meeting_id", s.handleStopBot)
		authed.PUT("/bots/:platform/:native_meeting_id/config", s.handleReconfigureBot)
		authed.GET("/bots/status", s.handleBotStatus)
		authed.GET("/transcripts/:platform/:native_meeting_id", s.handleGetTranscript)
		authed.GET("/meetings", s.handleListMeetings)
	}

	admin := r.Group("/admin", s.adminMiddleware())
	{
		admin.POST("/users", s.handleCreateUser)
		admin.GET("/users", s.handleListUsers)
		admin.GET("/users/:user_id", s.handleGetUser)
		admin.GET("/users/email/:email", s.handleGetUserByEmail)
		admin.PATCH("/users/:user_id", s.handleUpdateUser)
		admin.POST("/users/:user_id/tokens", s.handleCreateToken)
		admin.GET("/users/:user_id/tokens", s.handleListTokens)
		admin.DELETE("/users/:user_id/tokens/:token_id", s.handleDeleteToken)
	}

	return r
}

// Start begins serving on the given address and blocks until the server
// stops. Returns nil on graceful shutdown.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
