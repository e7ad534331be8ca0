// Package portal is the HTTP surface of the analysis portal: session
// auth with email OTP verification, admin user management, market data
// proxying, and the volatility/Gann analysis endpoints.
package portal

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"gannportal/config"
	"gannportal/internal/auth"
	"gannportal/internal/gann"
	"gannportal/internal/mailer"
	"gannportal/internal/marketdata"
	"gannportal/internal/metrics"
	"gannportal/internal/model"
	"gannportal/internal/quotes"
)

// UserStore is the persistent account store.
type UserStore interface {
	CreateUser(ctx context.Context, u *model.User, detail *model.UserDetail) (int64, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	UpdatePassword(ctx context.Context, id int64, hash string, clearFirstLogin bool) error
	MarkEmailVerified(ctx context.Context, id int64) error
	ListAnalysts(ctx context.Context, search string, limit, offset int) ([]model.Analyst, int, error)
	CreateOTPChallenge(ctx context.Context, userID int64, secret string, expiresAt time.Time) (int64, error)
	LatestOTPChallenge(ctx context.Context, userID int64, now time.Time) (*model.OTPChallenge, error)
	MarkOTPUsed(ctx context.Context, id int64) error
}

// SessionStore is the volatile login session store.
type SessionStore interface {
	Create(ctx context.Context, u *model.User) (string, *model.Session, error)
	Get(ctx context.Context, token string) (*model.Session, error)
	Touch(ctx context.Context, sess *model.Session) error
	Delete(ctx context.Context, token string) error
	AllowOTPResend(ctx context.Context, userID int64, window time.Duration) (bool, error)
}

// MarketAPI is the upstream market data provider.
type MarketAPI interface {
	EOD(ctx context.Context, symbol string, limit int) (*model.PriceHistory, error)
	Search(ctx context.Context, query string, limit, offset int) (*marketdata.SearchResult, error)
}

// Deps carries everything the server needs.
type Deps struct {
	Users    UserStore
	Sessions SessionStore
	OTP      *auth.OTP
	Tokens   *auth.TokenManager
	Mail     mailer.Mailer
	Market   MarketAPI
	Engine   *gann.Engine
	Hub      *quotes.Hub
	Metrics  *metrics.Metrics
	Log      *slog.Logger
}

// Server wires the portal routes onto a gin engine.
type Server struct {
	cfg      *config.Config
	log      *slog.Logger
	users    UserStore
	sessions SessionStore
	otp      *auth.OTP
	tokens   *auth.TokenManager
	mail     mailer.Mailer
	market   MarketAPI
	engine   *gann.Engine
	hub      *quotes.Hub
	metrics  *metrics.Metrics
	router   *gin.Engine
	now      func() time.Time
}

// resendWindow throttles repeat OTP emails per user.
const resendWindow = time.Minute

// NewServer builds the router and all handlers.
func NewServer(cfg *config.Config, d Deps) *Server {
	s := &Server{
		cfg:      cfg,
		log:      d.Log,
		users:    d.Users,
		sessions: d.Sessions,
		otp:      d.OTP,
		tokens:   d.Tokens,
		mail:     d.Mail,
		market:   d.Market,
		engine:   d.Engine,
		hub:      d.Hub,
		metrics:  d.Metrics,
		now:      time.Now,
	}
	if s.log == nil {
		s.log = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestID())
	r.Use(s.observe())

	pub := r.Group("/api/auth")
	pub.POST("/login", s.handleLogin)
	pub.POST("/admin/login", s.handleAdminLogin)
	pub.POST("/verify-otp", s.handleVerifyOTP)
	pub.POST("/resend-otp", s.handleResendOTP)
	pub.POST("/change-password", s.handleChangePassword)

	authed := r.Group("/", s.authRequired())
	authed.POST("/api/auth/logout", s.handleLogout)
	authed.GET("/api/auth/me", s.handleMe)
	authed.GET("/api/stock-data", s.handleStockData)
	authed.GET("/api/stock-search", s.handleStockSearch)
	authed.GET("/api/categories", s.handleCategories)
	authed.POST("/api/analysis", s.handleAnalysis)
	authed.POST("/api/analysis/upload", s.handleAnalysisUpload)
	authed.GET("/api/template", s.handleTemplate)
	if s.hub != nil {
		authed.GET("/ws/quotes", func(c *gin.Context) {
			s.hub.HandleWS(c.Writer, c.Request)
		})
	}

	admin := r.Group("/api/auth/admin", s.authRequired(), s.adminOnly())
	admin.POST("/create-analyst", s.handleCreateAnalyst)
	admin.GET("/analysts", s.handleListAnalysts)

	s.router = r
	return s
}

// Router returns the underlying gin engine for serving or tests.
func (s *Server) Router() http.Handler { return s.router }

func errJSON(c *gin.Context, code int, msg string) {
	c.JSON(code, gin.H{"error": msg})
}
