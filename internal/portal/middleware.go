package portal

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"gannportal/internal/auth"
	"gannportal/internal/logger"
	"gannportal/internal/model"
	redisstore "gannportal/internal/store/redis"
)

const sessionKey = "portal.session"

func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = logger.GenerateRequestID()
		}
		c.Header("X-Request-ID", id)
		c.Request = c.Request.WithContext(logger.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// observe records per-route request latency.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.metrics == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.metrics.HTTPDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

// authRequired resolves the auth cookie to a live session. The JWT gets
// verified first; the embedded session id must still exist in Redis, so
// logout revokes access before token expiry.
func (s *Server) authRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, err := c.Cookie(auth.CookieName)
		if err != nil || tokenStr == "" {
			errJSON(c, http.StatusUnauthorized, "Unauthorized")
			c.Abort()
			return
		}

		claims, err := s.tokens.Verify(tokenStr)
		if err != nil {
			errJSON(c, http.StatusUnauthorized, "Unauthorized")
			c.Abort()
			return
		}

		sess, err := s.sessions.Get(c.Request.Context(), claims.SessionID)
		if err != nil {
			if errors.Is(err, redisstore.ErrNoSession) {
				errJSON(c, http.StatusUnauthorized, "Unauthorized")
			} else {
				s.log.Error("session lookup failed", "error", err)
				errJSON(c, http.StatusInternalServerError, "Internal server error")
			}
			c.Abort()
			return
		}
		sess.Token = claims.SessionID

		if err := s.sessions.Touch(c.Request.Context(), sess); err != nil && !errors.Is(err, redisstore.ErrNoSession) {
			s.log.Warn("session touch failed", "error", err)
		}

		c.Set(sessionKey, sess)
		c.Next()
	}
}

// adminOnly rejects non-admin sessions. Must run after authRequired.
func (s *Server) adminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := currentSession(c)
		if sess == nil || sess.Role != model.RoleAdmin {
			errJSON(c, http.StatusForbidden, "Admin access required")
			c.Abort()
			return
		}
		c.Next()
	}
}

func currentSession(c *gin.Context) *model.Session {
	v, ok := c.Get(sessionKey)
	if !ok {
		return nil
	}
	sess, _ := v.(*model.Session)
	return sess
}

func (s *Server) setAuthCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(auth.CookieName, token, int(s.tokens.TTL().Seconds()), "/", "", s.cfg.CookieSecure, true)
}

func (s *Server) clearAuthCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(auth.CookieName, "", -1, "/", "", s.cfg.CookieSecure, true)
}
