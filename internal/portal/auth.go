package portal

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"gannportal/internal/auth"
	"gannportal/internal/model"
	"gannportal/internal/store/sqlite"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(c *gin.Context) {
	s.login(c, false)
}

// handleAdminLogin is the admin console entry point: same flow, but the
// account must carry the admin role.
func (s *Server) handleAdminLogin(c *gin.Context) {
	s.login(c, true)
}

func (s *Server) login(c *gin.Context, adminOnly bool) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" || req.Password == "" {
		errJSON(c, http.StatusBadRequest, "Username and password are required")
		return
	}

	ctx := c.Request.Context()
	user, err := s.users.GetUserByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			s.countLogin("failed")
			// Same message as a wrong password; usernames are not probeable.
			errJSON(c, http.StatusUnauthorized, "Invalid username or password")
			return
		}
		s.log.Error("login lookup failed", "error", err)
		errJSON(c, http.StatusInternalServerError, "Internal server error")
		return
	}

	if adminOnly && user.Role != model.RoleAdmin {
		errJSON(c, http.StatusForbidden, "Admin access required")
		return
	}

	if !auth.VerifyPassword(req.Password, user.PasswordHash) {
		s.countLogin("failed")
		errJSON(c, http.StatusUnauthorized, "Invalid username or password")
		return
	}

	// Fresh accounts verify their email before anything else.
	if user.FirstLogin && !user.EmailVerified {
		if err := s.sendOTP(c, user); err != nil {
			errJSON(c, http.StatusInternalServerError, "Failed to send verification email")
			return
		}
		s.countLogin("otp_required")
		c.JSON(http.StatusOK, gin.H{
			"requires_otp": true,
			"user_id":      strconv.FormatInt(user.ID, 10),
			"email":        user.Email,
			"message":      "OTP sent to your email for verification",
		})
		return
	}

	// Verified but still on the temporary password.
	if user.FirstLogin && user.EmailVerified {
		s.countLogin("password_change")
		c.JSON(http.StatusOK, gin.H{
			"requires_password_change": true,
			"user_id":                  strconv.FormatInt(user.ID, 10),
			"message":                  "Please change your password",
		})
		return
	}

	if !s.signIn(c, user) {
		return
	}
	s.countLogin("success")
	c.JSON(http.StatusOK, gin.H{"success": true, "user": userJSON(user)})
}

type verifyOTPRequest struct {
	UserID string `json:"user_id"`
	OTP    string `json:"otp"`
}

func (s *Server) handleVerifyOTP(c *gin.Context) {
	var req verifyOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" || req.OTP == "" {
		errJSON(c, http.StatusBadRequest, "User ID and OTP are required")
		return
	}
	userID, err := strconv.ParseInt(req.UserID, 10, 64)
	if err != nil {
		errJSON(c, http.StatusBadRequest, "User ID and OTP are required")
		return
	}

	ctx := c.Request.Context()
	now := s.now()
	chal, err := s.users.LatestOTPChallenge(ctx, userID, now)
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			s.countOTP("invalid")
			errJSON(c, http.StatusBadRequest, "Invalid or expired OTP")
			return
		}
		s.log.Error("otp lookup failed", "error", err)
		errJSON(c, http.StatusInternalServerError, "Internal server error")
		return
	}

	if !s.otp.Verify(req.OTP, chal.Secret, now) {
		s.countOTP("invalid")
		errJSON(c, http.StatusBadRequest, "Invalid or expired OTP")
		return
	}

	if err := s.users.MarkOTPUsed(ctx, chal.ID); err != nil {
		s.log.Error("mark otp used failed", "error", err)
		errJSON(c, http.StatusInternalServerError, "Internal server error")
		return
	}
	if err := s.users.MarkEmailVerified(ctx, userID); err != nil {
		s.log.Error("mark email verified failed", "error", err)
		errJSON(c, http.StatusInternalServerError, "Internal server error")
		return
	}

	s.countOTP("ok")
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Email verified successfully"})
}

type resendOTPRequest struct {
	UserID string `json:"user_id"`
}

func (s *Server) handleResendOTP(c *gin.Context) {
	var req resendOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
		errJSON(c, http.StatusBadRequest, "User ID is required")
		return
	}
	userID, err := strconv.ParseInt(req.UserID, 10, 64)
	if err != nil {
		errJSON(c, http.StatusBadRequest, "User ID is required")
		return
	}

	ctx := c.Request.Context()
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			errJSON(c, http.StatusNotFound, "User not found")
			return
		}
		s.log.Error("resend lookup failed", "error", err)
		errJSON(c, http.StatusInternalServerError, "Internal server error")
		return
	}

	ok, err := s.sessions.AllowOTPResend(ctx, userID, resendWindow)
	if err != nil {
		s.log.Error("resend throttle check failed", "error", err)
		errJSON(c, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !ok {
		errJSON(c, http.StatusTooManyRequests, "Please wait before requesting another OTP")
		return
	}

	if err := s.sendOTP(c, user); err != nil {
		errJSON(c, http.StatusInternalServerError, "Failed to send verification email")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "OTP sent successfully"})
}

type changePasswordRequest struct {
	UserID      string `json:"user_id"`
	NewPassword string `json:"new_password"`
}

func (s *Server) handleChangePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" || req.NewPassword == "" {
		errJSON(c, http.StatusBadRequest, "User ID and new password are required")
		return
	}
	if len(req.NewPassword) < 6 {
		errJSON(c, http.StatusBadRequest, "Password must be at least 6 characters long")
		return
	}
	userID, err := strconv.ParseInt(req.UserID, 10, 64)
	if err != nil {
		errJSON(c, http.StatusBadRequest, "User ID and new password are required")
		return
	}

	ctx := c.Request.Context()
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			errJSON(c, http.StatusNotFound, "User not found")
			return
		}
		s.log.Error("change-password lookup failed", "error", err)
		errJSON(c, http.StatusInternalServerError, "Internal server error")
		return
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		s.log.Error("password hash failed", "error", err)
		errJSON(c, http.StatusInternalServerError, "Internal server error")
		return
	}
	if err := s.users.UpdatePassword(ctx, userID, hash, true); err != nil {
		s.log.Error("password update failed", "error", err)
		errJSON(c, http.StatusInternalServerError, "Internal server error")
		return
	}
	user.FirstLogin = false

	// Changing the password completes onboarding; sign the user in.
	if !s.signIn(c, user) {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Password changed successfully",
		"user":    userJSON(user),
	})
}

func (s *Server) handleLogout(c *gin.Context) {
	sess := currentSession(c)
	if sess != nil {
		if err := s.sessions.Delete(c.Request.Context(), sess.Token); err != nil {
			s.log.Warn("session delete failed", "error", err)
		}
	}
	s.clearAuthCookie(c)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleMe(c *gin.Context) {
	sess := currentSession(c)
	c.JSON(http.StatusOK, gin.H{
		"user": gin.H{
			"id":       strconv.FormatInt(sess.UserID, 10),
			"username": sess.Username,
			"email":    sess.Email,
			"role":     sess.Role,
		},
	})
}

// signIn creates the server-side session and sets the auth cookie.
// Writes its own error response on failure.
func (s *Server) signIn(c *gin.Context, user *model.User) bool {
	token, sess, err := s.sessions.Create(c.Request.Context(), user)
	if err != nil {
		s.log.Error("session create failed", "error", err)
		errJSON(c, http.StatusInternalServerError, "Internal server error")
		return false
	}
	signed, err := s.tokens.Sign(*sess)
	if err != nil {
		s.log.Error("token sign failed", "error", err)
		s.sessions.Delete(c.Request.Context(), token)
		errJSON(c, http.StatusInternalServerError, "Internal server error")
		return false
	}
	s.setAuthCookie(c, signed)
	if s.metrics != nil {
		s.metrics.SessionsCreated.Inc()
	}
	return true
}

// sendOTP creates a challenge and emails its code.
func (s *Server) sendOTP(c *gin.Context, user *model.User) error {
	ctx := c.Request.Context()
	now := s.now()

	secret, err := s.otp.NewSecret(user.Email)
	if err != nil {
		return err
	}
	if _, err := s.users.CreateOTPChallenge(ctx, user.ID, secret, now.Add(s.cfg.OTPTTL)); err != nil {
		s.log.Error("otp challenge create failed", "error", err)
		return err
	}
	code, err := s.otp.Code(secret, now)
	if err != nil {
		return err
	}
	if err := s.mail.SendOTP(ctx, user.Email, code, user.ID); err != nil {
		s.log.Error("otp email failed", "error", err, "email", user.Email)
		return err
	}
	if s.metrics != nil {
		s.metrics.OTPEmailsTotal.Inc()
	}
	return nil
}

func (s *Server) countLogin(outcome string) {
	if s.metrics != nil {
		s.metrics.LoginsTotal.WithLabelValues(outcome).Inc()
	}
}

func (s *Server) countOTP(result string) {
	if s.metrics != nil {
		s.metrics.OTPVerifications.WithLabelValues(result).Inc()
	}
}

func userJSON(u *model.User) gin.H {
	return gin.H{
		"id":       strconv.FormatInt(u.ID, 10),
		"username": u.Username,
		"email":    u.Email,
		"role":     u.Role,
	}
}
