package portal

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"gannportal/internal/auth"
	"gannportal/internal/model"
	"gannportal/internal/store/sqlite"
)

type createAnalystRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	FullName    string `json:"full_name"`
	PhoneNumber string `json:"phone_number"`
	IDNumber    string `json:"id_number"`
}

func (s *Server) handleCreateAnalyst(c *gin.Context) {
	var req createAnalystRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" || req.Email == "" || req.FullName == "" {
		errJSON(c, http.StatusBadRequest, "Username, email, and full name are required")
		return
	}

	tempPassword, err := auth.TempPassword(8)
	if err != nil {
		s.log.Error("temp password generation failed", "error", err)
		errJSON(c, http.StatusInternalServerError, "Internal server error")
		return
	}
	hash, err := auth.HashPassword(tempPassword)
	if err != nil {
		s.log.Error("password hash failed", "error", err)
		errJSON(c, http.StatusInternalServerError, "Internal server error")
		return
	}

	ctx := c.Request.Context()
	id, err := s.users.CreateUser(ctx, &model.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         model.RoleAnalyst,
		FirstLogin:   true,
	}, &model.UserDetail{
		FullName:    req.FullName,
		PhoneNumber: req.PhoneNumber,
		IDNumber:    req.IDNumber,
	})
	if err != nil {
		if errors.Is(err, sqlite.ErrDuplicate) {
			errJSON(c, http.StatusBadRequest, "Username or email already exists")
			return
		}
		s.log.Error("analyst create failed", "error", err)
		errJSON(c, http.StatusInternalServerError, "Internal server error")
		return
	}

	// Account creation succeeds even when mail delivery does not; the
	// admin still sees the temporary password in the response.
	if err := s.mail.SendWelcome(ctx, req.Email, req.Username, tempPassword); err != nil {
		s.log.Error("welcome email failed", "error", err, "email", req.Email)
	}

	if s.metrics != nil {
		s.metrics.AnalystsCreated.Inc()
	}
	s.log.Info("analyst account created", "username", req.Username, "id", id)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Analyst account created successfully",
		"user": gin.H{
			"id":            strconv.FormatInt(id, 10),
			"username":      req.Username,
			"email":         req.Email,
			"role":          model.RoleAnalyst,
			"temp_password": tempPassword,
		},
	})
}

func (s *Server) handleListAnalysts(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	search := c.Query("search")
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}
	offset := (page - 1) * limit

	analysts, total, err := s.users.ListAnalysts(c.Request.Context(), search, limit, offset)
	if err != nil {
		s.log.Error("analyst listing failed", "error", err)
		errJSON(c, http.StatusInternalServerError, "Internal server error")
		return
	}

	rows := make([]gin.H, 0, len(analysts))
	for _, a := range analysts {
		rows = append(rows, gin.H{
			"id":             strconv.FormatInt(a.ID, 10),
			"username":       a.Username,
			"email":          a.Email,
			"full_name":      a.FullName,
			"phone_number":   a.PhoneNumber,
			"id_number":      a.IDNumber,
			"role":           a.Role,
			"email_verified": a.EmailVerified,
			"first_login":    a.FirstLogin,
			"created_at":     a.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	totalPages := (total + limit - 1) / limit
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"analysts": rows,
		"pagination": gin.H{
			"current_page": page,
			"total_pages":  totalPages,
			"total_count":  total,
			"has_more":     offset+limit < total,
		},
	})
}
