// Package mailer delivers account email: OTP verification codes and
// welcome messages with temporary credentials.
package mailer

import (
	"context"
	"fmt"
	"log"
	"net/url"
)

// Mailer is the interface for all mail backends.
type Mailer interface {
	// SendOTP delivers a verification code to the address. Returns error
	// if delivery fails.
	SendOTP(ctx context.Context, email, code string, userID int64) error
	// SendWelcome delivers first-login credentials to a new analyst.
	SendWelcome(ctx context.Context, email, username, tempPassword string) error
}

// LogMailer logs mail instead of sending it (useful for development).
type LogMailer struct{}

// NewLogMailer creates a log-based mailer.
func NewLogMailer() *LogMailer {
	return &LogMailer{}
}

func (m *LogMailer) SendOTP(ctx context.Context, email, code string, userID int64) error {
	log.Printf("[mailer] OTP for %s (user %d): %s", email, userID, code)
	return nil
}

func (m *LogMailer) SendWelcome(ctx context.Context, email, username, tempPassword string) error {
	log.Printf("[mailer] welcome for %s: username=%s temp_password=%s", email, username, tempPassword)
	return nil
}

// verifyURL builds the link embedded in OTP email so the recipient can
// land on the verification form with the fields pre-filled.
func verifyURL(baseURL, email string, userID int64) string {
	return fmt.Sprintf("%s/verify-otp?email=%s&userId=%d", baseURL, url.QueryEscape(email), userID)
}
