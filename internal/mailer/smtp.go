package mailer

import (
	"context"
	"fmt"
	"log"

	gomail "gopkg.in/gomail.v2"
)

const orgName = "Futuretek Institute of Astrological Sciences"

// SMTPMailer sends mail through an SMTP relay.
type SMTPMailer struct {
	dialer  *gomail.Dialer
	from    string
	baseURL string
}

// NewSMTPMailer creates an SMTP mailer.
// baseURL: public portal URL used to build links in mail bodies.
func NewSMTPMailer(host string, port int, user, password, from, baseURL string) *SMTPMailer {
	return &SMTPMailer{
		dialer:  gomail.NewDialer(host, port, user, password),
		from:    from,
		baseURL: baseURL,
	}
}

func (m *SMTPMailer) SendOTP(ctx context.Context, email, code string, userID int64) error {
	link := verifyURL(m.baseURL, email, userID)

	text := fmt.Sprintf(`Dear User,

Your One-Time Password (OTP) for email verification is: %s

You can also verify your OTP directly by clicking the link below:
%s

This OTP will expire in 10 minutes. Please do not share it with anyone.

Regards,
%s
`, code, link, orgName)

	html := fmt.Sprintf(`<p>Dear User,</p>
<p>Your One-Time Password (OTP) for email verification is: <b>%s</b></p>
<p>You can also verify your OTP directly by clicking the link below:</p>
<p><a href="%s" target="_blank">Verify OTP</a></p>
<p><i>This OTP will expire in 10 minutes. Please do not share it with anyone.</i></p>
<br/>
<p>Regards,<br/>%s</p>`, code, link, orgName)

	if err := m.send(ctx, email, "OTP Verification - "+orgName, text, html); err != nil {
		return fmt.Errorf("send otp email: %w", err)
	}
	log.Printf("[mailer] sent OTP to %s", email)
	return nil
}

func (m *SMTPMailer) SendWelcome(ctx context.Context, email, username, tempPassword string) error {
	loginURL := m.baseURL + "/login"

	text := fmt.Sprintf(`Dear Student,

Welcome to the %s!

Your account has been created successfully. Please use the following credentials to log in:

Username: %s
Temporary Password: %s

Login here: %s

Instructions:
1. Log in with the username and temporary password.
2. You will be prompted to verify your email.
3. You will be required to change your password after your first login.

We're glad to have you with us!

Regards,
%s
`, orgName, username, tempPassword, loginURL, orgName)

	html := fmt.Sprintf(`<p>Dear Student,</p>
<p>Welcome to the <b>%s</b>!</p>
<p>Your account has been created successfully. Please use the following credentials to log in:</p>
<ul>
<li><b>Username:</b> %s</li>
<li><b>Temporary Password:</b> %s</li>
</ul>
<p><a href="%s" target="_blank">Click here to log in</a></p>
<p><b>Instructions:</b></p>
<ol>
<li>Log in with the username and temporary password.</li>
<li>You will be prompted to verify your email.</li>
<li>You will be required to change your password after your first login.</li>
</ol>
<p>We're glad to have you with us!</p>
<br/>
<p>Regards,<br/>%s</p>`, orgName, username, tempPassword, loginURL, orgName)

	if err := m.send(ctx, email, "Welcome to "+orgName, text, html); err != nil {
		return fmt.Errorf("send welcome email: %w", err)
	}
	log.Printf("[mailer] sent welcome email to %s", email)
	return nil
}

// send blocks on SMTP delivery but aborts early if ctx is done.
func (m *SMTPMailer) send(ctx context.Context, to, subject, text, html string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", text)
	msg.AddAlternative("text/html", html)

	done := make(chan error, 1)
	go func() { done <- m.dialer.DialAndSend(msg) }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}
