package auth

import (
	"testing"
	"time"

	"gannportal/internal/model"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("s3cret-pass")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "s3cret-pass" {
		t.Fatal("hash equals plaintext")
	}
	if !VerifyPassword("s3cret-pass", hash) {
		t.Error("correct password rejected")
	}
	if VerifyPassword("wrong", hash) {
		t.Error("wrong password accepted")
	}
}

func TestTempPassword(t *testing.T) {
	p1, err := TempPassword(8)
	if err != nil {
		t.Fatalf("TempPassword: %v", err)
	}
	if len(p1) != 8 {
		t.Errorf("length: got %d, want 8", len(p1))
	}
	p2, _ := TempPassword(8)
	if p1 == p2 {
		t.Error("two generated passwords are identical")
	}

	// Too-short requests are raised to the minimum
	short, _ := TempPassword(3)
	if len(short) != 8 {
		t.Errorf("minimum length not enforced: got %d", len(short))
	}
}

func TestTokenRoundTrip(t *testing.T) {
	m := NewTokenManager("unit-test-secret", time.Hour)
	sess := model.Session{
		Token:    "sess-abc",
		UserID:   42,
		Username: "dinesh",
		Email:    "dinesh@example.com",
		Role:     model.RoleAdmin,
	}

	signed, err := m.Sign(sess)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	claims, err := m.Verify(signed)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID != 42 || claims.Username != "dinesh" || claims.Role != model.RoleAdmin {
		t.Errorf("claims mismatch: %+v", claims)
	}
	if claims.SessionID != "sess-abc" {
		t.Errorf("session id: got %q", claims.SessionID)
	}
}

func TestTokenRejectsTampering(t *testing.T) {
	m := NewTokenManager("unit-test-secret", time.Hour)
	other := NewTokenManager("different-secret", time.Hour)

	signed, err := other.Sign(model.Session{UserID: 1, Role: model.RoleAnalyst})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := m.Verify(signed); err == nil {
		t.Error("token signed with a different secret accepted")
	}
	if _, err := m.Verify("not-a-jwt"); err == nil {
		t.Error("garbage token accepted")
	}
}

func TestTokenExpiry(t *testing.T) {
	m := NewTokenManager("unit-test-secret", -time.Minute)
	signed, err := m.Sign(model.Session{UserID: 7})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := m.Verify(signed); err == nil {
		t.Error("expired token accepted")
	}
}

func TestOTPRoundTrip(t *testing.T) {
	o := NewOTP(10 * time.Minute)
	secret, err := o.NewSecret("analyst@example.com")
	if err != nil {
		t.Fatalf("NewSecret: %v", err)
	}

	now := time.Now()
	code, err := o.Code(secret, now)
	if err != nil {
		t.Fatalf("Code: %v", err)
	}
	if len(code) != 6 {
		t.Errorf("code length: got %d, want 6", len(code))
	}

	if !o.Verify(code, secret, now) {
		t.Error("freshly issued code rejected")
	}
	// One period of skew is allowed; just inside it must still validate.
	if !o.Verify(code, secret, now.Add(9*time.Minute)) {
		t.Error("code rejected inside the validity window")
	}
	if o.Verify(code, secret, now.Add(25*time.Minute)) {
		t.Error("code accepted well past the validity window")
	}
	if o.Verify("000000", secret, now) && code != "000000" {
		t.Error("wrong code accepted")
	}
}

func TestOTPSecretsAreUnique(t *testing.T) {
	o := NewOTP(10 * time.Minute)
	s1, _ := o.NewSecret("a@example.com")
	s2, _ := o.NewSecret("a@example.com")
	if s1 == s2 {
		t.Error("two challenges share a secret")
	}
}
