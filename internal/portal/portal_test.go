package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"gannportal/config"
	"gannportal/internal/auth"
	"gannportal/internal/gann"
	"gannportal/internal/marketdata"
	"gannportal/internal/model"
	redisstore "gannportal/internal/store/redis"
	"gannportal/internal/store/sqlite"
)

// testPassword is the known-good password for seeded accounts. The bcrypt
// hash is computed once; cost 12 is too slow to repeat per test.
const testPassword = "correct-horse"

var (
	testHashOnce sync.Once
	testHash     string
)

func passwordHash(t *testing.T) string {
	t.Helper()
	testHashOnce.Do(func() {
		h, err := auth.HashPassword(testPassword)
		if err != nil {
			t.Fatalf("hash password: %v", err)
		}
		testHash = h
	})
	return testHash
}

type fakeUsers struct {
	mu     sync.Mutex
	users  map[int64]*model.User
	detail map[int64]*model.UserDetail
	chals  []*model.OTPChallenge
	nextID int64
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{
		users:  make(map[int64]*model.User),
		detail: make(map[int64]*model.UserDetail),
	}
}

func (f *fakeUsers) CreateUser(_ context.Context, u *model.User, d *model.UserDetail) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.users {
		if existing.Username == u.Username || existing.Email == u.Email {
			return 0, sqlite.ErrDuplicate
		}
	}
	f.nextID++
	cp := *u
	cp.ID = f.nextID
	cp.CreatedAt = time.Now()
	f.users[cp.ID] = &cp
	if d != nil {
		dc := *d
		dc.UserID = cp.ID
		f.detail[cp.ID] = &dc
	}
	return cp.ID, nil
}

func (f *fakeUsers) GetUserByUsername(_ context.Context, username string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, sqlite.ErrNotFound
}

func (f *fakeUsers) GetUserByID(_ context.Context, id int64) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, sqlite.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) UpdatePassword(_ context.Context, id int64, hash string, clearFirstLogin bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return sqlite.ErrNotFound
	}
	u.PasswordHash = hash
	if clearFirstLogin {
		u.FirstLogin = false
	}
	return nil
}

func (f *fakeUsers) MarkEmailVerified(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return sqlite.ErrNotFound
	}
	u.EmailVerified = true
	return nil
}

func (f *fakeUsers) ListAnalysts(_ context.Context, search string, limit, offset int) ([]model.Analyst, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []model.Analyst
	for id := int64(1); id <= f.nextID; id++ {
		u, ok := f.users[id]
		if !ok || u.Role != model.RoleAnalyst {
			continue
		}
		a := model.Analyst{User: *u}
		if d, ok := f.detail[id]; ok {
			a.FullName, a.PhoneNumber, a.IDNumber = d.FullName, d.PhoneNumber, d.IDNumber
		}
		if search != "" && !strings.Contains(strings.ToLower(u.Username), strings.ToLower(search)) {
			continue
		}
		all = append(all, a)
	}
	total := len(all)
	if offset >= len(all) {
		return nil, total, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, total, nil
}

func (f *fakeUsers) CreateOTPChallenge(_ context.Context, userID int64, secret string, expiresAt time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := int64(len(f.chals) + 1)
	f.chals = append(f.chals, &model.OTPChallenge{
		ID:        id,
		UserID:    userID,
		Secret:    secret,
		ExpiresAt: expiresAt,
	})
	return id, nil
}

func (f *fakeUsers) LatestOTPChallenge(_ context.Context, userID int64, now time.Time) (*model.OTPChallenge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.chals) - 1; i >= 0; i-- {
		ch := f.chals[i]
		if ch.UserID == userID && !ch.Used && ch.ExpiresAt.After(now) {
			cp := *ch
			return &cp, nil
		}
	}
	return nil, sqlite.ErrNotFound
}

func (f *fakeUsers) MarkOTPUsed(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.chals {
		if ch.ID == id {
			ch.Used = true
			return nil
		}
	}
	return sqlite.ErrNotFound
}

type fakeSessions struct {
	mu      sync.Mutex
	store   map[string]*model.Session
	resends map[int64]bool
	nextTok int
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		store:   make(map[string]*model.Session),
		resends: make(map[int64]bool),
	}
}

func (f *fakeSessions) Create(_ context.Context, u *model.User) (string, *model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextTok++
	token := fmt.Sprintf("tok-%d", f.nextTok)
	sess := &model.Session{
		Token:     token,
		UserID:    u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Role:      u.Role,
		CreatedAt: time.Now(),
		LastSeen:  time.Now(),
	}
	f.store[token] = sess
	return token, sess, nil
}

func (f *fakeSessions) Get(_ context.Context, token string) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.store[token]
	if !ok {
		return nil, redisstore.ErrNoSession
	}
	cp := *sess
	return &cp, nil
}

func (f *fakeSessions) Touch(_ context.Context, sess *model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if stored, ok := f.store[sess.Token]; ok {
		stored.LastSeen = time.Now()
		return nil
	}
	return redisstore.ErrNoSession
}

func (f *fakeSessions) Delete(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.store, token)
	return nil
}

func (f *fakeSessions) AllowOTPResend(_ context.Context, userID int64, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resends[userID] {
		return false, nil
	}
	f.resends[userID] = true
	return true, nil
}

type sentMail struct {
	Email, Code, Username, TempPassword string
}

type fakeMailer struct {
	mu       sync.Mutex
	otps     []sentMail
	welcomes []sentMail
	fail     bool
}

func (f *fakeMailer) SendOTP(_ context.Context, email, code string, _ int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return fmt.Errorf("smtp unavailable")
	}
	f.otps = append(f.otps, sentMail{Email: email, Code: code})
	return nil
}

func (f *fakeMailer) SendWelcome(_ context.Context, email, username, tempPassword string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return fmt.Errorf("smtp unavailable")
	}
	f.welcomes = append(f.welcomes, sentMail{Email: email, Username: username, TempPassword: tempPassword})
	return nil
}

func (f *fakeMailer) lastOTP(t *testing.T) sentMail {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.otps) == 0 {
		t.Fatal("no OTP email sent")
	}
	return f.otps[len(f.otps)-1]
}

type fakeMarket struct {
	history *model.PriceHistory
	err     error
	search  *marketdata.SearchResult

	lastSymbol string
	lastQuery  string
}

func (f *fakeMarket) EOD(_ context.Context, symbol string, _ int) (*model.PriceHistory, error) {
	f.lastSymbol = symbol
	if f.err != nil {
		return nil, f.err
	}
	return f.history, nil
}

func (f *fakeMarket) Search(_ context.Context, query string, _, _ int) (*marketdata.SearchResult, error) {
	f.lastQuery = query
	if f.err != nil {
		return nil, f.err
	}
	return f.search, nil
}

type env struct {
	srv      *Server
	users    *fakeUsers
	sessions *fakeSessions
	mail     *fakeMailer
	market   *fakeMarket
	cfg      *config.Config
	now      time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	cfg := &config.Config{
		JWTSecret:  "portal-test-secret",
		SessionTTL: 7 * 24 * time.Hour,
		OTPTTL:     10 * time.Minute,
	}
	e := &env{
		users:    newFakeUsers(),
		sessions: newFakeSessions(),
		mail:     &fakeMailer{},
		market:   &fakeMarket{},
		cfg:      cfg,
		now:      time.Now(),
	}
	e.srv = NewServer(cfg, Deps{
		Users:    e.users,
		Sessions: e.sessions,
		OTP:      auth.NewOTP(cfg.OTPTTL),
		Tokens:   auth.NewTokenManager(cfg.JWTSecret, cfg.SessionTTL),
		Mail:     e.mail,
		Market:   e.market,
		Engine:   gann.NewEngine(),
		Log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	e.srv.now = func() time.Time { return e.now }
	return e
}

func (e *env) addUser(t *testing.T, username string, role model.Role, firstLogin, verified bool) *model.User {
	t.Helper()
	id, err := e.users.CreateUser(context.Background(), &model.User{
		Username:      username,
		Email:         username + "@example.com",
		PasswordHash:  passwordHash(t),
		Role:          role,
		FirstLogin:    firstLogin,
		EmailVerified: verified,
	}, nil)
	if err != nil {
		t.Fatalf("seed user %s: %v", username, err)
	}
	u, _ := e.users.GetUserByID(context.Background(), id)
	return u
}

func (e *env) do(t *testing.T, method, path string, body any, cookie string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: cookie})
	}
	w := httptest.NewRecorder()
	e.srv.Router().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

// login performs a full password login for a seeded non-first-login user
// and returns the auth cookie value.
func (e *env) login(t *testing.T, username string) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"username": username,
		"password": testPassword,
	}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("login %s: status %d body %s", username, w.Code, w.Body.String())
	}
	for _, ck := range w.Result().Cookies() {
		if ck.Name == auth.CookieName {
			return ck.Value
		}
	}
	t.Fatalf("login %s: no auth cookie set", username)
	return ""
}

func TestLogin_MissingFields(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodPost, "/api/auth/login", map[string]string{"username": "alice"}, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestLogin_BadCredentialsAreIndistinguishable(t *testing.T) {
	e := newEnv(t)
	e.addUser(t, "alice", model.RoleAnalyst, false, true)

	unknown := e.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"username": "nobody", "password": "whatever",
	}, "")
	wrongPass := e.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"username": "alice", "password": "wrong",
	}, "")

	for name, w := range map[string]*httptest.ResponseRecorder{"unknown user": unknown, "wrong password": wrongPass} {
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", name, w.Code)
		}
		if msg := decode(t, w)["error"]; msg != "Invalid username or password" {
			t.Errorf("%s: error = %q", name, msg)
		}
	}
}

func TestLogin_Success(t *testing.T) {
	e := newEnv(t)
	e.addUser(t, "alice", model.RoleAnalyst, false, true)

	w := e.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"username": "alice", "password": testPassword,
	}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["success"] != true {
		t.Errorf("success = %v", body["success"])
	}
	user, _ := body["user"].(map[string]any)
	if user["username"] != "alice" || user["role"] != "ANALYST" {
		t.Errorf("user = %v", user)
	}

	var found bool
	for _, ck := range w.Result().Cookies() {
		if ck.Name == auth.CookieName {
			found = true
			if !ck.HttpOnly {
				t.Error("auth cookie is not httpOnly")
			}
		}
	}
	if !found {
		t.Error("auth cookie not set")
	}
}

func TestLogin_FirstLoginRequiresOTP(t *testing.T) {
	e := newEnv(t)
	u := e.addUser(t, "bob", model.RoleAnalyst, true, false)

	w := e.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"username": "bob", "password": testPassword,
	}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["requires_otp"] != true {
		t.Fatalf("requires_otp = %v", body["requires_otp"])
	}
	if body["user_id"] != "1" || body["email"] != u.Email {
		t.Errorf("user_id/email = %v/%v", body["user_id"], body["email"])
	}
	mail := e.mail.lastOTP(t)
	if mail.Email != u.Email || len(mail.Code) != 6 {
		t.Errorf("otp mail = %+v", mail)
	}
}

func TestVerifyOTP(t *testing.T) {
	e := newEnv(t)
	e.addUser(t, "bob", model.RoleAnalyst, true, false)
	e.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"username": "bob", "password": testPassword,
	}, "")
	code := e.mail.lastOTP(t).Code

	bad := e.do(t, http.MethodPost, "/api/auth/verify-otp", map[string]string{
		"user_id": "1", "otp": "000000",
	}, "")
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("wrong code: status = %d", bad.Code)
	}
	if msg := decode(t, bad)["error"]; msg != "Invalid or expired OTP" {
		t.Errorf("wrong code: error = %q", msg)
	}

	ok := e.do(t, http.MethodPost, "/api/auth/verify-otp", map[string]string{
		"user_id": "1", "otp": code,
	}, "")
	if ok.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", ok.Code, ok.Body.String())
	}
	u, _ := e.users.GetUserByID(context.Background(), 1)
	if !u.EmailVerified {
		t.Error("email not marked verified")
	}

	// A used challenge cannot be replayed.
	replay := e.do(t, http.MethodPost, "/api/auth/verify-otp", map[string]string{
		"user_id": "1", "otp": code,
	}, "")
	if replay.Code != http.StatusBadRequest {
		t.Errorf("replay: status = %d, want 400", replay.Code)
	}
}

func TestVerifyOTP_Expired(t *testing.T) {
	e := newEnv(t)
	e.addUser(t, "bob", model.RoleAnalyst, true, false)
	e.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"username": "bob", "password": testPassword,
	}, "")
	code := e.mail.lastOTP(t).Code

	e.now = e.now.Add(11 * time.Minute)
	w := e.do(t, http.MethodPost, "/api/auth/verify-otp", map[string]string{
		"user_id": "1", "otp": code,
	}, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestResendOTP(t *testing.T) {
	e := newEnv(t)
	e.addUser(t, "bob", model.RoleAnalyst, true, false)

	missing := e.do(t, http.MethodPost, "/api/auth/resend-otp", map[string]string{"user_id": "99"}, "")
	if missing.Code != http.StatusNotFound {
		t.Errorf("unknown user: status = %d, want 404", missing.Code)
	}

	first := e.do(t, http.MethodPost, "/api/auth/resend-otp", map[string]string{"user_id": "1"}, "")
	if first.Code != http.StatusOK {
		t.Fatalf("first resend: status = %d body %s", first.Code, first.Body.String())
	}
	if len(e.mail.otps) != 1 {
		t.Fatalf("otps sent = %d, want 1", len(e.mail.otps))
	}

	second := e.do(t, http.MethodPost, "/api/auth/resend-otp", map[string]string{"user_id": "1"}, "")
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("throttled resend: status = %d, want 429", second.Code)
	}
	if msg := decode(t, second)["error"]; msg != "Please wait before requesting another OTP" {
		t.Errorf("throttled resend: error = %q", msg)
	}
}

func TestChangePassword(t *testing.T) {
	e := newEnv(t)
	e.addUser(t, "bob", model.RoleAnalyst, true, true)

	short := e.do(t, http.MethodPost, "/api/auth/change-password", map[string]string{
		"user_id": "1", "new_password": "tiny",
	}, "")
	if short.Code != http.StatusBadRequest {
		t.Fatalf("short password: status = %d", short.Code)
	}
	if msg := decode(t, short)["error"]; msg != "Password must be at least 6 characters long" {
		t.Errorf("short password: error = %q", msg)
	}

	w := e.do(t, http.MethodPost, "/api/auth/change-password", map[string]string{
		"user_id": "1", "new_password": "brand-new-password",
	}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["success"] != true || body["message"] != "Password changed successfully" {
		t.Errorf("body = %v", body)
	}

	u, _ := e.users.GetUserByID(context.Background(), 1)
	if u.FirstLogin {
		t.Error("first_login flag not cleared")
	}
	if !auth.VerifyPassword("brand-new-password", u.PasswordHash) {
		t.Error("new password does not verify")
	}

	// Password change signs the user in directly.
	var cookie string
	for _, ck := range w.Result().Cookies() {
		if ck.Name == auth.CookieName {
			cookie = ck.Value
		}
	}
	if cookie == "" {
		t.Fatal("no auth cookie after password change")
	}
	me := e.do(t, http.MethodGet, "/api/auth/me", nil, cookie)
	if me.Code != http.StatusOK {
		t.Errorf("me after change: status = %d", me.Code)
	}
}

func TestLogin_PasswordChangeRequired(t *testing.T) {
	e := newEnv(t)
	e.addUser(t, "bob", model.RoleAnalyst, true, true)

	w := e.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"username": "bob", "password": testPassword,
	}, "")
	body := decode(t, w)
	if body["requires_password_change"] != true {
		t.Fatalf("requires_password_change = %v", body["requires_password_change"])
	}
	if body["user_id"] != "1" {
		t.Errorf("user_id = %v", body["user_id"])
	}
}

func TestAdminLogin_RejectsAnalyst(t *testing.T) {
	e := newEnv(t)
	e.addUser(t, "alice", model.RoleAnalyst, false, true)

	w := e.do(t, http.MethodPost, "/api/auth/admin/login", map[string]string{
		"username": "alice", "password": testPassword,
	}, "")
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	if msg := decode(t, w)["error"]; msg != "Admin access required" {
		t.Errorf("error = %q", msg)
	}
}

func TestAuthRequired(t *testing.T) {
	e := newEnv(t)
	e.addUser(t, "alice", model.RoleAnalyst, false, true)

	if w := e.do(t, http.MethodGet, "/api/auth/me", nil, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("no cookie: status = %d, want 401", w.Code)
	}
	if w := e.do(t, http.MethodGet, "/api/auth/me", nil, "not-a-jwt"); w.Code != http.StatusUnauthorized {
		t.Errorf("garbage token: status = %d, want 401", w.Code)
	}

	cookie := e.login(t, "alice")
	if w := e.do(t, http.MethodGet, "/api/auth/me", nil, cookie); w.Code != http.StatusOK {
		t.Errorf("valid session: status = %d, want 200", w.Code)
	}

	// A valid JWT whose server-side session is gone is rejected: logout
	// revokes access before token expiry.
	if w := e.do(t, http.MethodPost, "/api/auth/logout", nil, cookie); w.Code != http.StatusOK {
		t.Fatalf("logout: status = %d", w.Code)
	}
	if w := e.do(t, http.MethodGet, "/api/auth/me", nil, cookie); w.Code != http.StatusUnauthorized {
		t.Errorf("after logout: status = %d, want 401", w.Code)
	}
}

func TestMe(t *testing.T) {
	e := newEnv(t)
	e.addUser(t, "alice", model.RoleAnalyst, false, true)
	cookie := e.login(t, "alice")

	w := e.do(t, http.MethodGet, "/api/auth/me", nil, cookie)
	user, _ := decode(t, w)["user"].(map[string]any)
	if user["id"] != "1" || user["username"] != "alice" || user["email"] != "alice@example.com" || user["role"] != "ANALYST" {
		t.Errorf("user = %v", user)
	}
}

func TestAdminOnly(t *testing.T) {
	e := newEnv(t)
	e.addUser(t, "alice", model.RoleAnalyst, false, true)
	cookie := e.login(t, "alice")

	w := e.do(t, http.MethodGet, "/api/auth/admin/analysts", nil, cookie)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	if msg := decode(t, w)["error"]; msg != "Admin access required" {
		t.Errorf("error = %q", msg)
	}
}
