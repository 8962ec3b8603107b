package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func withTmpConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	return filepath.Join(dir, "tvkeeper")
}

func signed(t *testing.T, exp time.Time) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":      map[string]string{"id": "11111111-1111-1111-1111-111111111111", "role": "ADMIN"},
		"username": "root@x.com",
		"iat":      time.Now().Unix(),
		"exp":      exp.Unix(),
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func Test_cfgDir_And_Paths(t *testing.T) {
	base := withTmpConfig(t)
	if got := cfgDir(); got != base {
		t.Fatalf("cfgDir=%q, want %q", got, base)
	}
	if !strings.HasPrefix(tokenPath(), base) || !strings.HasSuffix(tokenPath(), "token.json") {
		t.Fatalf("tokenPath unexpected: %s", tokenPath())
	}
}

func Test_token_SaveLoadRemove(t *testing.T) {
	_ = withTmpConfig(t)

	if _, err := loadToken(); err == nil {
		t.Fatalf("expected error when token file missing")
	}
	if err := saveToken("tok", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("saveToken: %v", err)
	}
	st, err := os.Stat(tokenPath())
	if err != nil || st.Mode().Perm() != 0o600 {
		t.Fatalf("token file mode: %v %v", st, err)
	}
	tok, err := loadToken()
	if err != nil || tok != "tok" {
		t.Fatalf("loadToken: tok=%q err=%v", tok, err)
	}
	if err := saveToken("tok2", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("saveToken expired: %v", err)
	}
	if _, err := loadToken(); err == nil {
		t.Fatalf("want error for expired token")
	}
	if err := removeToken(); err != nil {
		t.Fatalf("removeToken: %v", err)
	}
	if err := removeToken(); err != nil {
		t.Fatalf("removeToken twice: %v", err)
	}
}

func Test_tokenExpiry(t *testing.T) {
	t.Parallel()

	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	got, ok := tokenExpiry(signed(t, exp))
	if !ok || !got.Equal(exp) {
		t.Fatalf("tokenExpiry = %v, %v; want %v", got, ok, exp)
	}
	if _, ok := tokenExpiry("not-a-jwt"); ok {
		t.Fatalf("garbage must not yield an expiry")
	}
}

// fakeAPI mimics the server routes the CLI calls.
func fakeAPI(t *testing.T, tok string) *httptest.Server {
	t.Helper()
	revoked := false
	mux := http.NewServeMux()
	unauthorized := func(w http.ResponseWriter) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code":"UNAUTHORIZED","message":"authentication required"}`))
	}
	authed := func(r *http.Request) bool {
		return !revoked && r.Header.Get("Authorization") == "Bearer "+tok
	}

	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in["email"] != "root@x.com" || in["password"] != "secret-pass" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"code":"INVALID_CREDENTIALS","message":"invalid email or password"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": tok, "token_type": "Bearer", "expires_at": time.Now().Add(time.Hour),
		})
	})
	mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+tok {
			unauthorized(w)
			return
		}
		revoked = true
		_, _ = w.Write([]byte(`{"message":"logged out"}`))
	})
	mux.HandleFunc("GET /user/currentUser", func(w http.ResponseWriter, r *http.Request) {
		if !authed(r) {
			unauthorized(w)
			return
		}
		_, _ = w.Write([]byte(`{"id":"11111111-1111-1111-1111-111111111111","email":"root@x.com","role":"ADMIN"}`))
	})
	mux.HandleFunc("POST /user", func(w http.ResponseWriter, r *http.Request) {
		if !authed(r) {
			unauthorized(w)
			return
		}
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in["role"] != "USER" {
			t.Errorf("role not forwarded: %v", in)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"22222222-2222-2222-2222-222222222222","email":"` + in["email"] + `","role":"USER"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestCLI(password string) (*cli, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	c := &cli{stdin: strings.NewReader(""), stdout: &out, stderr: &errOut}
	c.readPassword = func(string) (string, error) { return password, nil }
	return c, &out, &errOut
}

func Test_LoginWhoamiRegisterLogout(t *testing.T) {
	_ = withTmpConfig(t)
	tok := signed(t, time.Now().Add(time.Hour))
	srv := fakeAPI(t, tok)

	c, out, errOut := newTestCLI("secret-pass")
	if code := c.run([]string{"--addr", srv.URL, "login", "--email", "root@x.com"}); code != 0 {
		t.Fatalf("login exit=%d stderr=%s", code, errOut)
	}
	if saved, err := loadToken(); err != nil || saved != tok {
		t.Fatalf("token not saved: %v", err)
	}

	out.Reset()
	if code := c.run([]string{"--addr", srv.URL, "whoami"}); code != 0 {
		t.Fatalf("whoami exit=%d stderr=%s", code, errOut)
	}
	if !strings.Contains(out.String(), "root@x.com\tADMIN") {
		t.Fatalf("whoami output: %q", out)
	}

	out.Reset()
	if code := c.run([]string{"--addr", srv.URL, "register", "--email", "new@x.com", "--password", "long-password", "--role", "user"}); code != 0 {
		t.Fatalf("register exit=%d stderr=%s", code, errOut)
	}
	if !strings.Contains(out.String(), "22222222-2222-2222-2222-222222222222") {
		t.Fatalf("register output: %q", out)
	}

	if code := c.run([]string{"--addr", srv.URL, "logout"}); code != 0 {
		t.Fatalf("logout exit=%d stderr=%s", code, errOut)
	}
	if _, err := os.Stat(tokenPath()); !os.IsNotExist(err) {
		t.Fatalf("token file should be removed, stat err=%v", err)
	}

	errOut.Reset()
	if code := c.run([]string{"--addr", srv.URL, "whoami"}); code != 1 {
		t.Fatalf("whoami after logout exit=%d", code)
	}
}

func Test_LoginFailureReportsServerError(t *testing.T) {
	_ = withTmpConfig(t)
	srv := fakeAPI(t, signed(t, time.Now().Add(time.Hour)))

	c, _, errOut := newTestCLI("wrong")
	if code := c.run([]string{"--addr", srv.URL, "login", "--email", "root@x.com"}); code != 1 {
		t.Fatalf("want exit 1, got %d", code)
	}
	if !strings.Contains(errOut.String(), "INVALID_CREDENTIALS") {
		t.Fatalf("stderr: %q", errOut)
	}
	if _, err := os.Stat(tokenPath()); !os.IsNotExist(err) {
		t.Fatalf("no token must be stored on failure")
	}
}

func Test_UsageAndVersion(t *testing.T) {
	t.Parallel()

	c, out, _ := newTestCLI("")
	if code := c.run(nil); code != 2 {
		t.Fatalf("no args exit=%d", code)
	}
	if code := c.run([]string{"bogus"}); code != 2 {
		t.Fatalf("unknown cmd exit=%d", code)
	}
	if code := c.run([]string{"version"}); code != 0 || !strings.HasPrefix(out.String(), "tvk ") {
		t.Fatalf("version: %d %q", code, out)
	}
	if code := c.run([]string{"login"}); code != 1 {
		t.Fatalf("login without email exit=%d", code)
	}
}

func Test_promptPassword_NonTerminal(t *testing.T) {
	t.Parallel()

	c := &cli{stdin: strings.NewReader("hunter22\nignored\n"), stderr: &bytes.Buffer{}}
	pw, err := c.promptPassword("Password: ")
	if err != nil || pw != "hunter22" {
		t.Fatalf("promptPassword = %q, %v", pw, err)
	}
}
