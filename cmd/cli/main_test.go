package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/and161185/safe-folder/internal/model"
	"github.com/and161185/safe-folder/internal/repository/memory"
)

func withTmpConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	return filepath.Join(dir, "safefolder")
}

func Test_cfgDir_And_Paths(t *testing.T) {
	base := withTmpConfig(t)
	if got := cfgDir(); got != base {
		t.Fatalf("cfgDir=%q, want %q", got, base)
	}
	if !strings.HasPrefix(sessionPath(), base) || !strings.HasSuffix(sessionPath(), "session.json") {
		t.Fatalf("sessionPath unexpected: %s", sessionPath())
	}
}

func Test_session_SaveLoadClear(t *testing.T) {
	_ = withTmpConfig(t)

	s, err := loadSession()
	if err != nil || s != (session{}) {
		t.Fatalf("missing file must give empty session: %+v %v", s, err)
	}

	exp := time.Now().Add(time.Minute).UTC().Truncate(time.Second)
	s = session{Email: "a@x.com"}
	s.setTokens(model.Tokens{AccessToken: "acc", RefreshToken: "ref", ExpiresAt: exp})
	if err := saveSession(s); err != nil {
		t.Fatalf("saveSession: %v", err)
	}
	info, err := os.Stat(sessionPath())
	if err != nil || info.Mode().Perm() != 0o600 {
		t.Fatalf("session file must be private: %v %v", info, err)
	}

	got, err := loadSession()
	if err != nil || got.AccessToken != "acc" || got.RefreshToken != "ref" || got.Email != "a@x.com" || !got.ExpiresAt.Equal(exp) {
		t.Fatalf("loadSession: %+v %v", got, err)
	}

	if err := clearSession(); err != nil {
		t.Fatalf("clearSession: %v", err)
	}
	if err := clearSession(); err != nil {
		t.Fatalf("clearSession twice: %v", err)
	}

	_ = os.MkdirAll(cfgDir(), 0o700)
	_ = os.WriteFile(sessionPath(), []byte("{"), 0o600)
	if _, err := loadSession(); err == nil {
		t.Fatalf("corrupt file must error")
	}
}

func Test_session_Expired(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s := session{AccessToken: "a", ExpiresAt: now.Add(time.Minute)}
	if s.expired(now, 30*time.Second) {
		t.Fatalf("token valid for a minute is not expired")
	}
	if !s.expired(now, 2*time.Minute) {
		t.Fatalf("skew must count")
	}
	if !(&session{ExpiresAt: now.Add(time.Hour)}).expired(now, 0) {
		t.Fatalf("missing token is expired")
	}
}

func Test_passwordOrPrompt(t *testing.T) {
	old := readPassword
	t.Cleanup(func() { readPassword = old })

	if p, err := passwordOrPrompt("flag", nil, 0, true); err != nil || p != "flag" {
		t.Fatalf("flag value: %q %v", p, err)
	}

	readPassword = func(int) ([]byte, error) { return []byte("typed"), nil }
	if p, err := passwordOrPrompt("", nil, 0, true); err != nil || p != "typed" {
		t.Fatalf("tty: %q %v", p, err)
	}
	readPassword = func(int) ([]byte, error) { return nil, errors.New("no tty") }
	if _, err := passwordOrPrompt("", nil, 0, true); err == nil {
		t.Fatalf("tty error must propagate")
	}

	if p, err := passwordOrPrompt("", strings.NewReader("piped\r\nrest"), 0, false); err != nil || p != "piped" {
		t.Fatalf("stdin line: %q %v", p, err)
	}
	if p, err := passwordOrPrompt("", strings.NewReader("no-newline"), 0, false); err != nil || p != "no-newline" {
		t.Fatalf("stdin without newline: %q %v", p, err)
	}
	if _, err := passwordOrPrompt("", strings.NewReader(""), 0, false); err == nil {
		t.Fatalf("empty stdin must error")
	}
}

func Test_parse_Required(t *testing.T) {
	t.Parallel()

	fs := flag.NewFlagSet("download", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Int64("id", 0, "")
	fs.String("o", "", "")
	err := parse(fs, []string{"-o", "x"}, "id")
	if err == nil || !strings.Contains(err.Error(), "-id") {
		t.Fatalf("want missing -id, got %v", err)
	}

	fs = flag.NewFlagSet("download", flag.ContinueOnError)
	fs.Int64("id", 0, "")
	if err := parse(fs, []string{"-id", "3"}, "id"); err != nil {
		t.Fatalf("parse: %v", err)
	}
}

func Test_emailOrSaved(t *testing.T) {
	_ = withTmpConfig(t)

	if _, err := emailOrSaved(""); err == nil {
		t.Fatalf("no login in progress must error")
	}
	_ = saveSession(session{Email: "a@x.com"})
	if e, err := emailOrSaved(""); err != nil || e != "a@x.com" {
		t.Fatalf("saved email: %q %v", e, err)
	}
	if e, _ := emailOrSaved("b@x.com"); e != "b@x.com" {
		t.Fatalf("flag must win, got %q", e)
	}
}

func Test_uploadName_And_downloadTarget(t *testing.T) {
	t.Parallel()

	if got := uploadName("/tmp/dir/report.pdf", ""); got != "report.pdf" {
		t.Fatalf("uploadName: %q", got)
	}
	if got := uploadName("-", ""); got != "" {
		t.Fatalf("stdin needs -name, got %q", got)
	}
	if got := uploadName("-", "x.txt"); got != "x.txt" {
		t.Fatalf("explicit name: %q", got)
	}

	for in, want := range map[string]string{
		"report.pdf":       "report.pdf",
		"../../etc/passwd": "passwd",
		`..\..\evil.exe`:   "evil.exe",
		"..":               "file-7",
		"":                 "file-7",
	} {
		if got := downloadTarget("", in, 7); got != want {
			t.Fatalf("downloadTarget(%q)=%q, want %q", in, got, want)
		}
	}
	if got := downloadTarget("out.bin", "report.pdf", 7); got != "out.bin" {
		t.Fatalf("-o must win, got %q", got)
	}
}

func Test_buildQuery(t *testing.T) {
	t.Parallel()

	q, err := buildQuery("rep", "pdf", "2024-01-01", "2024-02-01T00:00:00Z", "size_bytes", "asc", 5, 10)
	if err != nil {
		t.Fatalf("buildQuery: %v", err)
	}
	if q.SortBy != model.SortBySize || !q.Asc || q.Offset != 5 || q.Limit != 10 || q.From == nil || q.To == nil {
		t.Fatalf("query: %+v", q)
	}
	if q.From.Year() != 2024 || q.To.Month() != time.February {
		t.Fatalf("dates: %v %v", q.From, q.To)
	}

	for _, bad := range [][2]string{{"size", "asc"}, {"", "up"}} {
		if _, err := buildQuery("", "", "", "", bad[0], bad[1], 0, 0); err == nil {
			t.Fatalf("want error for sort=%q order=%q", bad[0], bad[1])
		}
	}
	if _, err := buildQuery("", "", "yesterday", "", "", "", 0, 0); err == nil {
		t.Fatalf("bad date must error")
	}
}

func Test_buildQuery_DateOnlyToKeepsWholeDay(t *testing.T) {
	t.Parallel()

	q, err := buildQuery("", "", "2026-10-18", "2026-10-18", "", "", 0, 0)
	if err != nil {
		t.Fatalf("buildQuery: %v", err)
	}
	if !q.From.Equal(time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("from: %v", q.From)
	}

	ctx := context.Background()
	files := memory.New().Files()
	for _, at := range []time.Time{
		time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC),
		time.Date(2026, 10, 18, 23, 59, 59, 0, time.UTC),
		time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC),
	} {
		f := &model.FileRecord{UserID: 1, OriginalName: "a.txt", StorageKey: at.String(), UploadedAt: at}
		if err := files.Create(ctx, f); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	page, err := files.List(ctx, 1, q)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 2 {
		t.Fatalf("files uploaded on the -to day: got %d, want 2 (to=%v)", page.Total, q.To)
	}
}

func Test_printPage(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printPage(&buf, model.FilePage{Total: 3, Files: []model.FileRecord{
		{ID: 1, OriginalName: "a.txt", MimeType: "text/plain", SizeBytes: 20, UploadedAt: time.Now()},
	}})
	out := buf.String()
	if !strings.Contains(out, "a.txt") || !strings.Contains(out, "1 of 3") {
		t.Fatalf("table: %s", out)
	}
}

func Test_printJSON_WritesPretty(t *testing.T) {
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w
	defer func() { os.Stdout = old }()

	printJSON(map[string]any{"a": 1})
	_ = w.Close()
	out, _ := io.ReadAll(r)

	var m map[string]any
	if json.Unmarshal(out, &m) != nil || m["a"] != float64(1) {
		t.Fatalf("printJSON produced invalid json: %s", string(out))
	}
	if !bytes.Contains(out, []byte("\n")) {
		t.Fatalf("printJSON should indent")
	}
}

func Test_bearerCreds_Metadata(t *testing.T) {
	t.Parallel()

	b := bearerCreds{token: "T", secure: true}
	md, err := b.GetRequestMetadata(context.Background())
	if err != nil {
		t.Fatalf("GetRequestMetadata: %v", err)
	}
	if md["authorization"] != "Bearer T" {
		t.Fatalf("auth header mismatch: %v", md)
	}
	if !b.RequireTransportSecurity() {
		t.Fatalf("bearerCreds must require TLS unless plaintext was chosen")
	}
	if (bearerCreds{token: "T"}).RequireTransportSecurity() {
		t.Fatalf("plaintext mode must not require TLS")
	}
}

func Test_loadTLS_Variants(t *testing.T) {
	t.Parallel()

	creds, err := loadTLS("", true)
	if err != nil || creds == nil {
		t.Fatalf("insecure: %v %v", creds, err)
	}

	creds, err = loadTLS("", false)
	if err != nil || creds == nil {
		t.Fatalf("default tls: %v %v", creds, err)
	}

	tmp := filepath.Join(t.TempDir(), "bad.pem")
	_ = os.WriteFile(tmp, []byte("not pem"), 0o600)
	creds, err = loadTLS(tmp, false)
	if err == nil || creds != nil {
		t.Fatalf("bad CA should error, got creds=%v err=%v", creds, err)
	}
}

func Test_app_authed_NeedsLogin(t *testing.T) {
	_ = withTmpConfig(t)

	a := &app{addr: "localhost:1", plaintext: true}
	if _, _, err := a.authed(context.Background()); err == nil || !strings.Contains(err.Error(), "not logged in") {
		t.Fatalf("want not logged in, got %v", err)
	}
}
