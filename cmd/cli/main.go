// Command safefolder is a CLI client for the Safe Folder service.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/and161185/safe-folder/internal/client"
	"github.com/and161185/safe-folder/internal/model"
	"github.com/fatih/color"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// ---- session store ----

type session struct {
	Email        string    `json:"email,omitempty"`
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func (s *session) setTokens(t model.Tokens) {
	s.AccessToken, s.RefreshToken, s.ExpiresAt = t.AccessToken, t.RefreshToken, t.ExpiresAt
}

// expired reports whether the access token is unusable within skew.
func (s *session) expired(now time.Time, skew time.Duration) bool {
	return s.AccessToken == "" || now.Add(skew).After(s.ExpiresAt)
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "safefolder")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "safefolder")
}

func sessionPath() string { return filepath.Join(cfgDir(), "session.json") }

func saveSession(s session) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(sessionPath(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// loadSession returns an empty session when none was saved yet.
func loadSession() (session, error) {
	var s session
	b, err := os.ReadFile(sessionPath())
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(b, &s); err != nil {
		return s, fmt.Errorf("corrupt session file %s: %w", sessionPath(), err)
	}
	return s, nil
}

func clearSession() error {
	if err := os.Remove(sessionPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// ---- grpc dial ----

type bearerCreds struct {
	token  string
	secure bool
}

func (b bearerCreds) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + b.token}, nil
}
func (b bearerCreds) RequireTransportSecurity() bool { return b.secure }

func loadTLS(caPath string, skipVerify bool) (credentials.TransportCredentials, error) {
	if skipVerify {
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil
	}
	if caPath == "" {
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

// app holds the global flags shared by every command.
type app struct {
	addr       string
	caPath     string
	skipVerify bool
	plaintext  bool
}

func (a *app) connect(bearer string) (*grpc.ClientConn, *client.Client, error) {
	var creds credentials.TransportCredentials
	if a.plaintext {
		creds = insecure.NewCredentials()
	} else {
		var err error
		if creds, err = loadTLS(a.caPath, a.skipVerify); err != nil {
			return nil, nil, err
		}
	}
	opts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if bearer != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(bearerCreds{token: bearer, secure: !a.plaintext}))
	}
	cc, err := grpc.NewClient(a.addr, opts...)
	if err != nil {
		return nil, nil, err
	}
	return cc, client.New(cc), nil
}

// authed connects with the saved access token, rotating it first when it is about to expire.
func (a *app) authed(ctx context.Context) (*grpc.ClientConn, *client.Client, error) {
	s, err := loadSession()
	if err != nil {
		return nil, nil, err
	}
	if s.RefreshToken == "" {
		return nil, nil, errors.New("not logged in (run login, then verify)")
	}
	if s.expired(time.Now(), 30*time.Second) {
		cc, c, err := a.connect("")
		if err != nil {
			return nil, nil, err
		}
		t, err := c.Refresh(ctx, s.RefreshToken)
		_ = cc.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("session expired, log in again: %w", err)
		}
		s.setTokens(t)
		if err := saveSession(s); err != nil {
			return nil, nil, err
		}
	}
	return a.connect(s.AccessToken)
}

// ---- output ----

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func ok(format string, args ...any) {
	fmt.Println(color.GreenString("✓") + " " + fmt.Sprintf(format, args...))
}

func warn(format string, args ...any) {
	fmt.Fprintln(os.Stderr, color.YellowString("!")+" "+fmt.Sprintf(format, args...))
}

func fail(err error) {
	if s, isStatus := status.FromError(err); isStatus {
		fmt.Fprintf(os.Stderr, "%s rpc error: code=%s msg=%s\n", color.RedString("✗"), s.Code(), s.Message())
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, color.RedString("✗")+" "+err.Error())
	os.Exit(1)
}

func usage() {
	fmt.Fprintf(os.Stderr, `safefolder CLI
Usage:
  safefolder [-addr HOST:PORT] [-cacert file | -insecure | -plaintext] <cmd> [args]

Commands:
  version
  register      -email <email> -u <username> [-p <password>]
  confirm       -email <email> -code <code>          (prints backup codes)
  login         -u <username> [-p <password>]        (emails a code)
  verify        -code <code> [-email <email>]        (saves tokens)
  backup-login  -code <backup code> [-email <email>] (saves tokens)
  refresh
  logout
  backup-codes                                       (replaces unused backup codes)
  upload        -file <path|-> [-name <name>] [-mime <type>]
  download      -id <file id> [-o <path|->]
  ls            [-search s] [-mime s] [-from RFC3339] [-to RFC3339] [-sort field] [-order asc|desc] [-offset n] [-limit n] [-json]
  rm            -id <file id>

Without -p the password is prompted for.
`)
	os.Exit(2)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

var commands = map[string]func(context.Context, *app, []string) error{
	"register":     cmdRegister,
	"confirm":      cmdConfirm,
	"login":        cmdLogin,
	"verify":       cmdVerify,
	"backup-login": cmdBackupLogin,
	"refresh":      cmdRefresh,
	"logout":       cmdLogout,
	"backup-codes": cmdBackupCodes,
	"upload":       cmdUpload,
	"download":     cmdDownload,
	"ls":           cmdList,
	"rm":           cmdRemove,
}

// main dispatches subcommands and configures TLS for RPC calls.
func main() {
	a := &app{}
	flag.StringVar(&a.addr, "addr", "localhost:8443", "server addr")
	flag.StringVar(&a.caPath, "cacert", "", "CA cert (PEM)")
	flag.BoolVar(&a.skipVerify, "insecure", false, "skip cert verify (dev)")
	flag.BoolVar(&a.plaintext, "plaintext", false, "connect without TLS (dev)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	name := flag.Arg(0)
	if name == "version" {
		fmt.Printf("safefolder %s (%s)\n", version, buildDate)
		return
	}
	cmd, found := commands[name]
	if !found {
		usage()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := cmd(ctx, a, flag.Args()[1:]); err != nil {
		fail(err)
	}
}
