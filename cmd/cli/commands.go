package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/and161185/safe-folder/internal/client"
	"github.com/and161185/safe-folder/internal/model"
	"github.com/fatih/color"
	"golang.org/x/term"
)

// readPassword is replaced in tests.
var readPassword = term.ReadPassword

// passwordOrPrompt returns p, or asks for it on the terminal. Piped stdin is read as one line.
func passwordOrPrompt(p string, in io.Reader, fd int, isTTY bool) (string, error) {
	if p != "" {
		return p, nil
	}
	if isTTY {
		fmt.Fprint(os.Stderr, "Password: ")
		b, err := readPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", errors.New("password required (-p or stdin)")
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func password(p string) (string, error) {
	fd := int(os.Stdin.Fd())
	return passwordOrPrompt(p, os.Stdin, fd, term.IsTerminal(fd))
}

func parse(fs *flag.FlagSet, args []string, required ...string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	var missing []string
	for _, name := range required {
		if f := fs.Lookup(name); f == nil || f.Value.String() == "" || f.Value.String() == "0" {
			missing = append(missing, "-"+name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s: need %s", fs.Name(), strings.Join(missing, ", "))
	}
	return nil
}

// emailOrSaved falls back to the address remembered by the last login.
func emailOrSaved(email string) (string, error) {
	if email != "" {
		return email, nil
	}
	s, err := loadSession()
	if err != nil {
		return "", err
	}
	if s.Email == "" {
		return "", errors.New("need -email (no login in progress)")
	}
	return s.Email, nil
}

// ---- account ----

func cmdRegister(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	email := fs.String("email", "", "email address")
	u := fs.String("u", "", "username")
	p := fs.String("p", "", "password")
	if err := parse(fs, args, "email", "u"); err != nil {
		return err
	}
	pw, err := password(*p)
	if err != nil {
		return err
	}

	cc, c, err := a.connect("")
	if err != nil {
		return err
	}
	defer cc.Close()

	msg, err := c.InitiateRegistration(ctx, *email, *u, pw)
	if err != nil {
		return err
	}
	ok("%s", msg)
	fmt.Println(color.CyanString("→") + " Run " + color.YellowString("safefolder confirm -email "+*email+" -code <code>"))
	return nil
}

func cmdConfirm(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("confirm", flag.ContinueOnError)
	email := fs.String("email", "", "email address")
	code := fs.String("code", "", "code from the email")
	if err := parse(fs, args, "email", "code"); err != nil {
		return err
	}

	cc, c, err := a.connect("")
	if err != nil {
		return err
	}
	defer cc.Close()

	u, backup, err := c.ConfirmRegistration(ctx, *email, *code)
	if err != nil {
		return err
	}
	ok("account %s (id %d) created", u.Username, u.ID)
	printBackupCodes(backup)
	return nil
}

func printBackupCodes(codes []string) {
	warn("backup codes are shown once; each signs you in one time if email is unavailable")
	for _, c := range codes {
		fmt.Println("  " + c)
	}
}

func cmdLogin(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	u := fs.String("u", "", "username")
	p := fs.String("p", "", "password")
	if err := parse(fs, args, "u"); err != nil {
		return err
	}
	pw, err := password(*p)
	if err != nil {
		return err
	}

	cc, c, err := a.connect("")
	if err != nil {
		return err
	}
	defer cc.Close()

	email, msg, err := c.RequestLoginCode(ctx, *u, pw)
	if err != nil {
		return err
	}
	if err := saveSession(session{Email: email}); err != nil {
		return err
	}
	ok("%s", msg)
	fmt.Println(color.CyanString("→") + " Run " + color.YellowString("safefolder verify -code <code>"))
	return nil
}

func secondFactor(ctx context.Context, a *app, name, codeHelp string, args []string,
	call func(c *client.Client, email, code string) (model.Tokens, error)) error {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	email := fs.String("email", "", "email address (defaults to the one from login)")
	code := fs.String("code", "", codeHelp)
	if err := parse(fs, args, "code"); err != nil {
		return err
	}
	addr, err := emailOrSaved(*email)
	if err != nil {
		return err
	}

	cc, c, err := a.connect("")
	if err != nil {
		return err
	}
	defer cc.Close()

	t, err := call(c, addr, *code)
	if err != nil {
		return err
	}
	s := session{Email: addr}
	s.setTokens(t)
	if err := saveSession(s); err != nil {
		return err
	}
	ok("logged in, session saved to %s", sessionPath())
	return nil
}

func cmdVerify(ctx context.Context, a *app, args []string) error {
	return secondFactor(ctx, a, "verify", "code from the email", args, func(c *client.Client, email, code string) (model.Tokens, error) {
		return c.VerifyLoginCode(ctx, email, code)
	})
}

func cmdBackupLogin(ctx context.Context, a *app, args []string) error {
	return secondFactor(ctx, a, "backup-login", "backup code", args, func(c *client.Client, email, code string) (model.Tokens, error) {
		return c.VerifyBackupCode(ctx, email, code)
	})
}

func cmdRefresh(ctx context.Context, a *app, _ []string) error {
	s, err := loadSession()
	if err != nil {
		return err
	}
	if s.RefreshToken == "" {
		return errors.New("not logged in")
	}
	cc, c, err := a.connect("")
	if err != nil {
		return err
	}
	defer cc.Close()

	t, err := c.Refresh(ctx, s.RefreshToken)
	if err != nil {
		return err
	}
	s.setTokens(t)
	if err := saveSession(s); err != nil {
		return err
	}
	ok("access token valid until %s", t.ExpiresAt.Local().Format(time.RFC3339))
	return nil
}

func cmdLogout(ctx context.Context, a *app, _ []string) error {
	s, err := loadSession()
	if err != nil {
		return err
	}
	if s.RefreshToken != "" {
		cc, c, err := a.connect("")
		if err != nil {
			return err
		}
		defer cc.Close()
		if err := c.Logout(ctx, s.RefreshToken); err != nil {
			return err
		}
	}
	if err := clearSession(); err != nil {
		return err
	}
	ok("logged out")
	return nil
}

func cmdBackupCodes(ctx context.Context, a *app, _ []string) error {
	cc, c, err := a.authed(ctx)
	if err != nil {
		return err
	}
	defer cc.Close()

	codes, err := c.RegenerateBackupCodes(ctx)
	if err != nil {
		return err
	}
	ok("previous unused backup codes are revoked")
	printBackupCodes(codes)
	return nil
}

// ---- files ----

func cmdUpload(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("upload", flag.ContinueOnError)
	path := fs.String("file", "", "file to upload, - for stdin")
	name := fs.String("name", "", "stored file name (defaults to the base name of -file)")
	mimeType := fs.String("mime", "", "MIME type (defaults to one guessed from the name)")
	if err := parse(fs, args, "file"); err != nil {
		return err
	}

	var src io.Reader = os.Stdin
	if *path != "-" {
		f, err := os.Open(*path)
		if err != nil {
			return err
		}
		defer f.Close()
		src = f
	}
	stored := uploadName(*path, *name)
	if stored == "" {
		return errors.New("upload: need -name when reading stdin")
	}
	if *mimeType == "" {
		*mimeType = mime.TypeByExtension(filepath.Ext(stored))
	}

	cc, c, err := a.authed(ctx)
	if err != nil {
		return err
	}
	defer cc.Close()

	rec, err := c.Upload(ctx, stored, *mimeType, src)
	if err != nil {
		return err
	}
	ok("stored %s as file %d (%s)", rec.OriginalName, rec.ID, rec.Algorithm)
	return nil
}

func uploadName(path, name string) string {
	if name != "" {
		return name
	}
	if path == "-" {
		return ""
	}
	return filepath.Base(path)
}

func cmdDownload(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("download", flag.ContinueOnError)
	id := fs.Int64("id", 0, "file id")
	out := fs.String("o", "", "output path, - for stdout (defaults to the stored name)")
	if err := parse(fs, args, "id"); err != nil {
		return err
	}

	cc, c, err := a.authed(ctx)
	if err != nil {
		return err
	}
	defer cc.Close()

	if *out == "-" {
		_, _, err := c.Download(ctx, *id, os.Stdout)
		return err
	}

	// write next to the target and rename, so a broken transfer leaves no partial file
	dir := "."
	if *out != "" {
		dir = filepath.Dir(*out)
	}
	tmp, err := os.CreateTemp(dir, ".safefolder-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	name, _, err := c.Download(ctx, *id, tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	target := downloadTarget(*out, name, *id)
	if _, err := os.Stat(target); err == nil && *out == "" {
		return fmt.Errorf("%s already exists, choose a path with -o", target)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return err
	}
	ok("saved %s", target)
	return nil
}

// downloadTarget never lets a server-supplied name leave the current directory.
func downloadTarget(out, serverName string, id int64) string {
	if out != "" {
		return out
	}
	name := filepath.Base(filepath.FromSlash(strings.ReplaceAll(serverName, `\`, "/")))
	if name == "" || name == "." || name == ".." || name == string(filepath.Separator) {
		name = fmt.Sprintf("file-%d", id)
	}
	return name
}

func cmdList(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("ls", flag.ContinueOnError)
	search := fs.String("search", "", "substring of name or MIME type")
	mimeType := fs.String("mime", "", "substring of MIME type")
	from := fs.String("from", "", "uploaded at or after (RFC3339 or YYYY-MM-DD)")
	to := fs.String("to", "", "uploaded at or before (RFC3339 or YYYY-MM-DD)")
	sortBy := fs.String("sort", "", "uploaded_at, original_filename, mime_type or size_bytes")
	order := fs.String("order", "desc", "asc or desc")
	offset := fs.Int("offset", 0, "rows to skip")
	limit := fs.Int("limit", model.DefaultPageSize, "rows to return")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := parse(fs, args); err != nil {
		return err
	}

	q, err := buildQuery(*search, *mimeType, *from, *to, *sortBy, *order, *offset, *limit)
	if err != nil {
		return err
	}

	cc, c, err := a.authed(ctx)
	if err != nil {
		return err
	}
	defer cc.Close()

	page, err := c.ListFiles(ctx, q)
	if err != nil {
		return err
	}
	if *asJSON {
		printJSON(page)
		return nil
	}
	printPage(os.Stdout, page)
	return nil
}

func buildQuery(search, mimeType, from, to, sortBy, order string, offset, limit int) (model.FileQuery, error) {
	q := model.FileQuery{Search: search, MimeType: mimeType, Offset: offset, Limit: limit}
	var known bool
	if q.SortBy, known = model.ParseSortField(sortBy); !known {
		return q, fmt.Errorf("unknown sort field %q", sortBy)
	}
	switch order {
	case "asc":
		q.Asc = true
	case "desc", "":
	default:
		return q, fmt.Errorf("order must be asc or desc, got %q", order)
	}
	var err error
	if q.From, err = parseWhen(from, false); err != nil {
		return q, err
	}
	if q.To, err = parseWhen(to, true); err != nil {
		return q, err
	}
	return q, nil
}

// parseWhen reads RFC3339 or a bare date. With endOfDay a bare date means its last instant,
// so an inclusive upper bound keeps the whole day.
func parseWhen(s string, endOfDay bool) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		if endOfDay {
			t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
		}
		return &t, nil
	}
	return nil, fmt.Errorf("bad time %q, use RFC3339 or YYYY-MM-DD", s)
}

func printPage(w io.Writer, page model.FilePage) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tMIME\tSIZE\tUPLOADED")
	for _, f := range page.Files {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", f.ID, f.OriginalName, f.MimeType, f.SizeBytes,
			f.UploadedAt.Local().Format(time.DateTime))
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "%d of %d\n", len(page.Files), page.Total)
}

func cmdRemove(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("rm", flag.ContinueOnError)
	id := fs.Int64("id", 0, "file id")
	if err := parse(fs, args, "id"); err != nil {
		return err
	}

	cc, c, err := a.authed(ctx)
	if err != nil {
		return err
	}
	defer cc.Close()

	if err := c.DeleteFile(ctx, *id); err != nil {
		return err
	}
	ok("file %d deleted", *id)
	return nil
}
