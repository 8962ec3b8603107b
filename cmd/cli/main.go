// Command tvk is a command-line client for the tvkeeper auth API.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const usageText = `tvk CLI
Usage:
  tvk [--addr URL] <cmd> [args]

Commands:
  version
  login     --email <email> [--password <pw>]      (saves token)
  logout                                           (revokes and forgets token)
  whoami
  register  --email <email> [--password <pw>] [--role ADMIN|USER]   (admin only)
`

type cli struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	// readPassword prompts without echo when stdin is a terminal.
	readPassword func(prompt string) (string, error)
}

func main() {
	c := &cli{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}
	c.readPassword = c.promptPassword
	os.Exit(c.run(os.Args[1:]))
}

// run dispatches subcommands and returns the process exit code.
func (c *cli) run(args []string) int {
	global := pflag.NewFlagSet("tvk", pflag.ContinueOnError)
	global.SetOutput(c.stderr)
	global.SetInterspersed(false)
	addr := global.String("addr", envOr("TVK_ADDR", "http://localhost:4000"), "server base URL")
	global.Usage = func() { fmt.Fprint(c.stderr, usageText) }
	if err := global.Parse(args); err != nil {
		return 2
	}
	if global.NArg() < 1 {
		global.Usage()
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	api := newClient(*addr)
	cmd, rest := global.Arg(0), global.Args()[1:]

	var err error
	switch cmd {
	case "version":
		fmt.Fprintf(c.stdout, "tvk %s (%s)\n", version, buildDate)
	case "login":
		err = c.login(ctx, api, rest)
	case "logout":
		err = c.logout(ctx, api)
	case "whoami":
		err = c.whoami(ctx, api)
	case "register":
		err = c.register(ctx, api, rest)
	default:
		global.Usage()
		return 2
	}
	if err != nil {
		fmt.Fprintln(c.stderr, "error:", err)
		return 1
	}
	return 0
}

func (c *cli) login(ctx context.Context, api *client, args []string) error {
	fs := pflag.NewFlagSet("login", pflag.ContinueOnError)
	fs.SetOutput(c.stderr)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "password (prompted when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return errors.New("need --email")
	}
	pw, err := c.passwordOr(*password)
	if err != nil {
		return err
	}

	resp, err := api.login(ctx, *email, pw)
	if err != nil {
		return err
	}
	exp, ok := tokenExpiry(resp.AccessToken)
	if !ok {
		exp = resp.ExpiresAt
	}
	if err := saveToken(resp.AccessToken, exp); err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "ok (expires %s)\n", exp.Local().Format(time.RFC3339))
	return nil
}

func (c *cli) logout(ctx context.Context, api *client) error {
	tok, err := loadToken()
	if err != nil {
		// nothing usable locally; just clean up
		return removeToken()
	}
	if err := api.logout(ctx, tok); err != nil {
		var ae *apiError
		if !errors.As(err, &ae) || ae.Status != 401 {
			return err
		}
	}
	if err := removeToken(); err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, "logged out")
	return nil
}

func (c *cli) whoami(ctx context.Context, api *client) error {
	tok, err := loadToken()
	if err != nil {
		return err
	}
	u, err := api.whoami(ctx, tok)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "%s\t%s\t%s\n", u.Email, u.Role, u.ID)
	return nil
}

func (c *cli) register(ctx context.Context, api *client, args []string) error {
	fs := pflag.NewFlagSet("register", pflag.ContinueOnError)
	fs.SetOutput(c.stderr)
	email := fs.String("email", "", "new account email")
	password := fs.String("password", "", "password (prompted when empty)")
	role := fs.String("role", "", "ADMIN or USER (default USER)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return errors.New("need --email")
	}
	tok, err := loadToken()
	if err != nil {
		return err
	}
	pw, err := c.passwordOr(*password)
	if err != nil {
		return err
	}
	u, err := api.register(ctx, tok, *email, pw, strings.ToUpper(*role))
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, u.ID)
	return nil
}

func (c *cli) passwordOr(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	pw, err := c.readPassword("Password: ")
	if err != nil {
		return "", err
	}
	if pw == "" {
		return "", errors.New("empty password")
	}
	return pw, nil
}

// promptPassword reads without echo from a terminal, or a single line otherwise.
func (c *cli) promptPassword(prompt string) (string, error) {
	if f, ok := c.stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(c.stderr, prompt)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(c.stderr)
		return string(b), err
	}
	line, err := bufio.NewReader(c.stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
