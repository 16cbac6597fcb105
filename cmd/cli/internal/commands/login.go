package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/electra-analytics/electra/internal/api"
)

// LoginCmd signs in and persists the access token and refresh cookie.
type LoginCmd struct {
	SessionFlags `embed:""`

	Username string `arg:"" help:"Account email"`
	Password string `help:"Password, read from stdin when empty" env:"ELECTRA_PASSWORD"`
}

func (c *LoginCmd) Run(ctx context.Context, globals *Globals) error {
	password := c.Password
	if password == "" {
		var err error
		if password, err = readPassword(); err != nil {
			return err
		}
	}

	rt, err := c.open(ctx, globals)
	if err != nil {
		return err
	}
	defer rt.Close()

	user, err := rt.manager.Login(ctx, c.Username, password)
	if err != nil {
		var ve *api.ValidationError
		if errors.As(err, &ve) {
			return fmt.Errorf("login rejected: %s", ve.Message)
		}
		return fmt.Errorf("login failed: %w", err)
	}

	fmt.Fprintf(stdout, "Logged in as %s (%s)\n", user.DisplayName(), user.Role)
	return nil
}

// readPassword prompts on stdout. A terminal gets an unechoed prompt, anything
// else is read up to the first newline.
func readPassword() (string, error) {
	fmt.Fprint(stdout, "Password: ")

	var password string
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(stdout)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		password = string(b)
	} else {
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}

	if password == "" {
		return "", errors.New("password is required")
	}
	return password, nil
}
