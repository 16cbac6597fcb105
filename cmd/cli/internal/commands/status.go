package commands

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/electra-analytics/electra/internal/credentials"
	"github.com/electra-analytics/electra/internal/session"
)

// StatusCmd restores the persisted session and prints who it belongs to.
type StatusCmd struct {
	SessionFlags `embed:""`
}

func (c *StatusCmd) Run(ctx context.Context, globals *Globals) error {
	rt, err := c.open(ctx, globals)
	if err != nil {
		return err
	}
	defer rt.Close()

	state, err := rt.manager.Restore(ctx)
	if state != session.Authenticated {
		if err != nil {
			fmt.Fprintf(stdout, "Not logged in (%v)\n", err)
			return nil
		}
		fmt.Fprintln(stdout, "Not logged in")
		return nil
	}

	user, err := rt.manager.User()
	if err != nil {
		return err
	}

	tok, err := rt.store.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to read token: %w", err)
	}

	expires := "unknown"
	if !tok.Expiry.IsZero() {
		expires = fmt.Sprintf("%s (in %s)", tok.Expiry.Local().Format(time.RFC3339), time.Until(tok.Expiry).Round(time.Second))
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Server:\t%s\n", rt.config.ServerURL)
	fmt.Fprintf(w, "Profile:\t%s\n", rt.profile)
	fmt.Fprintf(w, "User:\t%s <%s>\n", user.DisplayName(), user.Email)
	fmt.Fprintf(w, "Role:\t%s\n", user.Role)
	if tags := user.Tags(); len(tags) > 0 {
		fmt.Fprintf(w, "Tags:\t%v\n", tags)
	}
	fmt.Fprintf(w, "Token:\t%s\n", credentials.Fingerprint(tok.AccessToken))
	fmt.Fprintf(w, "Expires:\t%s\n", expires)
	return w.Flush()
}
