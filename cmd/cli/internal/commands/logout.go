package commands

import (
	"context"
	"fmt"
)

// LogoutCmd ends the session locally and revokes the refresh cookie on the backend.
type LogoutCmd struct {
	SessionFlags `embed:""`
}

func (c *LogoutCmd) Run(ctx context.Context, globals *Globals) error {
	rt, err := c.open(ctx, globals)
	if err != nil {
		return err
	}
	defer rt.Close()

	rt.manager.Logout(ctx)
	if rt.cache != nil {
		rt.cache.Purge()
	}

	fmt.Fprintln(stdout, "Logged out")
	return nil
}
