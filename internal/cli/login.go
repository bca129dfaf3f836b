package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/tillsync/internal/authcache"
	"github.com/dmitrijs2005/tillsync/internal/common"
	"github.com/dmitrijs2005/tillsync/internal/shared"
)

// authcacheGeneratePIN is a test seam.
var authcacheGeneratePIN = authcache.GeneratePIN

// Login authenticates against the server when it is reachable and falls
// back to the offline credential cache when it is not. A successful online
// login refreshes the cached credential so the next offline period works.
func (a *App) Login(ctx context.Context) {
	identity, err := GetSimpleText(a.reader, "Enter cashier ID", a.out)
	if err != nil {
		fmt.Fprintf(a.out, "error: %v\n", err)
		return
	}

	secret, err := GetSecret("Enter PIN", a.out)
	if err != nil {
		fmt.Fprintf(a.out, "error: %v\n", err)
		return
	}
	defer shared.WipeByteArray(secret)

	res, err := a.api.Login(ctx, identity, string(secret))
	if err == nil {
		if cerr := a.auth.CacheCredential(ctx, identity, secret, res.ExpiresAt); cerr != nil {
			fmt.Fprintf(a.out, "warning: offline credential not cached: %v\n", cerr)
		}
		a.setIdentity(identity)
		a.setMode(ctx, ModeOnline)
		fmt.Fprintln(a.out, "Login successful")
		a.orch.RequestSync()
		return
	}

	if !errors.Is(err, common.ErrServerUnreachable) {
		fmt.Fprintf(a.out, "Login failed: %v\n", err)
		return
	}

	fmt.Fprintln(a.out, "Server unreachable, trying offline login...")
	switch oerr := a.auth.ValidateOffline(ctx, identity, secret); {
	case oerr == nil:
		a.setIdentity(identity)
		a.setMode(ctx, ModeOffline)
		fmt.Fprintln(a.out, "Offline login successful")
	case errors.Is(oerr, common.ErrRateLimited):
		fmt.Fprintln(a.out, "Too many attempts, wait a minute and try again")
	case errors.Is(oerr, common.ErrExpiredCache):
		fmt.Fprintln(a.out, "Offline credentials expired, reconnect to the server to log in")
		a.setMode(ctx, ModeDisabled)
	default:
		fmt.Fprintf(a.out, "Offline login failed: %v\n", oerr)
	}
}

// Logout forgets the active identity. The cached offline credential is kept
// so the next login still works without the server.
func (a *App) Logout(ctx context.Context) {
	a.setIdentity("")
	a.setMode(ctx, ModeDisabled)
	fmt.Fprintln(a.out, "Logged out")
}

// GeneratePin produces a fresh random PIN for enrolling a new cashier.
func (a *App) GeneratePin(ctx context.Context) {
	pin, err := authcacheGeneratePIN()
	if err != nil {
		fmt.Fprintf(a.out, "error: %v\n", err)
		return
	}
	fmt.Fprintf(a.out, "Generated PIN: %s\n", pin)
}
