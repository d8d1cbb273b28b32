package persistence

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"trade-import-service/pkg/logger"
)

// TokenExpired reports whether token is a JWT whose exp claim is at or before
// now. The signature is not verified; the server remains the authority. Opaque
// tokens and tokens without exp are never considered expired here.
func TokenExpired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !now.Before(exp.Time)
}

// LoginPrompt tells a CLI user where to sign in again after the import
// endpoint rejected their token.
type LoginPrompt struct {
	URL    string
	Out    io.Writer
	logger logger.Logger
}

// NewLoginPrompt creates a prompt writing to out.
func NewLoginPrompt(url string, out io.Writer) *LoginPrompt {
	return &LoginPrompt{
		URL:    url,
		Out:    out,
		logger: logger.GetGlobalLogger().WithComponent("login"),
	}
}

// RedirectToLogin implements the session's login redirector.
func (p *LoginPrompt) RedirectToLogin(_ context.Context, cause error) {
	p.logger.WithError(cause).Info("Redirecting to login")
	if p.URL == "" {
		fmt.Fprintln(p.Out, "Your login has expired. Sign in again and retry the commit.")
		return
	}
	fmt.Fprintf(p.Out, "Your login has expired. Sign in again at %s and retry the commit.\n", p.URL)
}
