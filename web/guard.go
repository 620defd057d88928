// Package web exposes the auth state machine over a fiber app: route
// guards, the login and register forms, and the persisted theme.
//
// The controller serves a single process wide AuthState. Every request sees
// and changes the same session, so the app is a one user local portal and
// must not be exposed as a shared, multi user service.
package web

import (
	"net/url"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-authstate"
)

const (
	// RejectedRouteKey is the cookie keeping the location a guard rejected
	RejectedRouteKey = "from"
	// LoadingMessage is rendered while the initial session is resolved
	LoadingMessage = "Verificando sesión…"

	stateLocalsKey = "auth_state"
)

// StateSource yields the current auth state. *authstate.Store implements it.
type StateSource interface {
	State() authstate.AuthState
}

// GuardConfig tunes how Guard renders its decisions
type GuardConfig struct {
	// SecureCookies marks the rejected route cookie as Secure
	SecureCookies bool
	// RejectedRouteTTL is the rejected route cookie lifetime, 5m by default
	RejectedRouteTTL time.Duration
}

// Guard renders the decision of guard for the request path. Only
// authorized requests reach the next handler, which finds the evaluated
// state with StateFrom.
func Guard(source StateSource, guard authstate.Guard, cfgs ...GuardConfig) fiber.Handler {
	cfg := GuardConfig{SecureCookies: true, RejectedRouteTTL: 5 * time.Minute}
	if len(cfgs) > 0 {
		cfg = cfgs[0]
		if cfg.RejectedRouteTTL <= 0 {
			cfg.RejectedRouteTTL = 5 * time.Minute
		}
	}

	return func(c *fiber.Ctx) error {
		state := source.State()
		location := c.OriginalURL()
		decision := guard.Evaluate(state, location)

		switch decision.Phase {
		case authstate.PhaseAuthorized:
			c.Locals(stateLocalsKey, state)
			return c.Next()

		case authstate.PhaseUninitialized:
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status":  "loading",
				"message": LoadingMessage,
			})

		case authstate.PhaseAwaitingProfile:
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "loading_profile",
			})

		case authstate.PhaseUnauthenticated:
			c.Cookie(&fiber.Cookie{
				Name:     RejectedRouteKey,
				Value:    decision.From,
				Expires:  time.Now().Add(cfg.RejectedRouteTTL),
				HTTPOnly: true,
				Secure:   cfg.SecureCookies,
				SameSite: fiber.CookieSameSiteLaxMode,
			})
			target := decision.RedirectTo + "?" + url.Values{"from": {decision.From}}.Encode()
			return c.Redirect(target, fiber.StatusFound)

		case authstate.PhaseUnauthorized:
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"status":  "unauthorized",
				"message": "No tienes permisos para acceder a esta página",
				"role":    decision.Role,
				"home":    decision.Home,
			})
		}

		return fiber.ErrInternalServerError
	}
}

// StateFrom returns the state a Guard authorized the request with
func StateFrom(c *fiber.Ctx) (authstate.AuthState, bool) {
	state, ok := c.Locals(stateLocalsKey).(authstate.AuthState)
	return state, ok
}
