package web

import (
	"context"
	"net/http"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/goliatone/go-authstate"
	"github.com/goliatone/go-authstate/middleware/csrf"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
)

const (
	// ThemeCookie persists the theme preference
	ThemeCookie = "theme"

	ThemeLight = "light"
	ThemeDark  = "dark"

	// FallbackBannerMessage is shown while a fallback profile is in use
	FallbackBannerMessage = "No pudimos cargar tu perfil. Estás usando un perfil temporal con permisos limitados."
)

// Actions runs the user initiated auth actions. *authstate.Client implements it.
type Actions interface {
	SignIn(ctx context.Context, creds authstate.Credentials) (*authstate.Session, error)
	SignUp(ctx context.Context, creds authstate.Credentials) (*authstate.Session, error)
	SignOut(ctx context.Context) error
}

type ControllerRoutes struct {
	Login        string
	Logout       string
	Register     string
	Home         string
	Admin        string
	Paciente     string
	Especialista string
	State        string
	Theme        string
	Metrics      string
	CSRF         string
}

// Controller serves the portal routes
type Controller struct {
	Debug         bool
	Logger        authstate.Logger
	Routes        *ControllerRoutes
	SecureCookies bool
	Metrics       http.Handler

	// CSRF protects the form routes when set
	CSRF *csrf.Config

	actions Actions
	source  StateSource
}

type ControllerOption func(*Controller) *Controller

func WithLogger(logger authstate.Logger) ControllerOption {
	return func(c *Controller) *Controller {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

func WithDebug(debug bool) ControllerOption {
	return func(c *Controller) *Controller {
		c.Debug = debug
		return c
	}
}

// WithSecureCookies sets the Secure flag of every cookie the controller writes
func WithSecureCookies(secure bool) ControllerOption {
	return func(c *Controller) *Controller {
		c.SecureCookies = secure
		return c
	}
}

// WithMetricsHandler mounts h on Routes.Metrics
func WithMetricsHandler(h http.Handler) ControllerOption {
	return func(c *Controller) *Controller {
		c.Metrics = h
		return c
	}
}

// WithCSRF requires a CSRF token on the form posts. The token is served on
// the form pages and on Routes.CSRF.
func WithCSRF(cfg csrf.Config) ControllerOption {
	return func(c *Controller) *Controller {
		c.CSRF = &cfg
		return c
	}
}

func NewController(actions Actions, source StateSource, opts ...ControllerOption) *Controller {
	c := &Controller{
		Logger:        authstate.DefaultLogger(),
		SecureCookies: true,
		actions:       actions,
		source:        source,
		Routes: &ControllerRoutes{
			Login:        authstate.LoginRoute,
			Logout:       "/logout",
			Register:     "/register",
			Home:         authstate.HomeRoute,
			Admin:        "/admin",
			Paciente:     "/paciente",
			Especialista: "/especialista",
			State:        "/state",
			Theme:        "/theme",
			Metrics:      "/metrics",
			CSRF:         "/csrf",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.actions == nil {
		panic("Missing Actions in web controller...")
	}
	if c.source == nil {
		panic("Missing StateSource in web controller...")
	}

	return c
}

// Register mounts the portal routes on app
func (c *Controller) Register(app fiber.Router) {
	guardCfg := GuardConfig{SecureCookies: c.SecureCookies}
	session := Guard(c.source, authstate.SessionGuard{}, guardCfg)

	forms := func(h fiber.Handler) []fiber.Handler { return []fiber.Handler{h} }
	if c.CSRF != nil {
		protect := csrf.New(*c.CSRF)
		forms = func(h fiber.Handler) []fiber.Handler { return []fiber.Handler{protect, h} }
		app.Use(c.Routes.CSRF, protect)
		csrf.RegisterRoutes(app, c.Routes.CSRF, *c.CSRF)
	}

	app.Get(c.Routes.Login, forms(c.LoginShow)...)
	app.Post(c.Routes.Login, forms(c.LoginPost)...)
	app.Get(c.Routes.Register, forms(c.RegistrationShow)...)
	app.Post(c.Routes.Register, forms(c.RegistrationCreate)...)
	app.Post(c.Routes.Logout, forms(c.LogOut)...)

	app.Get(c.Routes.Home, session, c.page("home"))
	app.Get(c.Routes.Admin, Guard(c.source, authstate.NewRoleGuard(authstate.RoleAdmin), guardCfg), c.page("admin"))
	app.Get(c.Routes.Paciente, Guard(c.source, authstate.NewRoleGuard(authstate.RolePaciente), guardCfg), c.page("paciente"))
	app.Get(c.Routes.Especialista, Guard(c.source, authstate.NewRoleGuard(authstate.RoleEspecialista), guardCfg), c.page("especialista"))

	app.Get(c.Routes.State, c.StateShow)
	app.Post(c.Routes.Theme, c.ThemeToggle)

	if c.Metrics != nil {
		app.Get(c.Routes.Metrics, adaptor.HTTPHandler(c.Metrics))
	}
}

// LoginShow renders the login form, a signed in user goes straight home
func (c *Controller) LoginShow(ctx *fiber.Ctx) error {
	return c.showForm(ctx, "login")
}

func (c *Controller) RegistrationShow(ctx *fiber.Ctx) error {
	return c.showForm(ctx, "register")
}

func (c *Controller) showForm(ctx *fiber.Ctx, page string) error {
	state := c.source.State()
	if state.Authenticated() {
		return ctx.Redirect(c.Routes.Home, fiber.StatusFound)
	}
	out := fiber.Map{
		"page":    page,
		"from":    c.redirectTarget(ctx, false),
		"loading": state.Loading,
		"error":   state.Error,
	}
	if c.CSRF != nil {
		out["csrf_token"] = csrf.Token(ctx, c.CSRF.ContextKey)
	}
	return ctx.JSON(out)
}

func (c *Controller) LoginPost(ctx *fiber.Ctx) error {
	creds, err := parseCredentials(ctx)
	if err != nil {
		return c.renderError(ctx, "login", err)
	}

	if _, err := c.actions.SignIn(ctx.Context(), creds); err != nil {
		return c.renderError(ctx, "login", err)
	}

	return ctx.Redirect(c.redirectTarget(ctx, true), fiber.StatusSeeOther)
}

// RegistrationCreate signs up and signs in. When the provider requires the
// email to be confirmed first there is no session and 202 is returned.
func (c *Controller) RegistrationCreate(ctx *fiber.Ctx) error {
	creds, err := parseCredentials(ctx)
	if err != nil {
		return c.renderError(ctx, "register", err)
	}

	session, err := c.actions.SignUp(ctx.Context(), creds)
	if err != nil {
		return c.renderError(ctx, "register", err)
	}

	if session == nil {
		return ctx.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"page":   "register",
			"status": "confirmation_required",
		})
	}

	return ctx.Redirect(c.Routes.Home, fiber.StatusSeeOther)
}

// LogOut signs out and returns to the login form. It is only mounted for
// POST so a link or prefetch cannot end the session.
func (c *Controller) LogOut(ctx *fiber.Ctx) error {
	if err := c.actions.SignOut(ctx.Context()); err != nil {
		c.Logger.Error("sign out error: %v", err)
	}
	return ctx.Redirect(c.Routes.Login, fiber.StatusSeeOther)
}

// page renders a protected page for the state the guard authorized
func (c *Controller) page(name string) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		state, ok := StateFrom(ctx)
		if !ok {
			state = c.source.State()
		}

		out := fiber.Map{
			"page":                      name,
			"role":                      state.RoleLabel(),
			"is_admin":                  state.IsAdmin(),
			"is_patient":                state.IsPatient(),
			"is_specialist":             state.IsSpecialist(),
			"is_using_fallback_profile": state.IsUsingFallbackProfile,
		}
		if state.User != nil {
			out["email"] = state.User.Email
		}
		if state.IsUsingFallbackProfile {
			out["banner"] = FallbackBannerMessage
		}
		return ctx.JSON(out)
	}
}

// StateShow exposes the auth state without credentials
func (c *Controller) StateShow(ctx *fiber.Ctx) error {
	state := c.source.State()

	out := fiber.Map{
		"initialized":               state.Initialized,
		"loading":                   state.Loading,
		"authenticated":             state.Authenticated(),
		"role":                      state.Role,
		"role_label":                state.RoleLabel(),
		"error":                     state.Error,
		"is_using_fallback_profile": state.IsUsingFallbackProfile,
		"theme":                     themeOf(ctx),
	}
	if state.User != nil {
		out["user"] = fiber.Map{"id": state.User.ID, "email": state.User.Email}
	}
	if state.IsUsingFallbackProfile {
		out["banner"] = FallbackBannerMessage
	}

	if c.Debug {
		c.Logger.Debug("auth state %s", print.MaybePrettyJSON(out))
	}
	return ctx.JSON(out)
}

// ThemeToggle flips the persisted theme, or sets the one named in the body
func (c *Controller) ThemeToggle(ctx *fiber.Ctx) error {
	var payload struct {
		Theme string `json:"theme" form:"theme"`
	}
	if len(ctx.Body()) > 0 {
		if err := ctx.BodyParser(&payload); err != nil {
			return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid theme payload"})
		}
	}

	theme := payload.Theme
	switch theme {
	case ThemeLight, ThemeDark:
	case "":
		theme = ThemeDark
		if themeOf(ctx) == ThemeDark {
			theme = ThemeLight
		}
	default:
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown theme"})
	}

	ctx.Cookie(&fiber.Cookie{
		Name:     ThemeCookie,
		Value:    theme,
		Expires:  time.Now().Add(365 * 24 * time.Hour),
		Secure:   c.SecureCookies,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return ctx.JSON(fiber.Map{"theme": theme})
}

func themeOf(ctx *fiber.Ctx) string {
	if ctx.Cookies(ThemeCookie) == ThemeDark {
		return ThemeDark
	}
	return ThemeLight
}

// redirectTarget returns the location a guard rejected, from the cookie or
// the query, when it is a local path. consume deletes the cookie.
func (c *Controller) redirectTarget(ctx *fiber.Ctx, consume bool) string {
	target := ctx.Cookies(RejectedRouteKey)
	if target == "" {
		target = ctx.Query("from")
	}
	if consume && ctx.Cookies(RejectedRouteKey) != "" {
		ctx.Cookie(&fiber.Cookie{
			Name:     RejectedRouteKey,
			Value:    "",
			Expires:  time.Now().Add(-time.Hour * (24 * 365)),
			HTTPOnly: true,
			Secure:   c.SecureCookies,
			SameSite: fiber.CookieSameSiteLaxMode,
		})
	}
	if !isLocalPath(target) || strings.HasPrefix(target, c.Routes.Login) {
		return c.Routes.Home
	}
	return target
}

func isLocalPath(p string) bool {
	return strings.HasPrefix(p, "/") && !strings.HasPrefix(p, "//") && !strings.Contains(p, "\\")
}

func parseCredentials(ctx *fiber.Ctx) (authstate.Credentials, error) {
	var creds authstate.Credentials
	if err := ctx.BodyParser(&creds); err != nil {
		return creds, authstate.ErrMissingCredentials
	}
	return creds, nil
}

func (c *Controller) renderError(ctx *fiber.Ctx, page string, err error) error {
	status := fiber.StatusInternalServerError

	var richErr *goerrors.Error
	var fieldErrs validation.Errors
	switch {
	case goerrors.As(err, &richErr) && richErr.Category == goerrors.CategoryOperation:
		status = fiber.StatusBadGateway
	case goerrors.As(err, &richErr) && richErr.Code != 0:
		status = richErr.Code
	case goerrors.As(err, &fieldErrs):
		status = fiber.StatusBadRequest
	}

	c.Logger.Debug("%s failed with status %d: %v", page, status, err)

	out := fiber.Map{
		"page":  page,
		"error": authstate.ErrorMessage(err),
	}
	if len(fieldErrs) > 0 {
		out["fields"] = fieldErrs
	}
	return ctx.Status(status).JSON(out)
}
