package rest

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/totegamma/agrichain/internal/config"
	"github.com/totegamma/agrichain/internal/domain"
	"github.com/totegamma/agrichain/internal/present/rest/middleware"
	"github.com/totegamma/agrichain/internal/present/rest/presenter"
	"github.com/totegamma/agrichain/internal/usecase"
)

const invalidBody = "invalid request body"

var v = newValidator()

// newValidator reports fields by their JSON keys.
func newValidator() *validator.Validate {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return validate
}

// invalidField answers a failed validation with the first offending field.
func invalidField(c echo.Context, err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return presenter.BadRequest(c, err, "invalid "+verrs[0].Field())
	}
	return presenter.BadRequest(c, err, invalidBody)
}

type identityService interface {
	Login(ctx context.Context, username, password, expectedRole string) (usecase.LoginResult, error)
	Whoami(ctx context.Context, sessionID string) (domain.SessionUser, error)
	Logout(ctx context.Context, sessionID string) error
}

type userService interface {
	Profile(ctx context.Context, username string) (domain.User, error)
	EditProfile(ctx context.Context, username string, input usecase.ProfileInput) (domain.User, error)
	AdminEdit(ctx context.Context, requester domain.SessionUser, username string, input usecase.AdminEditInput) (domain.User, error)
	CreateUser(ctx context.Context, requester domain.SessionUser, input usecase.CreateUserInput) (domain.User, error)
	List(ctx context.Context, requester domain.SessionUser) ([]domain.User, error)
	Get(ctx context.Context, requester domain.SessionUser, username string) (domain.User, error)
}

type productService interface {
	List(ctx context.Context, requester domain.SessionUser) ([]domain.ProductView, error)
	Get(ctx context.Context, identifier string) (domain.ProductView, error)
	Resolve(ctx context.Context, identifier string) (domain.Product, error)
	Register(ctx context.Context, requester domain.SessionUser, input usecase.RegisterProductInput) (domain.Product, error)
	Verify(ctx context.Context, identifier string) (domain.Product, error)
}

type stepService interface {
	Record(ctx context.Context, requester domain.SessionUser, productID string, input usecase.RecordStepInput) (domain.SupplyChainStep, error)
}

type certificateService interface {
	List(ctx context.Context, requester domain.SessionUser) ([]domain.CertificateView, error)
	Get(ctx context.Context, requester domain.SessionUser, id string) (domain.CertificateView, error)
	Issue(ctx context.Context, requester domain.SessionUser, input usecase.IssueCertificateInput) (domain.CertificateView, error)
}

type qrRenderer interface {
	PNG(ctx context.Context, payload string, size int) ([]byte, error)
}

type realtimeSource interface {
	Realtime(ctx context.Context, input <-chan []string, output chan<- domain.ProductEvent)
}

type Handler struct {
	config       config.Server
	identity     identityService
	users        userService
	products     productService
	steps        stepService
	certificates certificateService
	qr           qrRenderer
	signal       realtimeSource
}

func NewHandler(
	config config.Server,
	identity identityService,
	users userService,
	products productService,
	steps stepService,
	certificates certificateService,
	qr qrRenderer,
	signal realtimeSource,
) *Handler {
	return &Handler{
		config:       config,
		identity:     identity,
		users:        users,
		products:     products,
		steps:        steps,
		certificates: certificates,
		qr:           qr,
		signal:       signal,
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	auth := middleware.NewAuthMiddleware(h.identity, h.config.CookieName)
	e.Use(auth.IdentifySession)

	e.POST("/auth/:role", h.handleLogin)
	e.POST("/api/login", h.handleLogin)
	e.GET("/auth/verify-session", h.handleVerifySession)
	e.POST("/api/logout", h.handleLogout)

	e.GET("/api/health", h.handleHealth)
	e.POST("/api/verify/:id", h.handleVerify)
	e.GET("/api/products/:id/qr.png", h.handleQRImage)
	e.GET("/api/events", h.handleEvents)

	api := e.Group("/api", middleware.RequireSession)
	api.GET("/profile", h.handleProfile)
	api.POST("/profile/edit", h.handleProfileEdit)

	api.PUT("/add-user", h.handleAddUser)
	api.GET("/users", h.handleListUsers)
	api.GET("/users/:username", h.handleGetUser)
	api.POST("/users/:username", h.handleAdminEdit)

	api.GET("/products", h.handleListProducts)
	api.GET("/products/:id", h.handleGetProduct)
	api.PUT("/register-product", h.handleRegisterProduct)
	api.POST("/products/:id/steps", h.handleRecordStep)

	api.GET("/certificates", h.handleListCertificates)
	api.GET("/certificates/:id", h.handleGetCertificate)
	api.POST("/certificates", h.handleIssueCertificate)
}

func (h *Handler) handleHealth(c echo.Context) error {
	return presenter.OK(c, echo.Map{"status": "ok"})
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (h *Handler) handleLogin(c echo.Context) error {
	ctx := c.Request().Context()

	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err, invalidBody)
	}
	if err := v.Struct(req); err != nil {
		return presenter.Unauthorized(c, "username and password are required")
	}

	role := c.Param("role")
	if role != "" {
		if _, err := domain.ParseRole(role); err != nil {
			return presenter.Unauthorized(c, "invalid credentials")
		}
	}

	result, err := h.identity.Login(ctx, req.Username, req.Password, role)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCredentials) {
			return presenter.Unauthorized(c, "invalid credentials")
		}
		return presenter.InternalError(c, err)
	}

	ttl := h.config.SessionTTL
	c.SetCookie(&http.Cookie{
		Name:     h.config.CookieName,
		Value:    result.SessionID,
		Path:     "/",
		Expires:  time.Now().Add(ttl),
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	return presenter.OK(c, echo.Map{
		"success":  true,
		"role":     result.User.Role,
		"redirect": result.User.Role.Redirect(),
	})
}

func (h *Handler) handleVerifySession(c echo.Context) error {
	requester, ok := middleware.Requester(c)
	if !ok {
		return presenter.Unauthorized(c, "no active session")
	}
	return presenter.OK(c, echo.Map{"success": true, "user": requester})
}

func (h *Handler) handleLogout(c echo.Context) error {
	ctx := c.Request().Context()

	if err := h.identity.Logout(ctx, middleware.SessionID(c)); err != nil {
		return presenter.InternalError(c, err)
	}

	c.SetCookie(&http.Cookie{
		Name:     h.config.CookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return presenter.OK(c, echo.Map{"success": true})
}

type profileRequest struct {
	Name         string `json:"name"`
	Organization string `json:"organization"`
	Email        string `json:"email" validate:"omitempty,email"`
	Phone        string `json:"phone"`
	Address      string `json:"address"`
}

func (r profileRequest) input() usecase.ProfileInput {
	return usecase.ProfileInput{
		Name:         r.Name,
		Organization: r.Organization,
		Email:        r.Email,
		Phone:        r.Phone,
		Address:      r.Address,
	}
}

func (h *Handler) handleProfile(c echo.Context) error {
	requester, _ := middleware.Requester(c)

	user, err := h.users.Profile(c.Request().Context(), requester.Username)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, user)
}

func (h *Handler) handleProfileEdit(c echo.Context) error {
	requester, _ := middleware.Requester(c)

	var req profileRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err, invalidBody)
	}
	if err := v.Struct(req); err != nil {
		return invalidField(c, err)
	}

	user, err := h.users.EditProfile(c.Request().Context(), requester.Username, req.input())
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, user)
}

type addUserRequest struct {
	Name            string `json:"name"`
	Username        string `json:"username"`
	Email           string `json:"email"`
	Phone           string `json:"phone"`
	Address         string `json:"address"`
	Organization    string `json:"organization"`
	Role            string `json:"role"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
	LocationID      string `json:"locationId"`
}

// handleAddUser answers validation failures with 401 like the login
// endpoints do.
func (h *Handler) handleAddUser(c echo.Context) error {
	requester, _ := middleware.Requester(c)

	var req addUserRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err, invalidBody)
	}

	user, err := h.users.CreateUser(c.Request().Context(), requester, usecase.CreateUserInput{
		ProfileInput: usecase.ProfileInput{
			Name:         req.Name,
			Organization: req.Organization,
			Email:        req.Email,
			Phone:        req.Phone,
			Address:      req.Address,
		},
		Username:        req.Username,
		Role:            req.Role,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
		LocationID:      req.LocationID,
	})
	if err != nil {
		var validation domain.ValidationError
		if errors.As(err, &validation) {
			return presenter.Unauthorized(c, validation.Message)
		}
		return presenter.Error(c, err)
	}

	return presenter.OK(c, echo.Map{"success": true, "user": user})
}

func (h *Handler) handleListUsers(c echo.Context) error {
	requester, _ := middleware.Requester(c)

	users, err := h.users.List(c.Request().Context(), requester)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, users)
}

func (h *Handler) handleGetUser(c echo.Context) error {
	requester, _ := middleware.Requester(c)

	user, err := h.users.Get(c.Request().Context(), requester, c.Param("username"))
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, user)
}

type adminEditRequest struct {
	profileRequest
	Role       string  `json:"role"`
	LocationID *string `json:"locationId"`
}

func (h *Handler) handleAdminEdit(c echo.Context) error {
	requester, _ := middleware.Requester(c)

	var req adminEditRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err, invalidBody)
	}
	if err := v.Struct(req); err != nil {
		return invalidField(c, err)
	}

	user, err := h.users.AdminEdit(c.Request().Context(), requester, c.Param("username"), usecase.AdminEditInput{
		ProfileInput: req.input(),
		Role:         req.Role,
		LocationID:   req.LocationID,
	})
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, user)
}
