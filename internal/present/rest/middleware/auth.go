package middleware

import (
	"context"
	"errors"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/totegamma/agrichain/internal/domain"
	"github.com/totegamma/agrichain/internal/present/rest/presenter"
)

var tracer = otel.Tracer("auth")

type sessionReader interface {
	Whoami(ctx context.Context, sessionID string) (domain.SessionUser, error)
}

type AuthMiddleware struct {
	identity   sessionReader
	cookieName string
}

func NewAuthMiddleware(identity sessionReader, cookieName string) *AuthMiddleware {
	return &AuthMiddleware{
		identity:   identity,
		cookieName: cookieName,
	}
}

// IdentifySession attaches the session snapshot to the request context when
// the cookie names a live session. Requests without one pass through
// anonymously.
func (m *AuthMiddleware) IdentifySession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, span := tracer.Start(c.Request().Context(), "Auth.Middleware.IdentifySession")
		defer span.End()

		cookie, err := c.Cookie(m.cookieName)
		if err != nil || cookie.Value == "" {
			goto skip
		}

		{
			user, err := m.identity.Whoami(ctx, cookie.Value)
			if err != nil {
				if !errors.Is(err, domain.ErrUnauthorized) {
					span.RecordError(err)
				}
				goto skip
			}

			ctx = context.WithValue(ctx, domain.RequesterCtxKey, user)
			ctx = context.WithValue(ctx, domain.SessionIDCtxKey, cookie.Value)
			span.SetAttributes(attribute.String("Requester", user.Username))
		}

	skip:
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

// RequireSession rejects anonymous requests with 401.
func RequireSession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, ok := Requester(c); !ok {
			return presenter.Unauthorized(c, "unauthorized")
		}
		return next(c)
	}
}

func Requester(c echo.Context) (domain.SessionUser, bool) {
	user, ok := c.Request().Context().Value(domain.RequesterCtxKey).(domain.SessionUser)
	return user, ok
}

func SessionID(c echo.Context) string {
	id, _ := c.Request().Context().Value(domain.SessionIDCtxKey).(string)
	return id
}
