package api

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/castleridge-io/clawdeck-sub003/domain"
)

const principalContextKey = "principal"

const (
	headerAgentName  = "X-Agent-Name"
	headerAgentEmoji = "X-Agent-Emoji"
)

// authRequired validates the bearer token, resolves the principal and stores
// it on the request context. Stream clients that cannot set headers may pass
// the token as a query parameter instead.
func authRequired(svc Service, auth Authenticator, logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if header == "" {
				if token := c.QueryParam("token"); token != "" {
					header = "Bearer " + token
				}
			}
			ident, err := auth.IdentityFromAuthHeader(header)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
			}
			ctx := c.Request().Context()
			p, err := svc.ResolvePrincipal(ctx, ident.Kind, ident.Subject, ident.OwnerID)
			if err != nil {
				return writeDomainError(c, err)
			}
			touchCaller(c, svc, p, logger)
			c.Set(principalContextKey, p)
			return next(c)
		}
	}
}

func principalOf(c echo.Context) domain.Principal {
	p, _ := c.Get(principalContextKey).(domain.Principal)
	return p
}

// touchCaller refreshes the caller's presence as a request side effect. Agent
// identity hints update the stored display identity; failures never affect
// the request outcome.
func touchCaller(c echo.Context, svc Service, p domain.Principal, logger *log.Logger) {
	ctx := c.Request().Context()
	if p.Kind == domain.PrincipalAgent {
		name := c.Request().Header.Get(headerAgentName)
		emoji := c.Request().Header.Get(headerAgentEmoji)
		if err := svc.TouchAgent(ctx, p, name, emoji); err != nil {
			logger.WithError(err).WithField("agent", p.ID).Warn("agent presence refresh failed")
		}
		return
	}
	svc.TouchUser(ctx, p)
}

// GzipRequestMiddleware decompresses gzip-encoded request bodies so handlers
// can work with plain JSON payloads. Requests with invalid gzip payloads are
// rejected with a 400 response.
func GzipRequestMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !hasGzipEncoding(req.Header.Get(echo.HeaderContentEncoding)) {
				return next(c)
			}

			body := req.Body
			gr, err := gzip.NewReader(body)
			if err != nil {
				_ = body.Close()
				return echo.NewHTTPError(http.StatusBadRequest, "invalid gzip body")
			}

			req.Body = &gzipReadCloser{Reader: gr, body: body}
			req.ContentLength = -1
			req.Header.Del(echo.HeaderContentEncoding)
			req.Header.Del(echo.HeaderContentLength)

			return next(c)
		}
	}
}

func hasGzipEncoding(header string) bool {
	if header == "" {
		return false
	}
	for _, enc := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
			return true
		}
	}
	return false
}

type gzipReadCloser struct {
	*gzip.Reader
	body io.Closer
}

func (g *gzipReadCloser) Close() error {
	var err error
	if g.Reader != nil {
		err = g.Reader.Close()
	}
	if g.body != nil {
		if cerr := g.body.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
