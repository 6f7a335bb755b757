package connect

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
)

// ErrorResponse is the JSON body of a failed call
type ErrorResponse struct {
	Error         string         `json:"error"`
	TextCode      string         `json:"text_code,omitempty"`
	Fields        FieldErrors    `json:"fields,omitempty"`
	Notifications []Notification `json:"notifications,omitempty"`
}

// ErrorHandlerOption customizes the fiber error handler
type ErrorHandlerOption func(*errorHandler)

// WithErrorHandlerLogger overrides the logger
func WithErrorHandlerLogger(logger Logger) ErrorHandlerOption {
	return func(h *errorHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithErrorHandlerClock injects a custom clock (useful for tests).
func WithErrorHandlerClock(clock func() time.Time) ErrorHandlerOption {
	return func(h *errorHandler) {
		if clock != nil {
			h.now = clock
		}
	}
}

// WithErrorView overrides the template rendered for HTML failures
func WithErrorView(view string) ErrorHandlerOption {
	return func(h *errorHandler) {
		if view != "" {
			h.view = view
		}
	}
}

type errorHandler struct {
	logger Logger
	now    func() time.Time
	view   string
}

// NewErrorHandler returns the app wide fiber error handler. Authentication
// failures on pages redirect to the login, authorization failures to the
// unauthorized page. API calls always get a JSON body.
func NewErrorHandler(opts ...ErrorHandlerOption) fiber.ErrorHandler {
	h := &errorHandler{
		logger: defLogger{},
		now:    time.Now,
		view:   "errors/500",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h.handle
}

func (h *errorHandler) handle(c *fiber.Ctx, err error) error {
	richErr := AsRichError(err)
	status := StatusFor(richErr)

	h.logger.Info("request failed path=%s category=%s text_code=%s error=%s details=%s",
		c.Path(), richErr.Category, richErr.TextCode, richErr.Message,
		print.MaybePrettyJSON(richErr.Metadata),
	)

	if WantsJSON(c) {
		notify := NewNotify(h.now)
		notify.Error(richErr.Message)
		return c.Status(status).JSON(ErrorResponse{
			Error:         richErr.Message,
			TextCode:      richErr.TextCode,
			Notifications: notify.Items(),
		})
	}

	switch richErr.Category {
	case goerrors.CategoryAuth:
		return c.Redirect(RootRoute, redirectStatus(c))
	case goerrors.CategoryAuthz:
		return c.Redirect(UnauthorizedRoute, redirectStatus(c))
	}

	return c.Status(status).Render(h.view, fiber.Map{
		"error":  richErr,
		"status": status,
	})
}

// AsRichError converts any error raised in a handler into a go-errors value
func AsRichError(err error) *goerrors.Error {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}

	var fiberErr *fiber.Error
	if goerrors.As(err, &fiberErr) {
		return goerrors.New(fiberErr.Message, categoryForStatus(fiberErr.Code)).
			WithCode(fiberErr.Code)
	}

	return goerrors.Wrap(err, goerrors.CategoryInternal, "An unexpected server error occurred").
		WithCode(goerrors.CodeInternal)
}

// StatusFor is the HTTP status of a rich error
func StatusFor(err *goerrors.Error) int {
	if err.Code >= 400 && err.Code < 600 {
		return err.Code
	}
	switch err.Category {
	case goerrors.CategoryValidation, goerrors.CategoryBadInput:
		return http.StatusBadRequest
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryOperation:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func categoryForStatus(code int) goerrors.Category {
	switch code {
	case http.StatusBadRequest:
		return goerrors.CategoryBadInput
	case http.StatusUnauthorized:
		return goerrors.CategoryAuth
	case http.StatusForbidden:
		return goerrors.CategoryAuthz
	case http.StatusNotFound:
		return goerrors.CategoryNotFound
	case http.StatusConflict:
		return goerrors.CategoryConflict
	}
	return goerrors.CategoryInternal
}

// WantsJSON reports whether the caller expects a JSON answer
func WantsJSON(c *fiber.Ctx) bool {
	if strings.HasPrefix(c.Path(), "/api/") || c.Method() != fiber.MethodGet {
		return true
	}
	return c.Accepts(fiber.MIMETextHTML, fiber.MIMEApplicationJSON) == fiber.MIMEApplicationJSON
}

func redirectStatus(c *fiber.Ctx) int {
	if c.Method() == fiber.MethodGet {
		return http.StatusFound
	}
	return http.StatusSeeOther
}

func setCookie(c *fiber.Ctx, name, value string, expires time.Time, secure bool) {
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HTTPOnly: true,
		Secure:   secure,
		SameSite: fiber.CookieSameSiteStrictMode,
	})
}

func cookieDel(c *fiber.Ctx, name string, secure bool) {
	setCookie(c, name, "", time.Now().Add(-time.Hour*(24*365)), secure)
}
