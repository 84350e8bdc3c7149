package devserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/csaude/comvida/internal/platform/auth"
	"github.com/csaude/comvida/pkg/pagination"
)

// Envelope names.
const (
	EnvelopeSpring = "spring"
	EnvelopeLegacy = "legacy"
)

type Handler struct {
	svc      *Service
	envelope string
	jwt      auth.JWTConfig
	now      func() time.Time
}

func NewHandler(svc *Service, envelope string, jwt auth.JWTConfig) *Handler {
	if envelope != EnvelopeLegacy {
		envelope = EnvelopeSpring
	}
	return &Handler{svc: svc, envelope: envelope, jwt: jwt, now: time.Now}
}

// RegisterRoutes mounts the collection routes on api. writeGuard, when not
// nil, protects every mutation.
func (h *Handler) RegisterRoutes(api *echo.Group, writeGuard echo.MiddlewareFunc) {
	api.POST("/auth/login", h.Login)

	api.GET("/cohort-members/cohorts-with-members", h.ListCohortsWithMembers)
	api.GET("/:resource", h.List)
	api.GET("/:resource/:id", h.Get)

	write := api.Group("")
	if writeGuard != nil {
		write.Use(writeGuard)
	}
	write.POST("/:resource", h.Create)
	write.PUT("/:resource", h.Update)
	write.PUT("/:resource/:id", h.Update)
	write.PUT("/:resource/:id/status", h.UpdateStatus)
	write.DELETE("/:resource/:id", h.Delete)
}

// -- Collection endpoints --

func (h *Handler) List(c echo.Context) error {
	resource := c.Param("resource")
	rc, err := h.svc.Resource(resource)
	if err != nil {
		return httpError(err)
	}
	pg := pagination.FromContext(c)
	params := listParams(c, pg, rc.searchParam())
	docs, total, err := h.svc.List(c.Request().Context(), resource, params)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, h.page(docs, total, pg))
}

func (h *Handler) ListCohortsWithMembers(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.CohortsWithMembers(c.Request().Context(), listParams(c, pg, "name"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, h.page(items, total, pg))
}

func (h *Handler) Get(c echo.Context) error {
	doc, err := h.svc.Get(c.Request().Context(), c.Param("resource"), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, doc)
}

func (h *Handler) Create(c echo.Context) error {
	doc, err := decodeDoc(c)
	if err != nil {
		return err
	}
	out, err := h.svc.Create(c.Request().Context(), c.Param("resource"), doc, actor(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, out)
}

// Update serves both PUT /{resource} (id in the body) and
// PUT /{resource}/{id}.
func (h *Handler) Update(c echo.Context) error {
	var id int64
	if p := c.Param("id"); p != "" {
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
		}
		id = v
	}
	doc, err := decodeDoc(c)
	if err != nil {
		return err
	}
	out, err := h.svc.Update(c.Request().Context(), c.Param("resource"), id, doc, actor(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	var body struct {
		LifeCycleStatus string `json:"lifeCycleStatus"`
	}
	if err := json.NewDecoder(c.Request().Body).Decode(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	out, err := h.svc.UpdateStatus(c.Request().Context(), c.Param("resource"), c.Param("id"), body.LifeCycleStatus, actor(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Delete(c echo.Context) error {
	if err := h.svc.Delete(c.Request().Context(), c.Param("resource"), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Auth --

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string   `json:"token"`
	ExpiresAt string   `json:"expiresAt"`
	User      Document `json:"user"`
}

func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		return httpError(&ValidationError{Resource: "login", Fields: []FieldError{
			{Field: "username", Message: "username and password are required"},
		}})
	}
	user, roles, err := h.svc.Authenticate(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		return httpError(err)
	}
	token, exp, err := auth.IssueToken(h.jwt, req.Username, roles, h.now())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "cannot issue token")
	}
	return c.JSON(http.StatusOK, loginResponse{
		Token:     token,
		ExpiresAt: exp.UTC().Format(time.RFC3339),
		User:      user,
	})
}

// -- Helpers --

func (h *Handler) page(content interface{}, total int, pg pagination.Params) interface{} {
	if h.envelope == EnvelopeLegacy {
		return pagination.NewLegacyPage(content, total, pg)
	}
	return pagination.NewPage(content, total, pg)
}

// listParams splits the query string into paging, sort, the free-text
// search and field filters.
func listParams(c echo.Context, pg pagination.Params, searchParam string) ListParams {
	p := ListParams{
		Page:    pg.Page,
		Size:    pg.Size,
		Sort:    c.QueryParam("sort"),
		Search:  c.QueryParam(searchParam),
		Filters: map[string]string{},
	}
	for k, vs := range c.QueryParams() {
		switch k {
		case "page", "size", "sort", searchParam:
			continue
		}
		if len(vs) > 0 {
			p.Filters[k] = vs[0]
		}
	}
	return p
}

func decodeDoc(c echo.Context) (Document, error) {
	var doc Document
	if err := json.NewDecoder(c.Request().Body).Decode(&doc); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	if doc == nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "body must be a JSON object")
	}
	return doc, nil
}

func actor(c echo.Context) string {
	if uid := auth.UserIDFromContext(c.Request().Context()); uid != "" {
		return uid
	}
	return "anonymous"
}

type validationBody struct {
	Message string       `json:"message"`
	Errors  []FieldError `json:"errors"`
}

// httpError maps service errors to the statuses the client classifies.
func httpError(err error) error {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, validationBody{
			Message: "validation failed",
			Errors:  ve.Fields,
		})
	case errors.Is(err, ErrUnknownResource), errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrBadCredentials):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
}
