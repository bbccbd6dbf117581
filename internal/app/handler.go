package app

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/vesselkit/vessel/internal/config"
	apperrors "github.com/vesselkit/vessel/internal/errors"
	"github.com/vesselkit/vessel/internal/logging"
	"github.com/vesselkit/vessel/internal/middleware"
	"github.com/vesselkit/vessel/internal/ratelimit"
	"github.com/vesselkit/vessel/internal/render"
)

// maxBodyBytes bounds JSON request bodies accepted by DecodeJSON.
const maxBodyBytes = 1 << 20

// HandlerFunc is the application handler shape. The returned value passes
// through render.Normalize, so handlers may return a plain value, a bare
// status int, a render.Response, or a []any tuple. Errors become problem
// documents.
type HandlerFunc func(c *Ctx) (any, error)

// Ctx carries per-request state into a bound handler.
type Ctx struct {
	Request *http.Request
	// Header collects response headers to set before the body is written.
	Header http.Header
	Config *config.Config
	Log    *logging.Logger
	App    *App

	serializer render.Serializer
}

// Vars returns the path variables captured by the router.
func (c *Ctx) Vars() map[string]string { return mux.Vars(c.Request) }

// RequestID returns the correlation id of the request.
func (c *Ctx) RequestID() string { return logging.GetRequestID(c.Request.Context()) }

// ClientIP returns the (proxy-unwrapped) client address.
func (c *Ctx) ClientIP() string {
	if ip := logging.GetClientIP(c.Request.Context()); ip != "" {
		return ip
	}
	return middleware.ClientIP(c.Request)
}

// Format returns the name of the negotiated serializer.
func (c *Ctx) Format() string { return c.serializer.Name() }

// DecodeJSON reads the request body into v, rejecting oversized or
// malformed payloads with client errors.
func (c *Ctx) DecodeJSON(v any) error {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes+1))
	if err != nil {
		return apperrors.BadRequest("unable to read request body")
	}
	if len(body) > maxBodyBytes {
		return apperrors.PayloadTooLarge(fmt.Sprintf("request body exceeds %d bytes", maxBodyBytes))
	}
	if len(body) == 0 {
		return apperrors.BadRequest("request body is empty")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return apperrors.BadRequest("invalid JSON body").WithDetails("reason", err.Error())
	}
	return nil
}

// Bind adapts a HandlerFunc into an http.Handler: it negotiates the
// response format, enforces the route's rate profile, invokes the
// handler, and writes either the rendered value or a problem document.
// The profile's token is deducted after the response status is known.
func (a *App) Bind(h HandlerFunc, profile string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cfg := a.Config

		var (
			prof    ratelimit.Profile
			limited bool
			key     string
		)
		if cfg.Limiter.Enabled && !a.Limits.Bypassed(r) {
			if p, ok := a.Limits.Profile(profile); ok {
				prof = p
				limited = true
				key = clientKey(r)
				decision := a.Limits.Check(r.Context(), prof, key)
				decision.SetHeaders(w.Header())
				if !decision.Allowed {
					a.Metrics.CountRateLimited()
					a.Problems.Write(w, r, apperrors.RateLimited(decision.Limit, prof.Window.String()))
					return
				}
			}
		}

		serializer, ok := a.negotiate(r)
		if !ok {
			a.Problems.Write(w, r, &apperrors.ServiceError{
				Code:       apperrors.CodeValidation,
				Message:    "no acceptable response format",
				HTTPStatus: http.StatusNotAcceptable,
			})
			return
		}

		ctx := &Ctx{
			Request:    r,
			Header:     make(http.Header),
			Config:     cfg,
			Log:        a.Log.WithContext(r.Context()),
			App:        a,
			serializer: serializer,
		}

		status := a.finish(w, r, ctx, h)

		if limited {
			a.Limits.Deduct(r.Context(), prof, key, status)
		}
	})
}

// finish runs the handler and writes the response, returning the status
// actually sent.
func (a *App) finish(w http.ResponseWriter, r *http.Request, ctx *Ctx, h HandlerFunc) int {
	ret, err := h(ctx)
	if err != nil {
		status := http.StatusInternalServerError
		if se := apperrors.GetServiceError(err); se != nil {
			status = se.HTTPStatus
		}
		a.Problems.Write(w, r, err)
		return status
	}

	resp := render.Normalize(ret)
	for key, values := range ctx.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}

	if resp.Value == nil {
		if resp.Status == http.StatusOK || resp.Status == http.StatusNoContent {
			render.NoContent(w)
			return http.StatusNoContent
		}
		w.WriteHeader(resp.Status)
		return resp.Status
	}

	opts := a.renderOptions(r)
	if err := render.Write(w, ctx.serializer, resp.Value, resp.Status, opts); err != nil {
		a.Log.WithContext(r.Context()).WithError(err).Error("response encoding failed")
		a.Problems.Write(w, r, apperrors.Internal("response encoding failed", err))
		return http.StatusInternalServerError
	}
	return resp.Status
}

// negotiate picks the serializer: an explicit format query wins, else
// the Accept header decides with the configured default as fallback.
func (a *App) negotiate(r *http.Request) (render.Serializer, bool) {
	cfg := a.Config
	key := cfg.Render.FormatKey
	if key == "" {
		key = "format"
	}
	if r.URL.Query().Get(key) != "" {
		return a.Registry.OnFormat(r, key)
	}
	return a.Registry.OnAccept(r, cfg.Render.DefaultFormat, nil, cfg.Render.StrictAccept)
}

// renderOptions derives serializer options from configuration and the
// request's query parameters.
func (a *App) renderOptions(r *http.Request) *render.Options {
	cfg := a.Config
	opts := render.NewOptions()
	opts.Pretty = r.URL.Query().Get("pretty") != "" || cfg.Debug
	opts.Root = cfg.Render.XMLRoot
	opts.Separator = cfg.Render.CSVSeparator
	opts.Filename = cfg.Render.CSVFilename
	if cb := r.URL.Query().Get(cfg.Render.JSONPCallback); cb != "" {
		opts.Callback = cb
	}
	return opts
}

// clientKey is the rate-limit bucket key for a request.
func clientKey(r *http.Request) string {
	if ip := logging.GetClientIP(r.Context()); ip != "" {
		return ip
	}
	return middleware.ClientIP(r)
}

// apperrForStatus maps an abuse-control status code onto the matching
// client error.
func apperrForStatus(status int) error {
	switch status {
	case http.StatusUnauthorized:
		return apperrors.Unauthorized("address is banned")
	case http.StatusNotFound:
		return apperrors.NotFound("address is banned")
	case http.StatusTooManyRequests:
		return &apperrors.ServiceError{
			Code:       apperrors.CodeRateLimited,
			Message:    "address is banned",
			HTTPStatus: status,
		}
	default:
		return apperrors.Forbidden("address is banned")
	}
}
