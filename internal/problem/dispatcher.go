package problem

import (
	"net/http"
	"strings"

	apperrors "github.com/vesselkit/vessel/internal/errors"
)

// DispatchMode selects how top-level 404/405 errors are routed.
type DispatchMode string

const (
	// DispatchDefault renders the default problem document.
	DispatchDefault DispatchMode = "default"
	// DispatchSubdomain delegates to the blueprint whose subdomain
	// matches the request host.
	DispatchSubdomain DispatchMode = "subdomain"
	// DispatchURLPrefix delegates to the blueprint whose URL prefix is
	// a prefix of the request path.
	DispatchURLPrefix DispatchMode = "urlprefix"
)

// Blueprint is a named sub-application sharing a subdomain or URL
// prefix, with its own not-found handler.
type Blueprint struct {
	Name      string
	Subdomain string
	URLPrefix string
	Handler   http.Handler
}

// Dispatcher routes top-level 404/405 responses. Stateless per request;
// configuration-driven.
type Dispatcher struct {
	mode       DispatchMode
	serverName string
	blueprints []Blueprint
	normalizer *Normalizer
}

// NewDispatcher creates a dispatcher. serverName is the apex host used
// to derive subdomains.
func NewDispatcher(mode DispatchMode, serverName string, normalizer *Normalizer) *Dispatcher {
	if mode == "" {
		mode = DispatchDefault
	}
	return &Dispatcher{mode: mode, serverName: serverName, normalizer: normalizer}
}

// Register adds a blueprint. Registration order decides ties.
func (d *Dispatcher) Register(bp Blueprint) {
	d.blueprints = append(d.blueprints, bp)
}

// NotFound handles a top-level 404.
func (d *Dispatcher) NotFound(w http.ResponseWriter, r *http.Request) {
	if h := d.match(r); h != nil {
		h.ServeHTTP(w, r)
		return
	}
	d.normalizer.Write(w, r, apperrors.NotFound("the requested resource was not found"))
}

// MethodNotAllowed handles a top-level 405. An Allow header already set
// on the response is folded into the document so the allowed methods
// reach the client in both places.
func (d *Dispatcher) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	if h := d.match(r); h != nil {
		h.ServeHTTP(w, r)
		return
	}
	err := apperrors.MethodNotAllowed("method not allowed for this resource")
	if allow := w.Header().Get("Allow"); allow != "" {
		w.Header().Del("Allow")
		err = err.WithHeader("Allow", allow)
	}
	d.normalizer.Write(w, r, err)
}

func (d *Dispatcher) match(r *http.Request) http.Handler {
	switch d.mode {
	case DispatchSubdomain:
		sub := d.subdomain(r.Host)
		if sub == "" {
			return nil
		}
		for _, bp := range d.blueprints {
			if bp.Subdomain == sub {
				return bp.Handler
			}
		}
	case DispatchURLPrefix:
		for _, bp := range d.blueprints {
			if bp.URLPrefix != "" && strings.HasPrefix(r.URL.Path, bp.URLPrefix) {
				return bp.Handler
			}
		}
	}
	return nil
}

func (d *Dispatcher) subdomain(host string) string {
	if i := strings.Index(host, ":"); i >= 0 {
		host = host[:i]
	}
	if d.serverName == "" || !strings.HasSuffix(host, "."+d.serverName) {
		return ""
	}
	return strings.TrimSuffix(host, "."+d.serverName)
}
