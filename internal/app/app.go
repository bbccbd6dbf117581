// Package app assembles the HTTP application skeleton: middleware stack,
// abuse controls, response rendering, token lifecycle, JSON-RPC, and
// health checks, wired from a single configuration tree.
package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/vesselkit/vessel/internal/config"
	"github.com/vesselkit/vessel/internal/health"
	"github.com/vesselkit/vessel/internal/ipban"
	"github.com/vesselkit/vessel/internal/kvstore"
	"github.com/vesselkit/vessel/internal/logging"
	"github.com/vesselkit/vessel/internal/middleware"
	"github.com/vesselkit/vessel/internal/problem"
	"github.com/vesselkit/vessel/internal/ratelimit"
	"github.com/vesselkit/vessel/internal/render"
	"github.com/vesselkit/vessel/internal/requestid"
	"github.com/vesselkit/vessel/internal/rpc"
	"github.com/vesselkit/vessel/internal/token"
)

// CredentialFunc validates a username/password pair and returns the
// identity and scope to embed in issued tokens.
type CredentialFunc func(ctx context.Context, username, password string) (identity, scope string, err error)

// Extension is a named initialization step run during Build, in
// registration order. The first failing extension aborts the build.
type Extension struct {
	Name string
	Init func(*App) error
}

// App is the assembled application. Fields are exposed so extensions and
// route handlers can reach the shared services.
type App struct {
	Config     *config.Config
	Log        *logging.Logger
	Store      kvstore.Store
	Bans       *ipban.Service
	Limits     *ratelimit.Limiter
	Tokens     *token.Service
	Registry   *render.Registry
	Problems   *problem.Normalizer
	Blueprints *problem.Dispatcher
	RPC        *rpc.Dispatcher
	Health     *health.Aggregator
	Metrics    *middleware.Metrics
	Propagator *requestid.Propagator

	router      *mux.Router
	memory      *kvstore.Memory
	redis       *kvstore.Redis
	sqlDeny     *token.SQLDenyList
	cron        *cron.Cron
	credentials CredentialFunc
	server      *http.Server
}

// Builder accumulates configuration and extensions for a single Build.
type Builder struct {
	cfg         *config.Config
	log         *logging.Logger
	extensions  []Extension
	credentials CredentialFunc
	registerer  prometheus.Registerer
}

// NewBuilder starts a builder over the given configuration.
func NewBuilder(cfg *config.Config, log *logging.Logger) *Builder {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logging.NewDefault("vessel")
	}
	return &Builder{cfg: cfg, log: log, registerer: prometheus.DefaultRegisterer}
}

// Use appends a named extension. Extensions run in registration order
// after the core services are wired.
func (b *Builder) Use(name string, init func(*App) error) *Builder {
	b.extensions = append(b.extensions, Extension{Name: name, Init: init})
	return b
}

// WithCredentials sets the credential validator behind the token
// endpoints. Without one, access-token issuance returns 501.
func (b *Builder) WithCredentials(fn CredentialFunc) *Builder {
	b.credentials = fn
	return b
}

// WithRegisterer overrides the prometheus registerer, for tests.
func (b *Builder) WithRegisterer(reg prometheus.Registerer) *Builder {
	b.registerer = reg
	return b
}

// Build wires every service and runs the extensions. The first error
// aborts and is returned with the failing stage named.
func (b *Builder) Build() (*App, error) {
	cfg := b.cfg
	a := &App{
		Config:      cfg,
		Log:         b.log,
		Propagator:  requestid.New(cfg.RequestID.Header, cfg.RequestID.TrustPrefix),
		credentials: b.credentials,
	}

	// Key-value backend: remote when configured, in-process otherwise.
	if cfg.Redis.Addr != "" {
		r, err := kvstore.DialRedis(context.Background(), cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, fmt.Errorf("build redis: %w", err)
		}
		a.redis = r
		a.Store = r
	} else {
		a.memory = kvstore.NewMemory(0)
		a.Store = a.memory
	}

	// Token deny list: SQL when a database is configured, KV otherwise.
	var denyList token.DenyList
	if cfg.Database.DSN != "" {
		sqlDeny, err := token.OpenSQLDenyList(cfg.Database.Driver, cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("build denylist: %w", err)
		}
		if err := sqlDeny.EnsureSchema(context.Background()); err != nil {
			return nil, fmt.Errorf("build denylist schema: %w", err)
		}
		a.sqlDeny = sqlDeny
		denyList = sqlDeny
	} else {
		denyList = token.NewKVDenyList(a.Store)
	}

	tokens, err := token.New(cfg.JWT, denyList, b.log)
	if err != nil {
		return nil, fmt.Errorf("build tokens: %w", err)
	}
	a.Tokens = tokens

	a.Bans = ipban.New(a.Store, ipban.Options{
		Threshold:     cfg.IPBan.Threshold,
		TTL:           cfg.IPBan.TTL,
		TriggerStatus: cfg.IPBan.TriggerStatus,
		BanStatus:     cfg.IPBan.BanStatus,
		KeyPrefix:     cfg.IPBan.KeyPrefix,
	}, b.log)
	a.Bans.LoadWhitelist(cfg.IPBan.Whitelist, nil)
	for _, entry := range cfg.IPBan.Blacklist {
		a.Bans.AddBlacklist(entry)
	}

	limits, err := ratelimit.New(a.Store, cfg.Limiter, b.log)
	if err != nil {
		return nil, fmt.Errorf("build limiter: %w", err)
	}
	a.Limits = limits

	a.Registry = render.NewDefaultRegistry()
	a.Problems = problem.NewNormalizer(problem.Config{
		Debug:         cfg.Debug,
		TypeBase:      cfg.Errors.TypeBase,
		ContentTypeID: cfg.Errors.ContentTypeID,
	}, b.log)
	a.Blueprints = problem.NewDispatcher(problem.DispatchMode(cfg.Errors.DispatchMode), cfg.ServerName, a.Problems)
	a.RPC = rpc.NewDispatcher(cfg.RPC, b.log)
	a.Health = health.New(cfg.Health, b.log)
	a.Metrics = middleware.NewMetrics("vessel", b.registerer)

	if a.redis != nil {
		a.Health.Register("redis", health.RedisProbe(a.redis))
	}

	a.router = mux.NewRouter()
	a.router.NotFoundHandler = http.HandlerFunc(a.Blueprints.NotFound)
	a.router.MethodNotAllowedHandler = a.withAllowedMethods(http.HandlerFunc(a.Blueprints.MethodNotAllowed))
	a.registerCoreRoutes()
	a.scheduleJanitors()

	for _, ext := range b.extensions {
		if err := ext.Init(a); err != nil {
			return nil, fmt.Errorf("extension %s: %w", ext.Name, err)
		}
		b.log.WithField("extension", ext.Name).Debug("extension initialized")
	}

	return a, nil
}

// Router exposes the route table for extensions.
func (a *App) Router() *mux.Router { return a.router }

// Handle binds a handler at path for the given methods under a rate
// profile ("" uses the default profile).
func (a *App) Handle(path string, h HandlerFunc, profile string, methods ...string) *mux.Route {
	route := a.router.Handle(path, a.Bind(h, profile))
	if len(methods) > 0 {
		route.Methods(methods...)
	}
	return route
}

func (a *App) registerCoreRoutes() {
	cfg := a.Config
	a.router.Handle(cfg.Health.Path, a.Health).Methods(http.MethodGet)
	a.router.Handle(cfg.RPC.Path, a.RPC).Methods(http.MethodPost)
	a.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	a.Handle("/auth/token/access", a.issueToken, ratelimit.ProfileFail, http.MethodPost)
	a.Handle("/auth/token/refresh", a.refreshToken, ratelimit.ProfileFail, http.MethodPost)
	a.Handle("/auth/token/revoke", a.revokeToken, ratelimit.ProfileFail, http.MethodPost)
	a.Handle("/auth/token/check", a.checkToken, ratelimit.ProfileDefault, http.MethodGet)

	a.router.HandleFunc("/apidoc.json", a.apiDocJSON).Methods(http.MethodGet)
	a.router.HandleFunc("/apidocs", a.apiDocHTML).Methods(http.MethodGet)
}

// withAllowedMethods derives the Allow set for the matched route before
// delegating. The router leaves the header unset on its own 405s.
func (a *App) withAllowedMethods(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods := []string{
			http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		}
		var allow []string
		for _, method := range methods {
			if method == r.Method {
				continue
			}
			alt := r.Clone(r.Context())
			alt.Method = method
			var m mux.RouteMatch
			if a.router.Match(alt, &m) && m.MatchErr == nil {
				allow = append(allow, method)
			}
		}
		if len(allow) > 0 {
			w.Header().Set("Allow", strings.Join(allow, ", "))
		}
		next.ServeHTTP(w, r)
	})
}

// scheduleJanitors starts the background sweeps that keep expired state
// from accumulating: LRU-store tombstones and spent deny-list rows.
func (a *App) scheduleJanitors() {
	a.cron = cron.New()
	if a.memory != nil {
		mem := a.memory
		a.cron.AddFunc("@every 5m", func() {
			if n := mem.Sweep(); n > 0 {
				a.Log.WithField("removed", n).Debug("swept expired cache entries")
			}
		})
	}
	if a.sqlDeny != nil {
		deny := a.sqlDeny
		a.cron.AddFunc("@every 10m", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			n, err := deny.GC(ctx)
			if err != nil {
				a.Log.WithError(err).Warn("denylist gc failed")
				return
			}
			if n > 0 {
				a.Log.WithField("removed", n).Debug("purged expired denylist rows")
			}
		})
	}
}

// Handler returns the full middleware stack around the router.
func (a *App) Handler() http.Handler {
	cfg := a.Config

	chain := middleware.NewChain()
	chain.Before("client-info", middleware.ClientInfoHook())
	a.wireAbuseHooks(chain)
	a.wireVersionHooks(chain)
	core := chain.Then(a.router)

	outer := []func(http.Handler) http.Handler{
		a.Metrics.Handler,
		a.Problems.Recover,
		middleware.RequestID(a.Propagator, a.Log),
		middleware.MethodOverride(cfg.Override.Methods),
	}
	if cfg.Proxy.Trusted() {
		outer = append(outer, middleware.ProxyUnwrap(cfg.Proxy))
	}
	if cfg.ForceHTTPS {
		outer = append(outer, middleware.ForceHTTPS)
	}
	// middleware.Wrap applies outer middlewares outermost-last, so the
	// request passes ForceHTTPS, proxy unwrap, method override, request
	// id, recover, metrics, then the hook chain.
	return middleware.Wrap(core, outer...)
}

// wireAbuseHooks installs the ban gate and its accounting.
func (a *App) wireAbuseHooks(chain *middleware.Chain) {
	if !a.Config.IPBan.Enabled {
		return
	}
	chain.Before("ipban", func(w http.ResponseWriter, r *http.Request) (*http.Request, bool) {
		addr := logging.GetClientIP(r.Context())
		if addr == "" {
			addr = middleware.ClientIP(r)
		}
		if a.Bans.IsBanned(r.Context(), addr) {
			a.Metrics.CountBan()
			err := apperrForStatus(a.Bans.BanStatus())
			a.Problems.Write(w, r, err)
			return r, true
		}
		return r, false
	})
	chain.After("ipban", func(status int, r *http.Request) {
		if !a.Bans.ShouldCount(status) {
			return
		}
		addr := logging.GetClientIP(r.Context())
		if addr == "" {
			addr = middleware.ClientIP(r)
		}
		a.Bans.Ban(r.Context(), addr, a.Config.IPBan.TTL, false)
	})
}

// wireVersionHooks stamps the API version on every response and flags
// clients older than the configured minimum.
func (a *App) wireVersionHooks(chain *middleware.Chain) {
	cfg := a.Config
	chain.Before("version", func(w http.ResponseWriter, r *http.Request) (*http.Request, bool) {
		if cfg.APIVersion != "" {
			w.Header().Set("X-Api-Version", cfg.APIVersion)
		}
		if cfg.Version.Minimum == "" || cfg.Version.Header == "" {
			return r, false
		}
		client := r.Header.Get(cfg.Version.Header)
		if client != "" && versionLess(client, cfg.Version.Minimum) {
			w.Header().Set("X-Upgrade-Needed", "true")
		}
		return r, false
	})
}

// Start runs the HTTP server and background jobs until ctx is cancelled.
func (a *App) Start(ctx context.Context) error {
	a.cron.Start()
	a.server = &http.Server{
		Addr:         a.Config.ListenAddr,
		Handler:      a.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Log.WithField("addr", a.Config.ListenAddr).Info("server listening")
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return a.Shutdown()
	}
}

// Shutdown stops the server, background jobs, and owned connections.
func (a *App) Shutdown() error {
	cronCtx := a.cron.Stop()
	<-cronCtx.Done()

	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := a.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
	}
	if a.sqlDeny != nil {
		if err := a.sqlDeny.Close(); err != nil {
			a.Log.WithError(err).Warn("denylist close failed")
		}
	}
	return nil
}

// versionLess compares dotted numeric versions segment by segment.
func versionLess(a, b string) bool {
	as := splitVersion(a)
	bs := splitVersion(b)
	for i := 0; i < len(as) || i < len(bs); i++ {
		av, bv := 0, 0
		if i < len(as) {
			av = as[i]
		}
		if i < len(bs) {
			bv = bs[i]
		}
		if av != bv {
			return av < bv
		}
	}
	return false
}

func splitVersion(v string) []int {
	var out []int
	n := 0
	seen := false
	for _, c := range v {
		switch {
		case c >= '0' && c <= '9':
			n = n*10 + int(c-'0')
			seen = true
		case c == '.':
			out = append(out, n)
			n = 0
			seen = false
		default:
			// Stop at the first pre-release or build suffix.
			if seen {
				out = append(out, n)
			}
			return out
		}
	}
	if seen {
		out = append(out, n)
	}
	return out
}
