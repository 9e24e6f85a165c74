package http

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"dividi/internal/auth"
	"dividi/internal/log"
	"dividi/internal/metrics"
	"dividi/internal/middleware/ratelimit"
	"dividi/internal/middleware/security"
	"dividi/internal/middleware/trace"
	"dividi/internal/services"
	"dividi/internal/store"
)

// Deps are the services the API serves.
type Deps struct {
	Store    store.Store
	Auth     *auth.Service
	Issuer   *auth.Issuer
	Groups   *services.GroupService
	Expenses *services.ExpenseService
	Ledger   *services.LedgerService
	// Metrics is optional; without it /metrics is not mounted.
	Metrics *metrics.Metrics
	Logger  *log.Logger
}

// Options tune the middleware chain.
type Options struct {
	CORSOrigins    []string
	RatePerMinute  int
	ReadyTimeout   time.Duration
	TrustedProxies []string
}

type Server struct {
	http.Server
	store    store.Store
	auth     *auth.Service
	issuer   *auth.Issuer
	groups   *services.GroupService
	expenses *services.ExpenseService
	ledger   *services.LedgerService
	metrics  *metrics.Metrics
	logger   *log.Logger

	limiter      *ratelimit.Limiter
	detector     *security.Detector
	readyTimeout time.Duration
	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// server.
func NewServer(addr string, d Deps, opts Options) *Server {
	logger := d.Logger.WithComponent(log.ComponentHTTP)
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 2 * time.Second
	}

	s := &Server{
		store:        d.Store,
		auth:         d.Auth,
		issuer:       d.Issuer,
		groups:       d.Groups,
		expenses:     d.Expenses,
		ledger:       d.Ledger,
		metrics:      d.Metrics,
		logger:       logger,
		limiter:      ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RatePerMinute}),
		detector:     security.NewDetector(),
		readyTimeout: opts.ReadyTimeout,
	}
	for _, cidr := range opts.TrustedProxies {
		if err := s.detector.AddTrustedProxy(cidr); err != nil {
			logger.Warn("Ignoring trusted proxy", "cidr", cidr, log.FieldError, err.Error())
		}
	}

	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.routes(opts),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) routes(opts Options) http.Handler {
	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ErrorResponse(r, http.StatusNotFound, "not found").Write(w)
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ErrorResponse(r, http.StatusMethodNotAllowed, "method not allowed").Write(w)
	})

	// Runs after route matching so metrics see the route template.
	tracer := trace.NewMiddleware(s.logger, s.detector.ExtractClientIP, s.observe)
	router.Use(tracer.Middleware, log.Middleware(s.logger), log.RequestIDMiddleware(trace.FromRequest))

	router.HandleFunc("/healthz", handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)
	if s.metrics != nil {
		router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	api := router.PathPrefix("/api").Subrouter()
	api.Use(s.limiter.Middleware(s.rateKey, s.onRateLimited))

	api.HandleFunc("/auth/register", s.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/exchange-rates", s.handleExchangeRates).Methods(http.MethodGet)

	protected := api.NewRoute().Subrouter()
	protected.Use(s.issuer.Middleware(func(w http.ResponseWriter, r *http.Request, err error) {
		w.Header().Set("WWW-Authenticate", `Bearer realm="dividi"`)
		writeError(w, r, err)
	}))
	protected.HandleFunc("/me", s.handleMe).Methods(http.MethodGet)
	protected.HandleFunc("/groups", s.handleListGroups).Methods(http.MethodGet)
	protected.HandleFunc("/groups", s.handleCreateGroup).Methods(http.MethodPost)
	protected.HandleFunc("/groups/join", s.handleJoinGroup).Methods(http.MethodPost)
	// Keeps other methods from falling through to /groups/{id}.
	protected.HandleFunc("/groups/join", allowOnly(http.MethodPost))
	protected.HandleFunc("/notifications", s.handleNotifications).Methods(http.MethodGet)

	group := protected.PathPrefix("/groups/{id}").Subrouter()
	group.Use(s.requireMember)
	group.HandleFunc("", s.handleGetGroup).Methods(http.MethodGet)
	group.HandleFunc("/expenses", s.handleListExpenses).Methods(http.MethodGet)
	group.HandleFunc("/expenses", s.handleCreateExpense).Methods(http.MethodPost)
	group.HandleFunc("/expenses/settle", s.handleSettleExpenses).Methods(http.MethodPost)
	group.HandleFunc("/expenses/{eid}", s.handleDeleteExpense).Methods(http.MethodDelete)
	group.HandleFunc("/balances", s.handleBalances).Methods(http.MethodGet)
	group.HandleFunc("/settlements", s.handleSettlements).Methods(http.MethodGet)
	group.HandleFunc("/balance-data", s.handleBalanceData).Methods(http.MethodGet)
	group.HandleFunc("/export.csv", s.handleExportCSV).Methods(http.MethodGet)

	var h http.Handler = router
	h = s.detector.Middleware(s.logger)(h)
	h = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(h)
	h = cors.New(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", trace.HeaderRequestID},
		ExposedHeaders:   []string{trace.HeaderRequestID, "Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           600,
	}).Handler(h)
	return h
}

// observe feeds request metrics labelled by route template, never by raw
// path, to keep label cardinality bounded.
func (s *Server) observe(r *http.Request, status int, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	route := "unmatched"
	if cur := mux.CurrentRoute(r); cur != nil {
		if tpl, err := cur.GetPathTemplate(); err == nil {
			route = tpl
		}
	}
	s.metrics.ObserveHTTP(r.Method, route, status, elapsed)
}

// rateKey limits authenticated callers by user, everyone else by IP. The
// limiter runs before authentication, so the token is only peeked at here.
func (s *Server) rateKey(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if ok && strings.EqualFold(scheme, "Bearer") {
		if c, err := s.issuer.Verify(strings.TrimSpace(token)); err == nil {
			return "user:" + c.UserID
		}
	}
	return "ip:" + s.detector.ExtractClientIP(r)
}

func (s *Server) onRateLimited(w http.ResponseWriter, r *http.Request) {
	s.logger.WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldClientIP, s.detector.ExtractClientIP(r),
		log.FieldMethod, r.Method,
		log.FieldPath, r.URL.Path)
	ErrorResponse(r, http.StatusTooManyRequests, "rate limit exceeded, try again later").Write(w)
}

// Shutdown stops the rate limiter and drains the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func allowOnly(methods ...string) http.HandlerFunc {
	allow := strings.Join(methods, ", ")
	return func(w http.ResponseWriter, r *http.Request) {
		ErrorResponse(r, http.StatusMethodNotAllowed, "method not allowed").
			Header("Allow", allow).
			Write(w)
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReady checks the store.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.readyTimeout)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.WarnContext(ctx, "Readiness check failed", log.FieldError, err.Error())
		ErrorResponse(r, http.StatusServiceUnavailable, "store unavailable").Write(w)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func currentUser(r *http.Request) string {
	return auth.UserID(r.Context())
}

func requestID(r *http.Request) string {
	if r == nil {
		return ""
	}
	return trace.FromRequest(r)
}
