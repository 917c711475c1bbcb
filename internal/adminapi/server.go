// Package adminapi is the admin JSON API: the operator-facing
// mutation path into the Persistent Store. Every write persists in a single
// transaction, appends an Audit Event, and triggers a Publisher reconcile
// before returning success.
package adminapi

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ppmgo/ppm/internal/acme"
	"github.com/ppmgo/ppm/internal/snapshot"
	"github.com/ppmgo/ppm/internal/stats"
	"github.com/ppmgo/ppm/internal/store"
)

// Server wires the Persistent Store, Publisher, ACME Worker, and Statistics
// Collector behind the admin HTTP surface.
type Server struct {
	store     *store.Store
	publisher *snapshot.Publisher
	acmeQueue *acme.Worker
	stats     *stats.Collector
	promColl  *stats.PrometheusCollector
	jwtSecret string
	logDir    string
	logger    *slog.Logger

	router *mux.Router
}

// New builds the admin API Server and its routes. logDir is the directory
// holding access.log, read back by GET /api/logs.
func New(st *store.Store, publisher *snapshot.Publisher, acmeQueue *acme.Worker, collector *stats.Collector, jwtSecret, logDir string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:     st,
		publisher: publisher,
		acmeQueue: acmeQueue,
		stats:     collector,
		promColl:  stats.NewPrometheusCollector(collector),
		jwtSecret: jwtSecret,
		logDir:    logDir,
		logger:    logger,
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) routes() {
	r := mux.NewRouter()

	r.HandleFunc("/api/login", s.handleLogin).Methods(http.MethodPost)

	r.HandleFunc("/api/hosts", s.requireAuth(s.handleListHosts)).Methods(http.MethodGet)
	r.HandleFunc("/api/hosts", s.requireAuth(s.handleCreateHost)).Methods(http.MethodPost)
	r.HandleFunc("/api/hosts/{domain}", s.requireAuth(s.handleUpdateHost)).Methods(http.MethodPut)
	r.HandleFunc("/api/hosts/{domain}", s.requireAuth(s.handleDeleteHost)).Methods(http.MethodDelete)
	r.HandleFunc("/api/hosts/{domain}/locations", s.requireAuth(s.handleCreateLocation)).Methods(http.MethodPost)
	r.HandleFunc("/api/hosts/{domain}/locations", s.requireAuth(s.handleDeleteLocation)).Methods(http.MethodDelete)
	r.HandleFunc("/api/hosts/{domain}/headers", s.requireAuth(s.handleCreateHeaderRule)).Methods(http.MethodPost)
	r.HandleFunc("/api/hosts/{domain}/headers/{id}", s.requireAuth(s.handleDeleteHeaderRule)).Methods(http.MethodDelete)

	r.HandleFunc("/api/streams", s.requireAuth(s.handleListStreams)).Methods(http.MethodGet)
	r.HandleFunc("/api/streams", s.requireAuth(s.handleCreateStream)).Methods(http.MethodPost)
	r.HandleFunc("/api/streams/{listen_port}", s.requireAuth(s.handleDeleteStream)).Methods(http.MethodDelete)

	r.HandleFunc("/api/access-lists", s.requireAuth(s.handleListAccessLists)).Methods(http.MethodGet)
	r.HandleFunc("/api/access-lists", s.requireAuth(s.handleCreateAccessList)).Methods(http.MethodPost)
	r.HandleFunc("/api/access-lists/{id}", s.requireAuth(s.handleDeleteAccessList)).Methods(http.MethodDelete)
	r.HandleFunc("/api/access-lists/{id}/clients", s.requireAuth(s.handleCreateClientCredential)).Methods(http.MethodPost)
	r.HandleFunc("/api/access-lists/{id}/clients/{username}", s.requireAuth(s.handleDeleteClientCredential)).Methods(http.MethodDelete)
	r.HandleFunc("/api/access-lists/{id}/ips", s.requireAuth(s.handleCreateIPRule)).Methods(http.MethodPost)
	r.HandleFunc("/api/access-lists/{id}/ips", s.requireAuth(s.handleDeleteIPRule)).Methods(http.MethodDelete)

	r.HandleFunc("/api/certs", s.requireAuth(s.handleListCertificates)).Methods(http.MethodGet)
	r.HandleFunc("/api/certs", s.requireAuth(s.handleRequestCertificate)).Methods(http.MethodPost)
	r.HandleFunc("/api/dns-providers", s.requireAuth(s.handleListDNSProviders)).Methods(http.MethodGet)
	r.HandleFunc("/api/dns-providers", s.requireAuth(s.handleCreateDNSProvider)).Methods(http.MethodPost)
	r.HandleFunc("/api/dns-providers/{id}", s.requireAuth(s.handleDeleteDNSProvider)).Methods(http.MethodDelete)

	r.HandleFunc("/api/users", s.requireAuth(s.handleListUsers)).Methods(http.MethodGet)
	r.HandleFunc("/api/users", s.requireAuth(s.handleCreateUser)).Methods(http.MethodPost)
	r.HandleFunc("/api/users/me", s.requireAuth(s.handleGetMe)).Methods(http.MethodGet)
	r.HandleFunc("/api/users/me/password", s.requireAuth(s.handleChangeMyPassword)).Methods(http.MethodPut)
	r.HandleFunc("/api/users/{id}", s.requireAuth(s.handleUpdateUser)).Methods(http.MethodPut)
	r.HandleFunc("/api/users/{id}", s.requireAuth(s.handleDeleteUser)).Methods(http.MethodDelete)

	r.HandleFunc("/api/audit-logs", s.requireAuth(s.handleAuditLogs)).Methods(http.MethodGet)

	r.HandleFunc("/api/stats/realtime", s.requireAuth(s.handleStatsRealtime)).Methods(http.MethodGet)
	r.HandleFunc("/api/stats/history", s.requireAuth(s.handleStatsHistory)).Methods(http.MethodGet)

	r.HandleFunc("/api/logs", s.requireAuth(s.handleTailLogs)).Methods(http.MethodGet)

	r.HandleFunc("/api/settings/error-page", s.requireAuth(s.handleGetErrorPage)).Methods(http.MethodGet)
	r.HandleFunc("/api/settings/error-page", s.requireAuth(s.handleSetErrorPage)).Methods(http.MethodPost)

	r.Handle("/metrics", promhttp.HandlerFor(prometheusGatherer(s.promColl), promhttp.HandlerOpts{}))

	s.router = r
}
