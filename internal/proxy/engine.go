// Package proxy is the HTTP(S) Proxy Engine and ordered Filter Chain
//: ACME challenge, trusted-proxy header normalization, access
// control, force-HTTPS, redirect, location match, then upstream dispatch.
package proxy

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"

	"github.com/ppmgo/ppm/internal/acme"
	"github.com/ppmgo/ppm/internal/model"
	"github.com/ppmgo/ppm/internal/snapshot"
	"github.com/ppmgo/ppm/internal/stats"
)

// Engine is the http.Handler installed on both the plain-HTTP and TLS
// listeners.
type Engine struct {
	publisher *snapshot.Publisher
	tokens    *acme.TokenStore
	collector *stats.Collector
	pool      *transportPool
	logger    *slog.Logger
}

// New builds an Engine. tokens must be the same TokenStore the ACME Worker
// writes HTTP-01 challenges into.
func New(publisher *snapshot.Publisher, tokens *acme.TokenStore, collector *stats.Collector, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		publisher: publisher,
		tokens:    tokens,
		collector: collector,
		pool:      newTransportPool(),
		logger:    logger,
	}
}

func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	defer func() { e.collector.Record(rec.bytes, rec.status) }()

	if serveACMEChallenge(rec, r, e.tokens) {
		return
	}

	snap := e.publisher.Current()
	errorPage := snap.Settings().ErrorPageHTML

	clientIP, effScheme, peerIP := normalizeTrustedProxy(r, snap.Settings().TrustedProxyIPs)

	hostKey := hostKeyFor(r)
	host, ok := snap.Host(hostKey)
	if !ok {
		writeError(rec, errorPage, http.StatusNotFound)
		return
	}

	if host.HasAccessList {
		al, exists := snap.AccessList(host.AccessListID)
		if exists {
			if status, rejected := accessControlFilter(r, rec, al, clientIP); rejected {
				writeError(rec, errorPage, status)
				return
			}
		}
	}

	if host.SSLForced && effScheme == "http" {
		rec.Header().Set("Location", "https://"+hostKey+r.URL.RequestURI())
		rec.WriteHeader(http.StatusMovedPermanently)
		return
	}

	if host.RedirectTo != "" {
		code := host.RedirectCode
		if code == 0 {
			code = http.StatusFound
		}
		rec.Header().Set("Location", host.RedirectTo)
		rec.WriteHeader(code)
		return
	}

	upstreams, scheme, sni, verify, path := resolveRoute(host, r.URL.Path)
	if len(upstreams) == 0 {
		writeError(rec, errorPage, http.StatusBadGateway)
		return
	}
	endpoint := upstreams[rand.Intn(len(upstreams))]

	e.forward(rec, r, host, scheme, endpoint, sni, verify, path, peerIP, effScheme, hostKey, errorPage)
}

// resolveRoute picks the longest matching location plus optional rewrite.
func resolveRoute(host model.Host, requestPath string) (upstreams []model.Endpoint, scheme model.Scheme, sni string, verify bool, path string) {
	upstreams, scheme, sni, verify, path = host.Upstreams, host.Scheme, host.UpstreamSNI, host.Verify(), requestPath

	loc, matched := matchLocation(host, requestPath)
	if !matched {
		return upstreams, scheme, sni, verify, path
	}
	upstreams, scheme, sni, verify = loc.Upstreams, loc.Scheme, loc.UpstreamSNI, loc.Verify()
	if loc.Rewrite {
		path = rewritePath(requestPath, loc.Path)
	}
	return upstreams, scheme, sni, verify, path
}

func (e *Engine) forward(w http.ResponseWriter, r *http.Request, host model.Host, scheme model.Scheme, endpoint model.Endpoint, sni string, verify bool, path, peerIP, effScheme, hostKey, errorPage string) {
	transport := e.pool.get(scheme, endpoint, sni, verify)
	target := &url.URL{Scheme: string(scheme), Host: endpoint.String()}

	rp := &httputil.ReverseProxy{
		Transport: transport,
		Director: func(req *http.Request) {
			req.URL.Scheme = target.Scheme
			req.URL.Host = target.Host
			req.URL.Path = path
			applyRequestHeaderRules(req, host.Headers)
			setForwardedHeaders(req, peerIP, effScheme, hostKey)
			stripHopByHopHeaders(req.Header)
		},
		ModifyResponse: func(resp *http.Response) error {
			stripHopByHopHeaders(resp.Header)
			applyResponseHeaderRules(resp, host.Headers)
			return nil
		},
		ErrorHandler: func(rw http.ResponseWriter, req *http.Request, err error) {
			status := http.StatusBadGateway
			if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
				status = http.StatusGatewayTimeout
			}
			e.logger.Warn("upstream dispatch failed", "host", hostKey, "endpoint", endpoint.String(), "error", err)
			writeError(rw, errorPage, status)
		},
	}

	ctx, cancel := context.WithTimeout(r.Context(), totalDeadline)
	defer cancel()
	rp.ServeHTTP(w, r.WithContext(ctx))
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, os.ErrDeadlineExceeded)
}
