// Package acme is the ACME Worker: it issues and renews certificates
// by invoking an external certificate-issuance utility (certbot), never
// blocking the data plane's hot path while it does so.
package acme

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ppmgo/ppm/internal/certcache"
	"github.com/ppmgo/ppm/internal/model"
	"github.com/ppmgo/ppm/internal/snapshot"
	"github.com/ppmgo/ppm/internal/store"
)

// Job is a certificate-request job.
type Job struct {
	Domain        string
	ContactEmail  string
	DNSProviderID string // required if Domain is a wildcard
}

// Config bundles the Worker's tunables, sourced from internal/config.
type Config struct {
	CertbotPath       string
	DataDir           string
	DNSNameserver     string // "host:port", queried for the HTTP-01 preflight check
	InvocationTimeout time.Duration
	ChallengeTimeout  time.Duration
	RenewalWindow     time.Duration
	ScanInterval      time.Duration
}

// Worker runs ACME issuance/renewal jobs serially.
type Worker struct {
	cfg       Config
	store     *store.Store
	catalog   *certcache.Catalog
	publisher *snapshot.Publisher
	tokens    *TokenStore
	logger    *slog.Logger

	jobs chan Job
	wg   sync.WaitGroup
}

// New builds a Worker. tokens must be the same TokenStore the proxy's ACME
// filter reads from.
func New(cfg Config, st *store.Store, catalog *certcache.Catalog, publisher *snapshot.Publisher, tokens *TokenStore, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		cfg:       cfg,
		store:     st,
		catalog:   catalog,
		publisher: publisher,
		tokens:    tokens,
		logger:    logger,
		jobs:      make(chan Job, 64),
	}
}

// Enqueue submits a certificate-request job. Non-blocking; a full queue logs and
// drops, since the renewal scan will re-enqueue an unrenewed certificate on
// its next hourly pass.
func (w *Worker) Enqueue(job Job) {
	select {
	case w.jobs <- job:
	default:
		w.logger.Warn("acme job queue full, dropping job", "domain", job.Domain)
	}
}

// Run processes jobs serially until ctx is cancelled, and drives the hourly
// renewal scan. On shutdown the in-flight job is given
// the remaining invocation timeout to finish before
// Run returns.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-w.jobs:
			if ctx.Err() != nil {
				return
			}
			// Detached from ctx so shutdown does not kill the subprocess;
			// issue() still bounds it by InvocationTimeout.
			w.process(context.WithoutCancel(ctx), job)
		case <-ticker.C:
			w.scanForRenewals(ctx)
		}
	}
}

func (w *Worker) scanForRenewals(ctx context.Context) {
	snap, err := w.store.ReadAll(ctx)
	if err != nil {
		w.logger.Error("renewal scan: reading store failed", "error", err)
		return
	}
	now := time.Now().Unix()
	windowSecs := int64(w.cfg.RenewalWindow / time.Second)
	for _, cert := range snap.Certificates {
		if cert.ExpiresAt-now < windowSecs {
			w.Enqueue(Job{Domain: cert.Domain, DNSProviderID: cert.DNSProviderID})
		}
	}
}

func (w *Worker) process(ctx context.Context, job Job) {
	w.wg.Add(1)
	defer w.wg.Done()

	cert, err := w.issue(ctx, job)
	actor := "acme-worker"
	if err != nil {
		w.logger.Error("certificate issuance failed", "domain", job.Domain, "error", err)
		_ = w.store.AppendAuditEvent(ctx, model.AuditEvent{
			Actor: actor, Action: "certificate.issue_failed", ResourceType: "certificate", ResourceID: job.Domain, Detail: err.Error(),
		})
		return
	}

	if err := w.store.UpsertCertificate(ctx, cert); err != nil {
		w.logger.Error("storing issued certificate failed", "domain", job.Domain, "error", err)
		return
	}
	if err := w.catalog.Update(cert); err != nil {
		w.logger.Error("updating certificate catalog failed", "domain", job.Domain, "error", err)
	}
	_ = w.store.AppendAuditEvent(ctx, model.AuditEvent{
		Actor: actor, Action: "certificate.issued", ResourceType: "certificate", ResourceID: cert.ID,
	})
	if _, err := w.publisher.Reconcile(ctx); err != nil {
		w.logger.Error("post-issuance reconcile failed", "error", err)
	}
}

func (w *Worker) issue(ctx context.Context, job Job) (model.Certificate, error) {
	if strings.HasPrefix(job.Domain, "*.") && job.DNSProviderID == "" {
		return model.Certificate{}, fmt.Errorf("wildcard domain %s requires a dns provider", job.Domain)
	}

	certName := sanitizeCertName(job.Domain)
	args := []string{
		"certonly", "--non-interactive", "--agree-tos", "--cert-name", certName,
		"-d", job.Domain,
	}
	if job.ContactEmail != "" {
		args = append(args, "-m", job.ContactEmail)
	} else {
		args = append(args, "--register-unsafely-without-email")
	}

	var cleanup func()
	if job.DNSProviderID != "" {
		provider, err := w.store.GetDNSProvider(ctx, job.DNSProviderID)
		if err != nil {
			return model.Certificate{}, fmt.Errorf("loading dns provider %s: %w", job.DNSProviderID, err)
		}
		credPath, err := writeCredentialFile(provider)
		if err != nil {
			return model.Certificate{}, err
		}
		cleanup = func() { os.Remove(credPath) }
		propagationSecs := int(w.cfg.ChallengeTimeout / time.Second)
		args = append(args,
			fmt.Sprintf("--dns-%s", provider.Type),
			fmt.Sprintf("--dns-%s-credentials", provider.Type), credPath,
			fmt.Sprintf("--dns-%s-propagation-seconds", provider.Type), fmt.Sprintf("%d", propagationSecs),
		)
	} else {
		if err := preflightResolves(ctx, job.Domain, w.cfg.DNSNameserver); err != nil {
			return model.Certificate{}, err
		}
		args = append(args, "--webroot", "-w", w.tokens.Dir())
	}
	if cleanup != nil {
		defer cleanup()
	}

	runCtx, cancel := context.WithTimeout(ctx, w.cfg.InvocationTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, w.cfg.CertbotPath, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return model.Certificate{}, fmt.Errorf("certbot invocation failed: %w: %s", err, strings.TrimSpace(out.String()))
	}

	chainPath := filepath.Join("/etc/letsencrypt/live", certName, "fullchain.pem")
	keyPath := filepath.Join("/etc/letsencrypt/live", certName, "privkey.pem")
	chainPEM, err := os.ReadFile(chainPath)
	if err != nil {
		return model.Certificate{}, fmt.Errorf("reading issued chain: %w", err)
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return model.Certificate{}, fmt.Errorf("reading issued key: %w", err)
	}

	expiresAt, err := leafExpiry(chainPEM)
	if err != nil {
		return model.Certificate{}, fmt.Errorf("parsing issued certificate: %w", err)
	}

	id := uuid.NewString()
	if err := materializeCertDir(w.cfg.DataDir, id, chainPEM, keyPEM); err != nil {
		return model.Certificate{}, err
	}

	return model.Certificate{
		ID:            id,
		Domain:        job.Domain,
		ChainPEM:      chainPEM,
		KeyPEM:        keyPEM,
		ExpiresAt:     expiresAt,
		DNSProviderID: job.DNSProviderID,
	}, nil
}

func leafExpiry(chainPEM []byte) (int64, error) {
	block, _ := pem.Decode(chainPEM)
	if block == nil {
		return 0, fmt.Errorf("no PEM block found")
	}
	leaf, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return 0, err
	}
	return leaf.NotAfter.Unix(), nil
}

func materializeCertDir(dataDir, id string, chainPEM, keyPEM []byte) error {
	dir := filepath.Join(dataDir, "certs", id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating cert directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "fullchain.pem"), chainPEM, 0o644); err != nil {
		return fmt.Errorf("writing fullchain.pem: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "privkey.pem"), keyPEM, 0o600); err != nil {
		return fmt.Errorf("writing privkey.pem: %w", err)
	}
	return nil
}

func sanitizeCertName(domain string) string {
	return strings.ReplaceAll(domain, "*", "wildcard")
}
