package adminapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/ppmgo/ppm/internal/acme"
	"github.com/ppmgo/ppm/internal/model"
)

type certificateDTO struct {
	ID            string `json:"id"`
	Domain        string `json:"domain"`
	ExpiresAt     int64  `json:"expires_at"`
	DNSProviderID string `json:"dns_provider_id,omitempty"`
}

func certToDTO(c model.Certificate) certificateDTO {
	return certificateDTO{ID: c.ID, Domain: c.Domain, ExpiresAt: c.ExpiresAt, DNSProviderID: c.DNSProviderID}
}

func (s *Server) handleListCertificates(w http.ResponseWriter, r *http.Request) {
	full, err := s.store.ReadAll(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]certificateDTO, 0, len(full.Certificates))
	for _, c := range full.Certificates {
		out = append(out, certToDTO(c))
	}
	writeJSON(w, http.StatusOK, out)
}

type certificateRequest struct {
	Domain        string `json:"domain"`
	ContactEmail  string `json:"contact_email"`
	DNSProviderID string `json:"dns_provider_id,omitempty"`
}

// handleRequestCertificate enqueues an issuance/renewal job for the ACME
// Worker. Issuance runs out-of-band; this only confirms the job was
// accepted.
func (s *Server) handleRequestCertificate(w http.ResponseWriter, r *http.Request) {
	var req certificateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Domain == "" {
		writeJSONError(w, http.StatusBadRequest, "domain is required")
		return
	}
	job := acme.Job{
		Domain:        model.NormalizeDomain(req.Domain),
		ContactEmail:  req.ContactEmail,
		DNSProviderID: req.DNSProviderID,
	}
	s.acmeQueue.Enqueue(job)

	audit := s.auditEvent(r, "request", "certificate", job.Domain, "")
	_ = s.store.AppendAuditEvent(r.Context(), audit)
	s.reconcileOrWarn(r)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "domain": job.Domain})
}

type dnsProviderRequest struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	CredINI string `json:"cred_ini"`
}

func dnsProviderToDTO(p model.DNSProvider) dnsProviderRequest {
	// cred_ini withheld: it carries the provider's API credentials.
	return dnsProviderRequest{ID: p.ID, Name: p.Name, Type: p.Type}
}

func (s *Server) handleListDNSProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := s.store.ListDNSProviders(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]dnsProviderRequest, 0, len(providers))
	for _, p := range providers {
		out = append(out, dnsProviderToDTO(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateDNSProvider(w http.ResponseWriter, r *http.Request) {
	var req dnsProviderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ID == "" || req.Type == "" {
		writeJSONError(w, http.StatusBadRequest, "id and type are required")
		return
	}
	p := model.DNSProvider{ID: req.ID, Name: req.Name, Type: req.Type, CredINI: req.CredINI}

	audit := s.auditEvent(r, "create", "dns_provider", p.ID, "")
	if err := s.store.UpsertDNSProvider(r.Context(), p, audit); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.reconcileOrWarn(r)
	writeJSON(w, http.StatusCreated, dnsProviderToDTO(p))
}

func (s *Server) handleDeleteDNSProvider(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	audit := s.auditEvent(r, "delete", "dns_provider", id, "")
	if err := s.store.DeleteDNSProvider(r.Context(), id, audit); err != nil {
		writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	s.reconcileOrWarn(r)
	w.WriteHeader(http.StatusNoContent)
}
