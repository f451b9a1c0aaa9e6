package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gatewatch/gatewatch/internal/client"
	"github.com/gatewatch/gatewatch/internal/models"
	pkghttp "github.com/gatewatch/gatewatch/pkg/http"
	pkglogger "github.com/gatewatch/gatewatch/pkg/logger"
)

// FleetRegistrar adds a member to the ring and transport registry.
type FleetRegistrar interface {
	RegisterHost(host *models.RemoteHost, transport client.Transport, weight float64) error
}

// HostLister snapshots the current fleet membership.
type HostLister interface {
	Hosts() []*models.RemoteHost
}

// AdminHandler handles fleet membership requests
type AdminHandler struct {
	registrar FleetRegistrar
	lister    HostLister
	audit     *pkglogger.AuditLogger
	logger    *slog.Logger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(registrar FleetRegistrar, lister HostLister, audit *pkglogger.AuditLogger, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{registrar: registrar, lister: lister, audit: audit, logger: logger}
}

// AddHostRequest represents the request body for registering a fleet member
type AddHostRequest struct {
	ID     string  `json:"id" validate:"required,min=1,max=128"`
	URL    string  `json:"url" validate:"required,url"`
	Weight float64 `json:"weight" validate:"gte=0"`
}

// HostResponse represents one fleet member
type HostResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// AddHost registers a new fleet member. Membership is append-only from
// this surface; removing a host re-shards accounts and stays a
// deliberate operator action outside the API.
func (h *AdminHandler) AddHost(w http.ResponseWriter, r *http.Request) {
	var req AddHostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "invalid host body")
		return
	}
	if err := ValidateRequest(&req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	host := &models.RemoteHost{ID: req.ID, URL: req.URL}
	transport := client.NewHTTPTransport(*host, nil)

	if err := h.registrar.RegisterHost(host, transport, req.Weight); err != nil {
		if errors.Is(err, models.ErrConflict) {
			pkghttp.WriteConflict(w, "host already registered")
			return
		}
		if errors.Is(err, models.ErrBadRequest) {
			pkghttp.WriteBadRequest(w, err.Error())
			return
		}
		h.logger.Error("failed to register host",
			slog.String("host_id", req.ID),
			slog.Any("error", err))
		pkghttp.WriteInternalError(w, "failed to register host")
		return
	}

	h.audit.LogHostChange("host_added", req.ID, req.URL)
	pkghttp.WriteJSON(w, http.StatusCreated, HostResponse{ID: req.ID, URL: req.URL})
}

// ListHosts returns the current fleet membership.
func (h *AdminHandler) ListHosts(w http.ResponseWriter, r *http.Request) {
	hosts := h.lister.Hosts()

	out := make([]HostResponse, 0, len(hosts))
	for _, host := range hosts {
		out = append(out, HostResponse{ID: host.ID, URL: host.URL})
	}
	pkghttp.WriteJSON(w, http.StatusOK, out)
}
