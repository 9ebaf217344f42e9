// Package adminapi is the thin admin-surface router. Entity CRUD is a
// pass-through to the store plus an on-demand sync; all policy lives in
// the core packages. The cluster-status read surface lives here too.
package adminapi

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dobrevit/formwaf/internal/config"
	"github.com/dobrevit/formwaf/internal/coordinator"
	"github.com/dobrevit/formwaf/internal/dag"
	"github.com/dobrevit/formwaf/internal/httputil"
	"github.com/dobrevit/formwaf/internal/logging"
	"github.com/dobrevit/formwaf/internal/middleware"
	"github.com/dobrevit/formwaf/internal/model"
	"github.com/dobrevit/formwaf/internal/serviceauth"
	"github.com/dobrevit/formwaf/internal/store"
	"github.com/dobrevit/formwaf/internal/syncer"
	"github.com/dobrevit/formwaf/internal/werrors"
)

// Deps bundles the admin surface's collaborators.
type Deps struct {
	Store  *store.Client
	Syncer *syncer.Worker
	Coord  *coordinator.Coordinator
	Auth   *serviceauth.Signer
	Logger *logging.Logger
}

// Router builds the admin router.
func Router(deps Deps) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.Tracing())
	r.Use(middleware.RequestLogging(deps.Logger))
	if deps.Auth != nil {
		r.Use(deps.Auth.Middleware())
	}

	h := &handlers{deps: deps}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/vhosts", func(r chi.Router) {
			r.Get("/", h.listVhosts)
			r.Put("/{id}", h.putVhost)
			r.Delete("/{id}", h.deleteVhost)
		})
		r.Route("/endpoints", func(r chi.Router) {
			r.Put("/{id}", h.putEndpoint)
			r.Delete("/{id}", h.deleteEndpoint)
		})
		r.Route("/profiles", func(r chi.Router) {
			r.Get("/", h.listProfiles)
			r.Put("/{id}", h.putProfile)
			r.Delete("/{id}", h.deleteProfile)
			r.Post("/validate", h.validateProfile)
		})
		r.Route("/signatures", func(r chi.Router) {
			r.Get("/", h.listSignatures)
			r.Put("/{id}", h.putSignature)
			r.Delete("/{id}", h.deleteSignature)
		})
		r.Post("/sync", h.syncNow)
		r.Get("/export", h.export)
		r.Post("/import", h.importBundle)
		r.Get("/cluster/status", h.clusterStatus)
	})

	return r
}

type handlers struct {
	deps Deps
}

// syncAfterWrite triggers an immediate cache refresh so the admin sees
// its own writes on this instance without waiting an interval.
func (h *handlers) syncAfterWrite(r *http.Request) {
	if h.deps.Syncer == nil {
		return
	}
	if err := h.deps.Syncer.SyncNow(r.Context()); err != nil {
		h.deps.Logger.WithComponent("adminapi").WithError(err).Warn("Post-write sync failed")
	}
}

func decodeBody(r *http.Request, dst interface{}) error {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return werrors.Validation("unreadable request body", nil)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return werrors.Validation("malformed JSON body", []string{"body"})
	}
	return nil
}

func (h *handlers) listVhosts(w http.ResponseWriter, r *http.Request) {
	vhosts, err := h.deps.Store.ListVhosts(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, vhosts)
}

func (h *handlers) putVhost(w http.ResponseWriter, r *http.Request) {
	var v model.Vhost
	if err := decodeBody(r, &v); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	v.ID = chi.URLParam(r, "id")
	if err := h.deps.Store.PutVhost(r.Context(), &v); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	h.syncAfterWrite(r)
	httputil.WriteJSON(w, http.StatusOK, v)
}

func (h *handlers) deleteVhost(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Store.DeleteVhost(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	h.syncAfterWrite(r)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) putEndpoint(w http.ResponseWriter, r *http.Request) {
	var e model.Endpoint
	if err := decodeBody(r, &e); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	e.ID = chi.URLParam(r, "id")
	if err := h.deps.Store.PutEndpoint(r.Context(), &e); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	h.syncAfterWrite(r)
	httputil.WriteJSON(w, http.StatusOK, e)
}

func (h *handlers) deleteEndpoint(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Store.DeleteEndpoint(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	h.syncAfterWrite(r)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) listProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.deps.Store.ListProfiles(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, profiles)
}

// putProfile validates the graph before persisting; a graph that fails
// validation is rejected with the per-path error list.
func (h *handlers) putProfile(w http.ResponseWriter, r *http.Request) {
	var p model.DefenseProfile
	if err := decodeBody(r, &p); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	p.ID = chi.URLParam(r, "id")
	if errs := dag.Validate(&p.Graph); len(errs) > 0 {
		httputil.WriteError(w, r, werrors.Validation("profile graph failed validation", errs))
		return
	}
	if err := h.deps.Store.PutProfile(r.Context(), &p); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	h.syncAfterWrite(r)
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *handlers) deleteProfile(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Store.DeleteProfile(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	h.syncAfterWrite(r)
	w.WriteHeader(http.StatusNoContent)
}

// validateProfile dry-runs graph validation without persisting.
func (h *handlers) validateProfile(w http.ResponseWriter, r *http.Request) {
	var p model.DefenseProfile
	if err := decodeBody(r, &p); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	errs := dag.Validate(&p.Graph)
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"valid":  len(errs) == 0,
		"errors": errs,
	})
}

func (h *handlers) listSignatures(w http.ResponseWriter, r *http.Request) {
	sigs, err := h.deps.Store.ListSignatures(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sigs)
}

func (h *handlers) putSignature(w http.ResponseWriter, r *http.Request) {
	var s model.AttackSignature
	if err := decodeBody(r, &s); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	s.ID = chi.URLParam(r, "id")
	if err := h.deps.Store.PutSignature(r.Context(), &s); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	h.syncAfterWrite(r)
	httputil.WriteJSON(w, http.StatusOK, s)
}

func (h *handlers) deleteSignature(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Store.DeleteSignature(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	h.syncAfterWrite(r)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) syncNow(w http.ResponseWriter, r *http.Request) {
	if h.deps.Syncer == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := h.deps.Syncer.SyncNow(r.Context()); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) export(w http.ResponseWriter, r *http.Request) {
	bundle, err := config.Export(r.Context(), h.deps.Store)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, bundle)
}

func (h *handlers) importBundle(w http.ResponseWriter, r *http.Request) {
	var bundle config.ExportBundle
	if err := decodeBody(r, &bundle); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if err := config.Import(r.Context(), h.deps.Store, &bundle); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	h.syncAfterWrite(r)
	w.WriteHeader(http.StatusNoContent)
}

// ClusterStatus is the read-only cluster view.
type ClusterStatus struct {
	Leader        string                  `json:"leader"`
	ThisInstance  string                  `json:"this_instance"`
	IsLeader      bool                    `json:"is_leader"`
	Instances     []*model.InstanceRecord `json:"instances"`
	Metrics       map[string]float64      `json:"metrics"`
	MetricsAsOf   int64                   `json:"metrics_as_of"`
	MetricsStale  bool                    `json:"metrics_stale"`
}

func (h *handlers) clusterStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	leader, err := h.deps.Store.CurrentLeader(ctx)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	instances, err := h.deps.Store.ListInstances(ctx)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	counters, updated, err := h.deps.Store.ReadGlobalCounters(ctx)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	status := ClusterStatus{
		Leader:       leader,
		Instances:    instances,
		Metrics:      counters,
		MetricsAsOf:  updated,
		MetricsStale: updated == 0 || time.Since(time.Unix(updated, 0)) > 2*time.Minute,
	}
	if h.deps.Coord != nil {
		status.ThisInstance = h.deps.Coord.InstanceIDValue()
		status.IsLeader = h.deps.Coord.IsLeader()
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}
