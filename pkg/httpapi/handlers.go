package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/idbridge/idbridge/pkg/authn"
	"github.com/idbridge/idbridge/pkg/observability"
	"github.com/idbridge/idbridge/pkg/saml"
)

// Handlers handles the SAML authentication and provider admin routes
type Handlers struct {
	orch     *authn.Orchestrator
	registry *saml.Registry
	storage  *saml.Storage
	baseURL  string
	logger   *observability.Logger
}

// NewHandlers creates the HTTP handlers
func NewHandlers(orch *authn.Orchestrator, registry *saml.Registry, storage *saml.Storage,
	baseURL string, logger *observability.Logger) *Handlers {
	return &Handlers{
		orch:     orch,
		registry: registry,
		storage:  storage,
		baseURL:  baseURL,
		logger:   logger,
	}
}

// RegisterRoutes registers all routes on the router
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	// Provider administration routes
	router.HandleFunc("/saml/providers", h.listProviders).Methods("GET")
	router.HandleFunc("/saml/providers", h.createProvider).Methods("POST")
	router.HandleFunc("/saml/providers/{name}", h.getProvider).Methods("GET")
	router.HandleFunc("/saml/providers/{name}", h.updateProvider).Methods("PUT")
	router.HandleFunc("/saml/providers/{name}", h.deleteProvider).Methods("DELETE")

	// Authentication routes
	router.HandleFunc("/auth/saml/{provider}/login", h.initiateLogin).Methods("GET")
	router.HandleFunc("/auth/saml/{provider}/acs", h.consumeAssertion).Methods("POST")

	// SP metadata endpoint
	router.HandleFunc("/saml/metadata/{provider}", h.getMetadata).Methods("GET")
}

// initiateLogin handles GET /auth/saml/{provider}/login
func (h *Handlers) initiateLogin(w http.ResponseWriter, r *http.Request) {
	config, ok := h.providerByName(w, r)
	if !ok {
		return
	}

	relayState := r.URL.Query().Get("RelayState")
	loginURL, err := h.registry.BuildLoginURL(r.Context(), config.ID, h.baseURL, relayState)
	if err != nil {
		if errors.Is(err, saml.ErrProviderNotFound) {
			http.Error(w, "provider not found", http.StatusNotFound)
			return
		}
		observability.FromContext(r.Context()).WithError(err).Error("failed to build login URL")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, loginURL, http.StatusFound)
}

// consumeAssertion handles POST /auth/saml/{provider}/acs. This is
// the assertion consumer service the IdP posts the SAMLResponse to.
func (h *Handlers) consumeAssertion(w http.ResponseWriter, r *http.Request) {
	config, ok := h.providerByName(w, r)
	if !ok {
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form body", http.StatusBadRequest)
		return
	}
	rawAssertion := r.FormValue("SAMLResponse")

	result, err := h.orch.Authenticate(r.Context(), config.ID, rawAssertion, h.baseURL)
	if err != nil {
		// Every failure is the same denial; details are in the logs.
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error": "access denied"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// getMetadata handles GET /saml/metadata/{provider}
func (h *Handlers) getMetadata(w http.ResponseWriter, r *http.Request) {
	config, ok := h.providerByName(w, r)
	if !ok {
		return
	}

	metadata, err := h.registry.Metadata(r.Context(), config.ID, h.baseURL)
	if err != nil {
		if errors.Is(err, saml.ErrProviderNotFound) {
			http.Error(w, "provider not found", http.StatusNotFound)
			return
		}
		observability.FromContext(r.Context()).WithError(err).Error("failed to build metadata")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/samlmetadata+xml")
	w.Write(metadata)
}

// listProviders handles GET /saml/providers
func (h *Handlers) listProviders(w http.ResponseWriter, r *http.Request) {
	enabledOnly := r.URL.Query().Get("enabled") == "true"

	providers, err := h.storage.ListProviders(r.Context(), enabledOnly)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(providers)
}

// createProvider handles POST /saml/providers
func (h *Handlers) createProvider(w http.ResponseWriter, r *http.Request) {
	var config saml.ProviderConfig
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	if err := saml.ValidateConfig(&config); err != nil {
		http.Error(w, fmt.Sprintf("invalid provider config: %v", err), http.StatusBadRequest)
		return
	}

	if _, err := h.storage.GetProviderByName(r.Context(), config.Name); err == nil {
		http.Error(w, "provider with this name already exists", http.StatusConflict)
		return
	} else if !errors.Is(err, saml.ErrProviderNotFound) {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := h.storage.CreateProvider(r.Context(), &config); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(config)
}

// getProvider handles GET /saml/providers/{name}
func (h *Handlers) getProvider(w http.ResponseWriter, r *http.Request) {
	config, ok := h.providerByName(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(config)
}

// updateProvider handles PUT /saml/providers/{name}
func (h *Handlers) updateProvider(w http.ResponseWriter, r *http.Request) {
	existing, ok := h.providerByName(w, r)
	if !ok {
		return
	}

	var config saml.ProviderConfig
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	config.ID = existing.ID
	config.Name = existing.Name // renames are not supported

	if err := saml.ValidateConfig(&config); err != nil {
		http.Error(w, fmt.Sprintf("invalid provider config: %v", err), http.StatusBadRequest)
		return
	}

	if err := h.storage.UpdateProvider(r.Context(), &config); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(config)
}

// deleteProvider handles DELETE /saml/providers/{name}
func (h *Handlers) deleteProvider(w http.ResponseWriter, r *http.Request) {
	config, ok := h.providerByName(w, r)
	if !ok {
		return
	}

	if err := h.storage.DeleteProvider(r.Context(), config.ID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// providerByName resolves the {provider} path variable, writing the
// error response itself when the lookup fails.
func (h *Handlers) providerByName(w http.ResponseWriter, r *http.Request) (*saml.ProviderConfig, bool) {
	name := mux.Vars(r)["provider"]
	if name == "" {
		name = mux.Vars(r)["name"]
	}

	config, err := h.storage.GetProviderByName(r.Context(), name)
	if errors.Is(err, saml.ErrProviderNotFound) {
		http.Error(w, "provider not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return nil, false
	}
	return config, true
}
