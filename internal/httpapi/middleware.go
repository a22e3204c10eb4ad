// Package httpapi is the hub's REST surface: event ingest and replay,
// registry views, synchronous agent dispatch, and journey control.
package httpapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// DefaultTenant applies when the caller sends no X-Tenant header.
const DefaultTenant = "system"

// tenantFromRequest resolves the caller's tenant. Header lookup is
// case-insensitive; the resolved tenant is echoed on the response.
func tenantFromRequest(w http.ResponseWriter, r *http.Request) string {
	tenant := r.Header.Get("X-Tenant")
	if tenant == "" {
		tenant = DefaultTenant
	}
	w.Header().Set("X-Tenant", tenant)
	return tenant
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warn("Failed to write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func decodeBody(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}
