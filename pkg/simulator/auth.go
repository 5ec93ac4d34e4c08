package simulator

import (
	"crypto/subtle"
	"net/http"

	"github.com/bart-jansen/aoai-simulated-api/pkg/httputil"
)

// Credential carriers checked by authorize, in precedence order.
const (
	HeaderAuthorization   = "Authorization"
	HeaderAPIKey          = "api-key"
	HeaderSubscriptionKey = "ocp-apim-subscription-key"
)

// authorize validates the request credentials against the three accepted
// carriers. A non-empty Authorization header is trusted unconditionally
// (validation of bearer tokens is delegated to the gateway in front of the
// real service, and the simulator mirrors that). The api-key and
// ocp-apim-subscription-key headers must match the configured secret; the
// comparison is constant time.
func (h *Handler) authorize(r *http.Request) bool {
	if r.Header.Get(HeaderAuthorization) != "" {
		h.log.Debug("bearer credential provided", "path", r.URL.Path)
		return true
	}

	secret := []byte(h.cfg.APIKey)
	if key := r.Header.Get(HeaderAPIKey); key != "" {
		if subtle.ConstantTimeCompare([]byte(key), secret) == 1 {
			return true
		}
	}
	if key := r.Header.Get(HeaderSubscriptionKey); key != "" {
		if subtle.ConstantTimeCompare([]byte(key), secret) == 1 {
			return true
		}
	}

	h.log.Warn("missing or incorrect API key", "path", r.URL.Path)
	return false
}

// writeUnauthorized sends the 401 the real service's gateway produces.
func writeUnauthorized(w http.ResponseWriter) {
	httputil.WriteDetail(w, http.StatusUnauthorized, "Missing or incorrect API Key")
}
