package proxy

import (
	"net/http"

	"github.com/awenger/anthropic-oauth-proxy/internal/openaiadapter"
)

// modelsHandler serves a static, configuration-driven model listing.
// The upstream /v1/models endpoint doesn't support OAuth authentication,
// so a local list is served to enable model selection in clients.
func modelsHandler(ids []string) http.HandlerFunc {
	list := openaiadapter.ModelList{
		Object: "list",
		Data:   make([]openaiadapter.Model, 0, len(ids)),
	}
	for _, id := range ids {
		list.Data = append(list.Data, openaiadapter.Model{
			ID:      id,
			Object:  "model",
			OwnedBy: "anthropic",
		})
	}

	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(r.Context(), w, list, http.StatusOK)
	}
}
