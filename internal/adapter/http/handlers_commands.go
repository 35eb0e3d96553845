package http

import (
	"net/http"

	"github.com/Strob0t/stratos/internal/domain/command"
)

type commandsResponse struct {
	Builtin []command.Definition `json:"builtin"`
	AI      []command.Definition `json:"ai"`
}

// ListCommands handles GET /api/v1/commands.
func (h *Handlers) ListCommands(w http.ResponseWriter, _ *http.Request) {
	res := h.Tasks.Resolver()
	writeJSON(w, http.StatusOK, commandsResponse{Builtin: res.Builtins().List(), AI: res.AI().List()})
}

// ListAICommands handles GET /api/v1/commands/ai.
func (h *Handlers) ListAICommands(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Tasks.Resolver().AI().List())
}

// GetCommand handles GET /api/v1/commands/{name}. Builtins shadow AI
// commands of the same name.
func (h *Handlers) GetCommand(w http.ResponseWriter, r *http.Request) {
	name := urlParam(r, "name")
	res := h.Tasks.Resolver()
	if def, ok := res.Builtins().Lookup(name); ok {
		writeJSON(w, http.StatusOK, def)
		return
	}
	if def, ok := res.AI().Lookup(name); ok {
		writeJSON(w, http.StatusOK, def)
		return
	}
	writeError(w, http.StatusNotFound, "command not found")
}
