package api

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/prometheus/common/version"
)

// StatusHandler renders a human-readable operator status page: build
// version plus a table of every registered agent, modeled on the
// teacher's cmd/tempo-federated-querier/handler/status.go (StatusHandler /
// writeStatusEndpoints).
func (h *Handler) StatusHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	fmt.Fprintf(w, "saimiris-gateway %s\n\n", version.Info())

	agents := h.registry.List()
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"agent_id", "healthy", "configs", "last_seen"})
	for _, a := range agents {
		t.AppendRows([]table.Row{
			{a.ID, a.Health.Healthy, len(a.Configs), a.LastSeen.UTC().Format("2006-01-02T15:04:05Z")},
		})
	}
	t.AppendSeparator()
	t.Render()
}

// ReadyHandler answers a liveness/readiness probe.
func (h *Handler) ReadyHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, "ready")
}
