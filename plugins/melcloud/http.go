package melcloud

import (
	"encoding/json"
	"net/http"
)

// RegisterHTTP exposes read-only unit snapshots for dashboards and scripts
// that do not speak gRPC.
func (p *Plugin) RegisterHTTP(mux *http.ServeMux) {
	mux.HandleFunc("GET /melcloud/units", p.handleUnits)
	mux.HandleFunc("GET /melcloud/units/{id}", p.handleUnit)
}

func (p *Plugin) handleUnits(w http.ResponseWriter, _ *http.Request) {
	resp := listUnitsResponse{Units: []UnitInfo{}}
	for _, v := range p.engine.Snapshots() {
		resp.Units = append(resp.Units, unitInfo(v))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (p *Plugin) handleUnit(w http.ResponseWriter, r *http.Request) {
	v, ok := p.engine.Snapshot(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unit not found"})
		return
	}
	writeJSON(w, http.StatusOK, unitResponse{Unit: unitInfo(v)})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
