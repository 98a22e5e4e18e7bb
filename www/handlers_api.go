package www

import (
	"encoding/json"
	"net/http"
	"strconv"

	"printbridge/engine"
	"printbridge/store"
)

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// queryLimit parses ?limit=, clamped to [1, 500].
func queryLimit(r *http.Request, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	if n > 500 {
		return 500
	}
	return n
}

func (h *Handlers) apiState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.engine.Snapshot())
}

func (h *Handlers) apiStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]bool{"connected": h.engine.Connected()})
}

// apiSend relays ?cmd= (query or form). It answers OK whether or not the
// printer was reachable; failures surface as error events.
func (h *Handlers) apiSend(w http.ResponseWriter, r *http.Request) {
	if cmd := r.FormValue("cmd"); cmd != "" {
		h.engine.SendCommand(engine.SourceHTTP, cmd)
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("OK"))
}

func (h *Handlers) apiStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.engine.Stats())
}

func (h *Handlers) apiCommands(w http.ResponseWriter, r *http.Request) {
	db := h.engine.DB()
	if db == nil {
		writeError(w, http.StatusNotFound, "command journal disabled")
		return
	}
	cmds, err := db.ListCommands(queryLimit(r, 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if cmds == nil {
		cmds = []store.CommandRecord{}
	}
	writeJSON(w, cmds)
}

func (h *Handlers) apiLinkEvents(w http.ResponseWriter, r *http.Request) {
	db := h.engine.DB()
	if db == nil {
		writeError(w, http.StatusNotFound, "command journal disabled")
		return
	}
	evts, err := db.ListLinkEvents(queryLimit(r, 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if evts == nil {
		evts = []store.LinkEvent{}
	}
	writeJSON(w, evts)
}
