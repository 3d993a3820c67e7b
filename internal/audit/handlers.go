package audit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/echoes-blog/echoes/internal/httputil"
)

type Handlers struct {
	store *Store
}

func NewHandlers(store *Store) *Handlers {
	return &Handlers{store: store}
}

// RegisterRoutes wires the audit log endpoint onto the provided router.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/audit-log", h.List).Methods("GET")
}

// List handles GET /api/audit-log with query filters and pagination.
// from and to are RFC 3339 timestamps.
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	params := ListParams{
		Action:   q.Get("action"),
		Resource: q.Get("resource"),
		Limit:    limit,
		Offset:   offset,
	}
	for key, dst := range map[string]*time.Time{"from": &params.From, "to": &params.To} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "invalid "+key+" timestamp")
			return
		}
		*dst = t
	}

	entries, total := h.store.List(params)
	if params.Limit <= 0 || params.Limit > 100 {
		params.Limit = 50
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"total":   total,
		"limit":   params.Limit,
		"offset":  params.Offset,
	})
}
