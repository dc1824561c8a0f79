package table

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/edgeflare/stations/pkg/httputil"
	"github.com/edgeflare/stations/pkg/station"
	"go.uber.org/zap"
)

// Handler serves the table over HTTP:
//
//	GET /stations       all entries
//	GET /stations/{id}  the entry of one station
type Handler struct {
	table  *Table
	logger *zap.Logger
	mux    *http.ServeMux
}

func NewHandler(t *Table, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{table: t, logger: logger, mux: http.NewServeMux()}
	h.mux.HandleFunc("GET /stations", h.list)
	h.mux.HandleFunc("GET /stations/{id}", h.get)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	views, err := h.table.All(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if views == nil {
		views = []station.View{}
	}
	httputil.JSON(w, http.StatusOK, views)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id <= 0 {
		httputil.Error(w, http.StatusBadRequest, "invalid station id")
		return
	}
	v, ok, err := h.table.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !ok {
		httputil.Error(w, http.StatusNotFound, "station not found")
		return
	}
	httputil.JSON(w, http.StatusOK, v)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ErrNotReady) {
		httputil.Error(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	fields := []zap.Field{zap.Error(err)}
	if reqID, ok := httputil.RequestID(r.Context()); ok {
		fields = append(fields, zap.String("req_id", reqID))
	}
	h.logger.Error("Failed to read table", fields...)
	httputil.Error(w, http.StatusInternalServerError, "internal error")
}
