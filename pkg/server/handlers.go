// Package server exposes the read API over the aggregated stats: listings,
// per-attraction hourly/daily/monthly reads, a rendered daily chart and a
// websocket live feed.
package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/parkpulse/parkpulse/pkg/config"
	"github.com/parkpulse/parkpulse/pkg/httpx"
	"github.com/parkpulse/parkpulse/pkg/logger"
	"github.com/parkpulse/parkpulse/pkg/model"
	"github.com/parkpulse/parkpulse/pkg/storage"
)

var startTime = time.Now()

// Handler serves the read API.
type Handler struct {
	store storage.Store
	cache Cache
	log   logger.Logger
}

func NewHandler(store storage.Store, cache Cache, log logger.Logger) *Handler {
	if cache == nil {
		cache = NopCache{}
	}
	return &Handler{store: store, cache: cache, log: log}
}

// SetupRoutes registers every read endpoint on the router.
func SetupRoutes(router *mux.Router, h *Handler, hub *LiveHub) {
	api := router.PathPrefix("/v1").Subrouter()

	api.HandleFunc("/health", h.HandleHealth).Methods("GET")
	api.HandleFunc("/venues", h.HandleVenues).Methods("GET")
	api.HandleFunc("/venues/{venueId}/attractions", h.HandleAttractions).Methods("GET")
	api.HandleFunc("/venues/{venueId}/open", h.HandleOpenCheck).Methods("GET")

	api.HandleFunc("/attractions/{id}/hourly/{date}", h.HandleHourly).Methods("GET")
	api.HandleFunc("/attractions/{id}/daily/{date}", h.HandleDaily).Methods("GET")
	api.HandleFunc("/attractions/{id}/monthly/{year}/{month}", h.HandleMonthly).Methods("GET")
	api.HandleFunc("/attractions/{id}/chart/{date}", h.HandleDailyChart).Methods("GET")

	api.HandleFunc("/ws/live", hub.HandleLive).Methods("GET")
}

type healthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	httpx.RespondJSON(w, http.StatusOK, healthResponse{
		Status: "healthy",
		Uptime: time.Since(startTime).String(),
	})
}

func (h *Handler) HandleVenues(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := reqContext(r, config.ListTimeout)
	defer cancel()

	venues, err := h.store.Venues(ctx)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, venues)
}

func (h *Handler) HandleAttractions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := reqContext(r, config.ListTimeout)
	defer cancel()

	venueID := mux.Vars(r)["venueId"]
	attractions, err := h.store.Attractions(ctx, venueID)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, attractions)
}

// HandleOpenCheck answers "is this venue open at instant X". The instant
// defaults to now; ?at= takes RFC 3339.
func (h *Handler) HandleOpenCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := reqContext(r, config.ReadTimeout)
	defer cancel()

	venueID := mux.Vars(r)["venueId"]
	at := time.Now().UTC()
	if raw := r.URL.Query().Get("at"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.RespondErrorString(w, http.StatusBadRequest, "at must be RFC 3339")
			return
		}
		at = parsed
	}

	venues, err := h.store.Venues(ctx)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	var venue *model.Venue
	for i := range venues {
		if venues[i].ID == venueID {
			venue = &venues[i]
			break
		}
	}
	if venue == nil {
		httpx.RespondErrorString(w, http.StatusNotFound, "unknown venue")
		return
	}

	open, err := storage.WithinOpenWindow(ctx, h.store, *venue, at)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"venueId": venueID,
		"at":      at.Format(time.RFC3339),
		"open":    open,
	})
}

func (h *Handler) HandleHourly(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := reqContext(r, config.ReadTimeout)
	defer cancel()

	vars := mux.Vars(r)
	if !validDate(vars["date"]) {
		httpx.RespondErrorString(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	stats, err := h.store.Hourly(ctx, vars["id"], vars["date"])
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, stats)
}

func (h *Handler) HandleDaily(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := reqContext(r, config.ReadTimeout)
	defer cancel()

	vars := mux.Vars(r)
	id, date := vars["id"], vars["date"]
	if !validDate(date) {
		httpx.RespondErrorString(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	var stat model.DailyStat
	if h.cache.Get(ctx, dailyCacheKey(id, date), &stat) {
		httpx.RespondJSON(w, http.StatusOK, stat)
		return
	}

	stat, err := h.store.Daily(ctx, id, date)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	h.cache.Set(ctx, dailyCacheKey(id, date), stat)
	httpx.RespondJSON(w, http.StatusOK, stat)
}

func (h *Handler) HandleMonthly(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := reqContext(r, config.ReadTimeout)
	defer cancel()

	vars := mux.Vars(r)
	id := vars["id"]
	year, err := strconv.Atoi(vars["year"])
	if err != nil {
		httpx.RespondErrorString(w, http.StatusBadRequest, "year must be numeric")
		return
	}
	month, err := strconv.Atoi(vars["month"])
	if err != nil || month < 1 || month > 12 {
		httpx.RespondErrorString(w, http.StatusBadRequest, "month must be 1..12")
		return
	}

	var stat model.MonthlyStat
	if h.cache.Get(ctx, monthlyCacheKey(id, year, month), &stat) {
		httpx.RespondJSON(w, http.StatusOK, stat)
		return
	}

	stat, err = h.store.Monthly(ctx, id, year, month)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	h.cache.Set(ctx, monthlyCacheKey(id, year, month), stat)
	httpx.RespondJSON(w, http.StatusOK, stat)
}

func validDate(date string) bool {
	_, err := time.Parse(model.DateFormat, date)
	return err == nil
}
