package main

import (
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-openapi/strfmt"
)

// Server exposes the reconciled series over HTTP plus a couple of admin
// endpoints for the response cache and a health probe.
type Server struct {
	data  *DataService
	cache *ResponseCache
	db    *sql.DB

	// now is stubbed in tests to pin the "today" routes to a fixed day.
	now func() time.Time
}

func NewServer(data *DataService, cache *ResponseCache, db *sql.DB) *Server {
	return &Server{
		data:  data,
		cache: cache,
		db:    db,
		now:   time.Now,
	}
}

// Handler wires the route table. All routes answer through the CORS
// middleware so browser dashboards can call the API directly.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/tariff-data-today", s.handleTariffToday)
	mux.HandleFunc("/tariff-data-today-and-tomorrow", s.handleTariffTodayAndTomorrow)
	mux.HandleFunc("/smart-meter-usage-historic", s.handleConsumptionHistoric)
	mux.HandleFunc("/cache/info", s.handleCacheInfo)
	mux.HandleFunc("/cache/clear", s.handleCacheClear)
	mux.HandleFunc("/healthz", s.handleHealthz)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// startOfDay truncates t to midnight in its own location.
func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func (s *Server) handleTariffToday(w http.ResponseWriter, r *http.Request) {
	day := startOfDay(s.now().UTC())
	rng := TimeRange{Start: day, End: day.Add(24*time.Hour - time.Second)}
	s.serveSeries(w, r, KindTariff, rng)
}

func (s *Server) handleTariffTodayAndTomorrow(w http.ResponseWriter, r *http.Request) {
	day := startOfDay(s.now().UTC())
	rng := TimeRange{Start: day, End: day.Add(48*time.Hour - time.Second)}
	s.serveSeries(w, r, KindTariff, rng)
}

func (s *Server) handleConsumptionHistoric(w http.ResponseWriter, r *http.Request) {
	rng, err := s.historicRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.serveSeries(w, r, KindConsumption, rng)
}

// historicRange resolves the optional period_from/period_to query
// parameters, defaulting to the current month so far.
func (s *Server) historicRange(r *http.Request) (TimeRange, error) {
	now := s.now().UTC()
	rng := TimeRange{
		Start: time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC),
		End:   now,
	}

	if raw := r.URL.Query().Get("period_from"); raw != "" {
		parsed, err := strfmt.ParseDateTime(raw)
		if err != nil {
			return TimeRange{}, fmt.Errorf("invalid period_from %q", raw)
		}
		rng.Start = time.Time(parsed)
	}
	if raw := r.URL.Query().Get("period_to"); raw != "" {
		parsed, err := strfmt.ParseDateTime(raw)
		if err != nil {
			return TimeRange{}, fmt.Errorf("invalid period_to %q", raw)
		}
		rng.End = time.Time(parsed)
	}
	if !rng.Start.Before(rng.End) {
		return TimeRange{}, fmt.Errorf("period_from must be before period_to")
	}

	return rng, nil
}

// serveSeries answers one series route: consult the response cache,
// reconcile on a miss, then render as JSON or CSV. Errors are never
// cached and a fetch failure maps to 502 rather than an empty 200.
func (s *Server) serveSeries(w http.ResponseWriter, r *http.Request, kind SeriesKind, rng TimeRange) {
	key := cacheKey(r.URL.Path, kind, rng.Start.Unix(), rng.End.Unix())

	var series []SeriesPoint
	if cached, ok := s.cache.Get(key); ok {
		log.Printf("cache HIT for %s", r.URL.Path)
		series = cached.([]SeriesPoint)
	} else {
		log.Printf("cache MISS for %s", r.URL.Path)
		fetched, err := s.data.GetSeries(r.Context(), kind, rng)
		if err != nil {
			log.Printf("%s: %v", r.URL.Path, err)
			status := http.StatusInternalServerError
			var fe *FetchError
			if errors.As(err, &fe) {
				status = http.StatusBadGateway
			}
			writeError(w, status, "error retrieving data")
			return
		}
		series = fetched
		s.cache.Set(key, series)
	}

	spec := kind.spec()
	if r.URL.Query().Get("format") == "csv" {
		writeSeriesCSV(w, spec, series)
		return
	}
	writeSeriesJSON(w, spec, series)
}

func writeSeriesJSON(w http.ResponseWriter, spec kindSpec, series []SeriesPoint) {
	rows := make([]map[string]any, 0, len(series))
	for _, p := range series {
		rows = append(rows, map[string]any{
			spec.dateField:  strfmt.DateTime(p.Timestamp),
			spec.valueField: p.Value,
		})
	}
	writeJSON(w, http.StatusOK, rows)
}

func writeSeriesCSV(w http.ResponseWriter, spec kindSpec, series []SeriesPoint) {
	w.Header().Set("Content-Type", "text/csv")
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{spec.dateField, spec.valueField})
	for _, p := range series {
		_ = cw.Write([]string{
			p.Timestamp.UTC().Format(time.RFC3339),
			strconv.FormatFloat(p.Value, 'f', -1, 64),
		})
	}
	cw.Flush()
}

func (s *Server) handleCacheInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.cache.Info())
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.cache.Clear()
	log.Printf("response cache cleared")
	writeJSON(w, http.StatusOK, map[string]string{"message": "Cache cleared successfully"})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.PingContext(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "database unreachable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
