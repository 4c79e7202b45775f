package engine

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sort"
	"strconv"

	"trendscope/internal/chart"
	"trendscope/internal/extremum"
	"trendscope/internal/model"
)

// startHTTP launches the query API.
func (svc *Service) startHTTP() {
	svc.httpSrv = &http.Server{Addr: svc.cfg.HTTPAddr, Handler: svc.routes()}
	go func() {
		log.Printf("[engine] HTTP server on %s (/healthz, /api/...)", svc.cfg.HTTPAddr)
		if err := svc.httpSrv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[engine] HTTP server error: %v", err)
		}
	}()
}

func (svc *Service) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/healthz", svc.health)
	mux.HandleFunc("/api/charts", svc.handleCharts)
	mux.HandleFunc("/api/extremum", svc.handleExtremum)
	mux.HandleFunc("/api/trend", svc.handleTrend)
	mux.HandleFunc("/api/extrema", svc.handleExtrema)
	mux.HandleFunc("/api/trends", svc.handleTrends)
	return mux
}

// trendView adds the derived measures to a trend.
type trendView struct {
	extremum.Trend
	Term   extremum.Term `json:"term"`
	AbsP   float64       `json:"abs_p"`
	SpeedP float64       `json:"speed_p"`
}

func viewOf(t extremum.Trend) trendView {
	return trendView{Trend: t, Term: t.Term(), AbsP: t.AbsP(), SpeedP: t.SpeedP()}
}

type chartInfo struct {
	Instrument string          `json:"instrument"`
	TF         model.TimeFrame `json:"tf"`
	Bars       int             `json:"bars"`
	LastTS     int64           `json:"last_ts"`
	LastPrice  float64         `json:"last_price"`
}

// handleCharts lists the charts held in memory.
func (svc *Service) handleCharts(w http.ResponseWriter, r *http.Request) {
	svc.mu.RLock()
	out := make([]chartInfo, 0, len(svc.charts))
	for s, c := range svc.charts {
		info := chartInfo{Instrument: s.Instrument, TF: s.TF, Bars: c.Len()}
		if d := c.Detector(); d != nil {
			info.LastTS = d.LastTS()
		}
		info.LastPrice, _ = c.LastPrice()
		out = append(out, info)
	}
	svc.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Instrument != out[j].Instrument {
			return out[i].Instrument < out[j].Instrument
		}
		return out[i].TF < out[j].TF
	})
	writeJSON(w, http.StatusOK, out)
}

// handleExtremum serves GET /api/extremum?instrument=&tf=&term=&n=
// where n=0 (default) is the pending extremum.
func (svc *Service) handleExtremum(w http.ResponseWriter, r *http.Request) {
	q, ok := svc.parseQuery(w, r, true)
	if !ok {
		return
	}
	svc.mu.RLock()
	e, found := q.detector.Extremum(q.term, q.n)
	svc.mu.RUnlock()
	if !found {
		writeError(w, http.StatusNotFound, "no such extremum")
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// handleTrend serves GET /api/trend, indexed like /api/extremum.
func (svc *Service) handleTrend(w http.ResponseWriter, r *http.Request) {
	q, ok := svc.parseQuery(w, r, true)
	if !ok {
		return
	}
	svc.mu.RLock()
	t, found := q.detector.Trend(q.term, q.n)
	svc.mu.RUnlock()
	if !found {
		writeError(w, http.StatusNotFound, "no such trend")
		return
	}
	writeJSON(w, http.StatusOK, viewOf(t))
}

// handleExtrema serves the historical extrema of a term, oldest first.
func (svc *Service) handleExtrema(w http.ResponseWriter, r *http.Request) {
	q, ok := svc.parseQuery(w, r, false)
	if !ok {
		return
	}
	svc.mu.RLock()
	out := append([]extremum.Extremum{}, q.detector.AllExtrema(q.term)...)
	svc.mu.RUnlock()
	writeJSON(w, http.StatusOK, out)
}

// handleTrends serves the historical trends of a term, oldest first.
func (svc *Service) handleTrends(w http.ResponseWriter, r *http.Request) {
	q, ok := svc.parseQuery(w, r, false)
	if !ok {
		return
	}
	svc.mu.RLock()
	all := q.detector.AllTrends(q.term)
	out := make([]trendView, len(all))
	for i, t := range all {
		out[i] = viewOf(t)
	}
	svc.mu.RUnlock()
	writeJSON(w, http.StatusOK, out)
}

type apiQuery struct {
	detector *extremum.Detector
	term     extremum.Term
	n        int
}

// parseQuery resolves instrument, tf, term and (withIndex) n. It writes the
// error response itself and returns ok=false on failure.
func (svc *Service) parseQuery(w http.ResponseWriter, r *http.Request, withIndex bool) (apiQuery, bool) {
	var q apiQuery
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return q, false
	}
	v := r.URL.Query()
	tf, err := model.ParseTimeFrame(v.Get("tf"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return q, false
	}
	term := extremum.T1
	if s := v.Get("term"); s != "" {
		if term, err = extremum.ParseTerm(s); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return q, false
		}
	}
	if s := v.Get("n"); withIndex && s != "" {
		if q.n, err = strconv.Atoi(s); err != nil || q.n < 0 {
			writeError(w, http.StatusBadRequest, "n must be a non-negative integer")
			return q, false
		}
	}

	s := model.Series{Instrument: v.Get("instrument"), TF: tf}
	svc.mu.RLock()
	c := svc.charts[s]
	svc.mu.RUnlock()
	d, err := detectorOf(c)
	if err != nil {
		writeError(w, http.StatusNotFound, s.String()+": "+err.Error())
		return q, false
	}
	q.detector, q.term = d, term
	return q, true
}

var errNoChart = errors.New("no such chart")

// detectorOf never returns a nil detector with a nil error. The detector
// pointer of a chart never changes once the chart is registered.
func detectorOf(c *chart.Chart) (*extremum.Detector, error) {
	if c == nil || c.Detector() == nil {
		return nil, errNoChart
	}
	return c.Detector(), nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
