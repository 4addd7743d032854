package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/shaderoute/internal/model"
	"github.com/sells-group/shaderoute/internal/route"
	"github.com/sells-group/shaderoute/internal/sun"
)

const maxBodyBytes = 1 << 20

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type sunResponse struct {
	sun.Position
	AboveHorizon bool `json:"above_horizon"`
}

func (s *Server) handleSun(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, sunResponse{
		Position:     s.res.Sun,
		AboveHorizon: s.res.Sun.AboveHorizon(),
	})
}

type summaryResponse struct {
	RunID  string              `json:"run_id,omitempty"`
	CRS    string              `json:"crs"`
	Bounds [4]float64          `json:"bounds"`
	Keys   []string            `json:"keys"`
	Stats  model.RunStats      `json:"stats"`
	Phases []model.PhaseResult `json:"phases"`
	Cache  route.CacheStats    `json:"cache"`
	Uptime float64             `json:"uptime_secs"`
}

func (s *Server) handleSummary(w http.ResponseWriter, _ *http.Request) {
	resp := summaryResponse{
		RunID:  s.res.RunID,
		Keys:   s.res.Evaluator.Keys(),
		Stats:  s.res.Stats(),
		Phases: s.res.Phases,
		Cache:  s.CacheStats(),
		Uptime: time.Since(s.started).Seconds(),
	}
	if s.res.Dataset != nil {
		resp.CRS = s.res.Dataset.CRS
	}
	if b := s.res.Evaluator.Bounds(); b != nil && !b.IsEmpty() {
		resp.Bounds = [4]float64{b.Min(0), b.Min(1), b.Max(0), b.Max(1)}
	}
	writeJSON(w, http.StatusOK, resp)
}

type routeRequest struct {
	Origin      []float64 `json:"origin"`
	Destination []float64 `json:"destination"`
	Keys        []string  `json:"keys"`
}

type routeResult struct {
	route.Route
	Geometry *geojson.Geometry `json:"geometry,omitempty"`
}

type routeResponse struct {
	Routes []routeResult `json:"routes"`
	Cached bool          `json:"cached"`
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Origin) != 2 || len(req.Destination) != 2 {
		writeError(w, http.StatusBadRequest, "origin and destination must be [x, y]")
		return
	}
	origin := geom.Coord{req.Origin[0], req.Origin[1]}
	dest := geom.Coord{req.Destination[0], req.Destination[1]}

	keys := req.Keys
	if len(keys) == 0 {
		keys = s.res.Evaluator.Keys()
	}

	cacheKey := route.CacheKey(origin, dest, keys)
	if s.cache != nil {
		if cached := s.cache.Get(cacheKey); cached != nil {
			w.Header().Set("X-Cache", "hit")
			s.writeRoutes(w, cached, true)
			return
		}
	}

	routes, err := s.res.Evaluator.RouteAll(r.Context(), origin, dest, keys)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			s.log.Error("api: route failed", zap.Error(err))
			writeError(w, status, "route failed")
			return
		}
		writeError(w, status, err.Error())
		return
	}

	if s.cache != nil {
		s.cache.Put(cacheKey, routes)
		w.Header().Set("X-Cache", "miss")
	}
	if s.recorder != nil {
		if err := s.recorder.RecordRoutes(r.Context(), s.res.RunID, routes); err != nil {
			s.log.Warn("api: failed to record routes", zap.Error(err))
		}
	}
	s.writeRoutes(w, routes, false)
}

func (s *Server) writeRoutes(w http.ResponseWriter, routes []route.Route, cached bool) {
	resp := routeResponse{Routes: make([]routeResult, 0, len(routes)), Cached: cached}
	for _, rt := range routes {
		out := routeResult{Route: rt}
		if rt.Geometry != nil {
			g, err := geojson.Encode(rt.Geometry)
			if err != nil {
				s.log.Warn("api: encode route geometry", zap.String("key", rt.Key), zap.Error(err))
			} else {
				out.Geometry = g
			}
		}
		resp.Routes = append(resp.Routes, out)
	}
	writeJSON(w, http.StatusOK, resp)
}

// statusFor maps evaluator errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case eris.Is(err, route.ErrOutOfBounds):
		return http.StatusUnprocessableEntity
	case eris.Is(err, route.ErrNoRoute):
		return http.StatusNotFound
	case eris.Is(err, route.ErrUnknownWeight):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
