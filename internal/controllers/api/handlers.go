package api

import (
	"net/http"
	"strconv"

	"github.com/chrissnell/simtelemetry/internal/gforce"
	"github.com/chrissnell/simtelemetry/internal/types"
	"github.com/chrissnell/simtelemetry/pkg/config"
	"github.com/gorilla/mux"
)

const (
	defaultSessionLimit = 20
	maxSessionLimit     = 500
)

// AxisDirection is a classified G value.
type AxisDirection struct {
	Direction gforce.Direction `json:"direction"`
	Symbol    string           `json:"symbol"`
}

// GForceView is the /gforce response.
type GForceView struct {
	types.GForceReading
	LateralDirection      AxisDirection `json:"lateral_direction"`
	LongitudinalDirection AxisDirection `json:"longitudinal_direction"`
}

// StatusView is the /status response.
type StatusView struct {
	types.Status
	Live   bool                          `json:"live"`
	Health map[string]*config.HealthData `json:"health"`
}

func (c *Controller) setupRouter() *mux.Router {
	router := mux.NewRouter()

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/snapshot", c.getSnapshot).Methods(http.MethodGet)
	v1.HandleFunc("/gforce", c.getGForce).Methods(http.MethodGet)
	v1.HandleFunc("/gforce/reset", c.resetPeaks).Methods(http.MethodPost)
	v1.HandleFunc("/status", c.getStatus).Methods(http.MethodGet)
	v1.HandleFunc("/sessions", c.getSessions).Methods(http.MethodGet)
	v1.HandleFunc("/stream", c.streamSnapshots).Methods(http.MethodGet)

	return router
}

func (c *Controller) write(w http.ResponseWriter, req *http.Request, data any) {
	if err := c.formatter.WriteResponse(w, req, data, nil); err != nil {
		c.logger.Errorf("error writing %s response: %v", req.URL.Path, err)
	}
}

func (c *Controller) getSnapshot(w http.ResponseWriter, req *http.Request) {
	c.write(w, req, c.telemetry.Latest())
}

func (c *Controller) getGForce(w http.ResponseWriter, req *http.Request) {
	c.write(w, req, NewGForceView(c.telemetry.LastGForce(), c.deadband))
}

// NewGForceView classifies the lateral and longitudinal components of r.
func NewGForceView(r types.GForceReading, deadband float64) GForceView {
	lat := gforce.Classify(r.Lateral, gforce.AxisLateral, deadband)
	long := gforce.Classify(r.Longitudinal, gforce.AxisLongitudinal, deadband)
	return GForceView{
		GForceReading:         r,
		LateralDirection:      AxisDirection{Direction: lat, Symbol: lat.Symbol()},
		LongitudinalDirection: AxisDirection{Direction: long, Symbol: long.Symbol()},
	}
}

func (c *Controller) resetPeaks(w http.ResponseWriter, req *http.Request) {
	c.telemetry.ResetPeaks()
	c.logger.Info("G-force peaks reset requested")
	w.WriteHeader(http.StatusAccepted)
}

func (c *Controller) getStatus(w http.ResponseWriter, req *http.Request) {
	c.write(w, req, StatusView{
		Status: c.telemetry.Status(),
		Live:   c.telemetry.Latest().Live(),
		Health: c.health.GetAllHealth(),
	})
}

func (c *Controller) getSessions(w http.ResponseWriter, req *http.Request) {
	if c.sessions == nil {
		http.Error(w, "no session store configured", http.StatusServiceUnavailable)
		return
	}

	limit := defaultSessionLimit
	if v := req.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxSessionLimit)
	}

	sessions, err := c.sessions.RecentSessions(req.Context(), limit)
	if err != nil {
		c.logger.Errorf("error fetching sessions: %v", err)
		http.Error(w, "error fetching sessions", http.StatusInternalServerError)
		return
	}
	c.write(w, req, sessions)
}
