package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	apperrors "github.com/apilens/apilens/internal/errors"

	"github.com/apilens/apilens/internal/core/quota"
)

// StatusResponse reports the current admission state: what remains of each
// allowance and when the next replenishments land.
type StatusResponse struct {
	MinuteRemaining  int       `json:"minute_remaining"`
	MinuteCap        int       `json:"minute_cap"`
	DayRemaining     int       `json:"day_remaining"`
	DayCap           int       `json:"day_cap"`
	InFlight         int       `json:"in_flight"`
	ConcurrencyCap   int       `json:"concurrency_cap"`
	Waiting          int       `json:"waiting"`
	NextMinuteRefill time.Time `json:"next_minute_refill"`
	NextDayReset     time.Time `json:"next_day_reset"`
	NearExhaustion   bool      `json:"near_exhaustion"`
	Timestamp        time.Time `json:"timestamp"`
}

// StatusHandler exposes the admission controller's snapshot.
type StatusHandler struct {
	Limiter *quota.Controller
}

func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Limiter == nil {
		respondWithError(w, r, apperrors.NewInternalError("quota controller not configured"))
		return
	}

	snapshot := h.Limiter.Status()
	response := StatusResponse{
		MinuteRemaining:  snapshot.MinuteRemaining,
		MinuteCap:        snapshot.MinuteCap,
		DayRemaining:     snapshot.DayRemaining,
		DayCap:           snapshot.DayCap,
		InFlight:         snapshot.InFlight,
		ConcurrencyCap:   snapshot.ConcurrencyCap,
		Waiting:          snapshot.Waiting,
		NextMinuteRefill: snapshot.NextMinuteRefill,
		NextDayReset:     snapshot.NextDayReset,
		NearExhaustion:   h.Limiter.NearExhaustion(),
		Timestamp:        time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}
