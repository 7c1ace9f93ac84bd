package handler

import (
	"net/http"

	"github.com/metinatakli/paygate/internal/jsonutil"
	"github.com/metinatakli/paygate/internal/vcs"
)

// DriverLister reports registered payment drivers. *payment.Manager implements it.
type DriverLister interface {
	Names(availableOnly bool) []string
}

type SystemInfo struct {
	Version     string `json:"version"`
	Environment string `json:"environment"`
}

type HealthcheckResponse struct {
	Status     string          `json:"status"`
	SystemInfo SystemInfo      `json:"systemInfo"`
	Drivers    map[string]bool `json:"drivers"`
}

type HealthcheckHandler struct {
	env     string
	drivers DriverLister
}

func NewHealthcheckHandler(env string, drivers DriverLister) *HealthcheckHandler {
	return &HealthcheckHandler{
		env:     env,
		drivers: drivers,
	}
}

// GetHealth lists every registered driver with whether it is configured.
func (h *HealthcheckHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	drivers := make(map[string]bool)
	for _, name := range h.drivers.Names(false) {
		drivers[name] = false
	}
	for _, name := range h.drivers.Names(true) {
		drivers[name] = true
	}

	resp := HealthcheckResponse{
		Status: "UP",
		SystemInfo: SystemInfo{
			Version:     vcs.Version(),
			Environment: h.env,
		},
		Drivers: drivers,
	}

	jsonutil.WriteJSON(w, http.StatusOK, resp, nil)
}
