package api

import (
	"github.com/starford/rpfba/internal/ledger"
	"github.com/starford/rpfba/internal/simservice"
)

// Stamp identifies the service, as returned by GET /REST.
type Stamp struct {
	App     string `json:"app" example:"rpFBA"`
	Version string `json:"version" example:"1.0"`
	Time    string `json:"time"`
	Status  int    `json:"status" example:"1"`
	Data    any    `json:"data"`
}

// RunListResponse wraps paginated run listings.
type RunListResponse struct {
	Runs  []ledger.Run `json:"runs"`
	Total int          `json:"total" example:"42"`
}

// RunDetail is a run with its jobs.
type RunDetail = simservice.RunDetail
