package http

import (
	"github.com/fyrsmithlabs/fleetd/internal/monitor"
	"github.com/fyrsmithlabs/fleetd/internal/orchestrator"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status            string   `json:"status"`
	MonitoredVehicles []string `json:"monitored_vehicles,omitempty"`
}

// ChatRequest is the request body for POST /api/v1/chat.
type ChatRequest struct {
	Message   string `json:"message"`
	ThreadID  string `json:"thread_id"`
	VehicleID string `json:"vehicle_id"`
}

// ChatResponse is the response body for POST /api/v1/chat.
type ChatResponse struct {
	Response  string              `json:"response"`
	VehicleID string              `json:"vehicle_id"`
	ThreadID  string              `json:"thread_id"`
	Blocked   bool                `json:"blocked"`
	Steps     int                 `json:"steps"`
	Visited   []orchestrator.Node `json:"visited"`
}

// TriggerRequest is the optional request body for POST /api/v1/trigger_check.
type TriggerRequest struct {
	VehicleID string `json:"vehicle_id"`
}

// TriggerResponse is the response body for POST /api/v1/trigger_check.
type TriggerResponse struct {
	Status  string          `json:"status"`
	Checked int             `json:"checked"`
	Alerts  []monitor.Alert `json:"alerts"`
	Errors  []string        `json:"errors,omitempty"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
