package fleet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Tool names.
const (
	ToolFetchTelematics   = "fetch_telematics_data"
	ToolDiagnoseIssue     = "diagnose_issue"
	ToolWebSearch         = "brave_search"
	ToolUpdateStatus      = "update_vehicle_status"
	ToolNotifyOwner       = "send_notification_to_owner"
	ToolAlertMaintenance  = "send_alert_to_maintenance_team"
	ToolRCAInsights       = "get_rca_insights"
	ToolCheckAvailability = "check_schedule_availability"
	ToolBookAppointment   = "book_appointment"
	ToolLogFeedback       = "log_customer_feedback"
	ToolServiceForecast   = "fleet_service_forecast"
)

// Outcome strings that downstream routing keys on.
const (
	DiagnosisCritical = "CRITICAL: High Probability of Coolant Sensor Failure."
	DiagnosisNormal   = "Status: Normal."
	DiagnosisNoData   = "ERROR: Missing Data."
	SlotUnavailable   = "Slot unavailable"
	FeedbackSaved     = "Feedback saved."
	coolantTempLimit  = 110
	coolantFaultCode  = "P0118"
)

var (
	// ErrUnknownTool is returned by Invoke for unregistered names.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrInvalidArguments is returned when arguments do not decode or
	// fail validation.
	ErrInvalidArguments = errors.New("invalid tool arguments")
)

// Handler executes a tool against decoded JSON arguments.
type Handler func(ctx context.Context, args json.RawMessage) (string, error)

// Tool describes a callable tool. Parameters is a JSON Schema object.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	handler     Handler
}

// Registry resolves tool names to implementations.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates a registry with every fleet tool bound to db.
func NewRegistry(db *DB) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	t := &toolset{db: db}

	r.Register(Tool{
		Name:        ToolFetchTelematics,
		Description: "Fetches real-time sensor data, maintenance logs, and error codes for a vehicle.",
		Parameters:  object(prop("vehicle_id", "string", "Vehicle identifier, e.g. Vehicle-123")),
		handler:     t.fetchTelematics,
	})
	r.Register(Tool{
		Name:        ToolDiagnoseIssue,
		Description: "Analyzes a diagnostic trouble code and engine temperature reading.",
		Parameters: object(
			prop("error_code", "string", "Diagnostic trouble code, or None"),
			prop("engine_temp", "number", "Engine temperature in Celsius"),
		),
		handler: t.diagnose,
	})
	r.Register(Tool{
		Name:        ToolWebSearch,
		Description: "Performs a web search.",
		Parameters:  object(prop("query", "string", "Search query")),
		handler:     t.webSearch,
	})
	r.Register(Tool{
		Name:        ToolUpdateStatus,
		Description: "Updates the vehicle status in the fleet database.",
		Parameters: object(
			prop("vehicle_id", "string", "Vehicle identifier"),
			prop("status", "string", "New status, e.g. Critical or In Service"),
		),
		handler: t.updateStatus,
	})
	r.Register(Tool{
		Name:        ToolNotifyOwner,
		Description: "Sends a notification to the vehicle owner.",
		Parameters: object(
			prop("vehicle_id", "string", "Vehicle identifier"),
			prop("message", "string", "Message to send"),
		),
		handler: t.notify("owner", "Notification sent."),
	})
	r.Register(Tool{
		Name:        ToolAlertMaintenance,
		Description: "Sends an alert to the maintenance team.",
		Parameters: object(
			prop("vehicle_id", "string", "Vehicle identifier"),
			prop("message", "string", "Alert text"),
		),
		handler: t.notify("maintenance", "Alert sent."),
	})
	r.Register(Tool{
		Name:        ToolRCAInsights,
		Description: "Queries the manufacturing CAPA database for known defects matching a diagnosis.",
		Parameters:  object(prop("diagnosis", "string", "Diagnosis text")),
		handler:     t.rcaInsights,
	})
	r.Register(Tool{
		Name:        ToolCheckAvailability,
		Description: "Checks for open service slots.",
		Parameters:  object(),
		handler:     t.checkAvailability,
	})
	r.Register(Tool{
		Name:        ToolBookAppointment,
		Description: "Books a service appointment for a vehicle in an open slot.",
		Parameters: object(
			prop("slot", "string", "Slot time, e.g. 10:00"),
			prop("vehicle_id", "string", "Vehicle identifier"),
		),
		handler: t.book,
	})
	r.Register(Tool{
		Name:        ToolLogFeedback,
		Description: "Logs post-interaction customer satisfaction.",
		Parameters: object(
			prop("feedback", "string", "Customer comment"),
			prop("rating", "integer", "Rating from 1 to 5"),
		),
		handler: t.logFeedback,
	})
	r.Register(Tool{
		Name:        ToolServiceForecast,
		Description: "Summarizes fleet health and forecasts service demand.",
		Parameters:  object(),
		handler:     t.forecast,
	})
	return r
}

// Register adds or replaces a tool. The handler must be set.
func (r *Registry) Register(tool Tool) {
	r.tools[tool.Name] = tool
}

// RegisterFunc adds a tool backed by fn.
func (r *Registry) RegisterFunc(name, description string, params map[string]any, fn Handler) {
	r.Register(Tool{Name: name, Description: description, Parameters: params, handler: fn})
}

// Names returns registered tool names in order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the tools named, in the given order.
func (r *Registry) Definitions(names []string) ([]Tool, error) {
	out := make([]Tool, 0, len(names))
	for _, name := range names {
		tool, ok := r.tools[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
		}
		out = append(out, tool)
	}
	return out, nil
}

// Invoke runs the named tool with JSON arguments.
func (r *Registry) Invoke(ctx context.Context, name string, args json.RawMessage) (string, error) {
	tool, ok := r.tools[name]
	if !ok || tool.handler == nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	return tool.handler(ctx, args)
}

func object(props ...map[string]any) map[string]any {
	properties := make(map[string]any, len(props))
	required := make([]string, 0, len(props))
	for _, p := range props {
		name := p["name"].(string)
		properties[name] = map[string]any{"type": p["type"], "description": p["description"]}
		required = append(required, name)
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

func prop(name, typ, description string) map[string]any {
	return map[string]any{"name": name, "type": typ, "description": description}
}

func decode(args json.RawMessage, v any) error {
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidArguments, field)
	}
	return nil
}

type toolset struct {
	db *DB
}

func (t *toolset) fetchTelematics(_ context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		VehicleID string `json:"vehicle_id"`
	}
	if err := decode(raw, &args); err != nil {
		return "", err
	}
	if err := required("vehicle_id", args.VehicleID); err != nil {
		return "", err
	}

	v, err := t.db.Vehicle(args.VehicleID)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Diagnose classifies a reading. Exported for the proactive monitor.
func Diagnose(errorCode string, engineTemp *float64) string {
	if engineTemp == nil {
		return DiagnosisNoData
	}
	if *engineTemp > coolantTempLimit || errorCode == coolantFaultCode {
		return DiagnosisCritical
	}
	return DiagnosisNormal
}

func (t *toolset) diagnose(_ context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		ErrorCode  string   `json:"error_code"`
		EngineTemp *float64 `json:"engine_temp"`
	}
	if err := decode(raw, &args); err != nil {
		return "", err
	}
	return Diagnose(args.ErrorCode, args.EngineTemp), nil
}

func (t *toolset) webSearch(_ context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Query string `json:"query"`
	}
	if err := decode(raw, &args); err != nil {
		return "", err
	}
	return "Offline Mode: Internet unavailable. Please use internal diagnosis tools.", nil
}

func (t *toolset) updateStatus(_ context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		VehicleID string `json:"vehicle_id"`
		Status    string `json:"status"`
	}
	if err := decode(raw, &args); err != nil {
		return "", err
	}
	if err := required("status", args.Status); err != nil {
		return "", err
	}
	if err := t.db.UpdateStatus(args.VehicleID, args.Status); err != nil {
		return "", err
	}
	return fmt.Sprintf("Status for %s updated to %s.", args.VehicleID, args.Status), nil
}

func (t *toolset) notify(audience, ack string) Handler {
	return func(_ context.Context, raw json.RawMessage) (string, error) {
		var args struct {
			VehicleID string `json:"vehicle_id"`
			Message   string `json:"message"`
		}
		if err := decode(raw, &args); err != nil {
			return "", err
		}
		if err := required("message", args.Message); err != nil {
			return "", err
		}
		t.db.Notify(audience, args.VehicleID, args.Message)
		return ack, nil
	}
}

func (t *toolset) rcaInsights(_ context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Diagnosis string `json:"diagnosis"`
	}
	if err := decode(raw, &args); err != nil {
		return "", err
	}

	records := t.db.CAPAFor(args.Diagnosis)
	if len(records) == 0 {
		return "No recurring manufacturing defects found.", nil
	}
	lines := make([]string, 0, len(records))
	for _, rec := range records {
		lines = append(lines, fmt.Sprintf("ALERT: %s %s units have a known %s defect. CAPA: %s.",
			rec.Batch, rec.Component, rec.Defect, rec.Action))
	}
	return strings.Join(lines, "\n"), nil
}

func (t *toolset) checkAvailability(_ context.Context, _ json.RawMessage) (string, error) {
	open := t.db.OpenSlots()
	if len(open) == 0 {
		return "No open slots.", nil
	}
	return "Available Slots: [" + strings.Join(open, ", ") + "]", nil
}

func (t *toolset) book(_ context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Slot      string `json:"slot"`
		VehicleID string `json:"vehicle_id"`
	}
	if err := decode(raw, &args); err != nil {
		return "", err
	}
	if err := required("vehicle_id", args.VehicleID); err != nil {
		return "", err
	}

	slot, err := t.db.Book(args.Slot, args.VehicleID)
	if errors.Is(err, ErrSlotUnavailable) {
		return SlotUnavailable, nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("BOOKING COMPLETE: Service booked for %s at %s.", args.VehicleID, slot), nil
}

func (t *toolset) logFeedback(_ context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Feedback string `json:"feedback"`
		Rating   int    `json:"rating"`
	}
	if err := decode(raw, &args); err != nil {
		return "", err
	}
	if args.Rating < 1 || args.Rating > 5 {
		return "", fmt.Errorf("%w: rating must be between 1 and 5, got %d", ErrInvalidArguments, args.Rating)
	}
	t.db.RecordFeedback(args.Feedback, args.Rating)
	return FeedbackSaved, nil
}

func (t *toolset) forecast(_ context.Context, _ json.RawMessage) (string, error) {
	vehicles := t.db.Vehicles()

	byStatus := make(map[string]int)
	var due []string
	for _, v := range vehicles {
		byStatus[v.Status]++
		switch {
		case v.EngineTemp > coolantTempLimit:
			due = append(due, fmt.Sprintf("%s (engine temp %.0f)", v.ID, v.EngineTemp))
		case v.HasFault():
			due = append(due, fmt.Sprintf("%s (code %s)", v.ID, v.ErrorCode))
		case v.OilLife < 25:
			due = append(due, fmt.Sprintf("%s (oil life %d%%)", v.ID, v.OilLife))
		}
	}

	statuses := make([]string, 0, len(byStatus))
	for status := range byStatus {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)
	parts := make([]string, 0, len(statuses))
	for _, s := range statuses {
		parts = append(parts, fmt.Sprintf("%s %d", s, byStatus[s]))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Fleet forecast: %d vehicles (%s). ", len(vehicles), strings.Join(parts, ", "))
	if len(due) == 0 {
		b.WriteString("No vehicles due for service.")
	} else {
		fmt.Fprintf(&b, "Service demand next 7 days: %d vehicles: %s.", len(due), strings.Join(due, "; "))
	}
	return b.String(), nil
}
