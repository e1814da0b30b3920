// Package fleet holds the fleet operations dataset (vehicles, service
// history, manufacturing CAPA records, workshop slots) and the tools that
// workers call against it.
package fleet

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	// ErrVehicleNotFound is returned for unknown vehicle ids.
	ErrVehicleNotFound = errors.New("vehicle not found")

	// ErrSlotUnavailable is returned when a slot does not exist or is taken.
	ErrSlotUnavailable = errors.New("slot unavailable")
)

// Vehicle is the live telemetry state of one vehicle.
type Vehicle struct {
	ID           string          `json:"vehicle_id"`
	Model        string          `json:"model"`
	EngineTemp   float64         `json:"engine_temp"`
	OilLife      int             `json:"oil_life"`
	TirePressure int             `json:"tire_pressure"`
	Odometer     int             `json:"odometer"`
	ErrorCode    string          `json:"error_code"`
	Status       string          `json:"status"`
	History      []ServiceRecord `json:"maintenance_history"`
}

// HasFault reports whether the vehicle reports a diagnostic trouble code.
func (v Vehicle) HasFault() bool {
	return v.ErrorCode != "" && v.ErrorCode != NoErrorCode
}

// NoErrorCode is the error_code value of a healthy vehicle.
const NoErrorCode = "None"

// ServiceRecord is one past maintenance visit.
type ServiceRecord struct {
	Date        string `json:"date"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Cost        int    `json:"cost"`
}

// CAPARecord is a known manufacturing defect and its corrective action.
type CAPARecord struct {
	Component string
	Defect    string
	Action    string
	Batch     string
}

// Slot is a workshop appointment slot in HH:MM form.
type Slot struct {
	Time      string
	VehicleID string
}

// Booked reports whether the slot is taken.
func (s Slot) Booked() bool {
	return s.VehicleID != ""
}

// Notification is a message sent to an owner or the maintenance team.
type Notification struct {
	Audience  string
	VehicleID string
	Message   string
	SentAt    time.Time
}

// Feedback is a post-service customer rating.
type Feedback struct {
	Text       string
	Rating     int
	RecordedAt time.Time
}

// DB is an in-memory fleet database safe for concurrent use.
type DB struct {
	mu            sync.RWMutex
	vehicles      map[string]*Vehicle
	capa          []CAPARecord
	slots         []Slot
	notifications []Notification
	feedback      []Feedback
	now           func() time.Time
}

// NewDB creates a database from the given records.
func NewDB(vehicles []Vehicle, capa []CAPARecord, slotTimes []string) *DB {
	db := &DB{
		vehicles: make(map[string]*Vehicle, len(vehicles)),
		capa:     append([]CAPARecord(nil), capa...),
		now:      time.Now,
	}
	for _, v := range vehicles {
		v := v
		v.History = append([]ServiceRecord(nil), v.History...)
		db.vehicles[v.ID] = &v
	}
	for _, t := range slotTimes {
		db.slots = append(db.slots, Slot{Time: t})
	}
	return db
}

// NewSeededDB returns the demo fleet: ten vehicles (two overheating with a
// coolant sensor fault, one catalytic converter warning), their service
// history, the CAPA knowledge base and tomorrow's seven workshop slots.
func NewSeededDB() *DB {
	vehicles := []Vehicle{
		{ID: "Vehicle-123", Model: "F-150", EngineTemp: 115, OilLife: 40, TirePressure: 32, Odometer: 45000, ErrorCode: "P0118", Status: "Active",
			History: []ServiceRecord{
				{Date: "2024-01-10", Type: "Oil Change", Description: "Standard synthetic oil change", Cost: 80},
				{Date: "2023-08-15", Type: "Tire Rotation", Description: "Rotated all 4 tires", Cost: 40},
			}},
		{ID: "Vehicle-101", Model: "Sedan", EngineTemp: 90, OilLife: 85, TirePressure: 35, Odometer: 12000, ErrorCode: NoErrorCode, Status: "Active"},
		{ID: "Vehicle-102", Model: "SUV", EngineTemp: 92, OilLife: 70, TirePressure: 34, Odometer: 25000, ErrorCode: NoErrorCode, Status: "Active"},
		{ID: "Vehicle-103", Model: "Truck", EngineTemp: 95, OilLife: 60, TirePressure: 30, Odometer: 55000, ErrorCode: NoErrorCode, Status: "Active"},
		{ID: "Vehicle-104", Model: "Sedan", EngineTemp: 88, OilLife: 90, TirePressure: 35, Odometer: 5000, ErrorCode: NoErrorCode, Status: "Active"},
		{ID: "Vehicle-105", Model: "Coupe", EngineTemp: 105, OilLife: 20, TirePressure: 31, Odometer: 62000, ErrorCode: "P0420", Status: "Warning"},
		{ID: "Vehicle-106", Model: "Van", EngineTemp: 91, OilLife: 55, TirePressure: 33, Odometer: 30000, ErrorCode: NoErrorCode, Status: "Active"},
		{ID: "Vehicle-107", Model: "SUV", EngineTemp: 89, OilLife: 80, TirePressure: 35, Odometer: 15000, ErrorCode: NoErrorCode, Status: "Active"},
		{ID: "Vehicle-108", Model: "Truck", EngineTemp: 112, OilLife: 10, TirePressure: 28, Odometer: 85000, ErrorCode: "P0118", Status: "Critical",
			History: []ServiceRecord{
				{Date: "2024-02-01", Type: "Brake Pad", Description: "Replaced front brake pads", Cost: 200},
			}},
		{ID: "Vehicle-109", Model: "Sedan", EngineTemp: 90, OilLife: 75, TirePressure: 34, Odometer: 20000, ErrorCode: NoErrorCode, Status: "Active"},
	}
	capa := []CAPARecord{
		{Component: "Coolant Sensor", Defect: "Seal Failure", Action: "Replace with Part #992-B (Upgraded Gasket)", Batch: "Batch-992"},
		{Component: "Catalytic Converter", Defect: "Efficiency Below Threshold", Action: "Check O2 Sensor first", Batch: "Batch-101"},
	}
	return NewDB(vehicles, capa, []string{"09:00", "10:00", "11:00", "13:00", "14:00", "15:00", "16:00"})
}

// Vehicle returns a copy of the vehicle with id.
func (db *DB) Vehicle(id string) (Vehicle, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	v, ok := db.vehicles[id]
	if !ok {
		return Vehicle{}, fmt.Errorf("%w: %q", ErrVehicleNotFound, id)
	}
	out := *v
	out.History = append([]ServiceRecord(nil), v.History...)
	return out, nil
}

// Vehicles returns every vehicle ordered by id.
func (db *DB) Vehicles() []Vehicle {
	db.mu.RLock()
	ids := make([]string, 0, len(db.vehicles))
	for id := range db.vehicles {
		ids = append(ids, id)
	}
	db.mu.RUnlock()

	sort.Strings(ids)
	out := make([]Vehicle, 0, len(ids))
	for _, id := range ids {
		if v, err := db.Vehicle(id); err == nil {
			out = append(out, v)
		}
	}
	return out
}

// SetEngineTemp records a new engine temperature reading.
func (db *DB) SetEngineTemp(id string, temp float64) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	v, ok := db.vehicles[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrVehicleNotFound, id)
	}
	v.EngineTemp = temp
	return nil
}

// UpdateStatus sets the operational status of a vehicle.
func (db *DB) UpdateStatus(id, status string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	v, ok := db.vehicles[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrVehicleNotFound, id)
	}
	v.Status = status
	return nil
}

// CAPAFor returns CAPA records whose component appears in diagnosis.
func (db *DB) CAPAFor(diagnosis string) []CAPARecord {
	db.mu.RLock()
	defer db.mu.RUnlock()

	text := strings.ToLower(diagnosis)
	var out []CAPARecord
	for _, rec := range db.capa {
		if strings.Contains(text, strings.ToLower(rec.Component)) {
			out = append(out, rec)
		}
	}
	return out
}

// OpenSlots returns the times of unbooked slots in order.
func (db *DB) OpenSlots() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var out []string
	for _, s := range db.slots {
		if !s.Booked() {
			out = append(out, s.Time)
		}
	}
	return out
}

// Book reserves slot for vehicleID. slot may be loosely formatted
// ("10am", "Tomorrow 2pm", "14:00"). Booking is not idempotent: a second
// booking of the same slot fails.
func (db *DB) Book(slot, vehicleID string) (string, error) {
	normalized, ok := NormalizeSlot(slot)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrSlotUnavailable, slot)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.vehicles[vehicleID]; !ok {
		return "", fmt.Errorf("%w: %q", ErrVehicleNotFound, vehicleID)
	}
	for i := range db.slots {
		if db.slots[i].Time != normalized {
			continue
		}
		if db.slots[i].Booked() {
			return "", fmt.Errorf("%w: %s already booked", ErrSlotUnavailable, normalized)
		}
		db.slots[i].VehicleID = vehicleID
		return normalized, nil
	}
	return "", fmt.Errorf("%w: %s", ErrSlotUnavailable, normalized)
}

// Notify records a notification.
func (db *DB) Notify(audience, vehicleID, message string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.notifications = append(db.notifications, Notification{
		Audience:  audience,
		VehicleID: vehicleID,
		Message:   message,
		SentAt:    db.now(),
	})
}

// Notifications returns all recorded notifications.
func (db *DB) Notifications() []Notification {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return append([]Notification(nil), db.notifications...)
}

// RecordFeedback stores a customer rating.
func (db *DB) RecordFeedback(text string, rating int) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.feedback = append(db.feedback, Feedback{Text: text, Rating: rating, RecordedAt: db.now()})
}

// FeedbackLog returns all recorded feedback.
func (db *DB) FeedbackLog() []Feedback {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return append([]Feedback(nil), db.feedback...)
}
