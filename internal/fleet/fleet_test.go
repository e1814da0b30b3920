package fleet

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDB_VehicleReturnsCopy(t *testing.T) {
	db := NewSeededDB()

	v, err := db.Vehicle("Vehicle-123")
	require.NoError(t, err)
	v.History[0].Cost = 0
	v.Status = "mutated"

	again, err := db.Vehicle("Vehicle-123")
	require.NoError(t, err)
	assert.Equal(t, 80, again.History[0].Cost)
	assert.Equal(t, "Active", again.Status)
}

func TestDB_Vehicles(t *testing.T) {
	vehicles := NewSeededDB().Vehicles()
	require.Len(t, vehicles, 10)
	assert.Equal(t, "Vehicle-101", vehicles[0].ID)
	assert.Equal(t, "Vehicle-123", vehicles[9].ID)
}

func TestDB_SetEngineTemp(t *testing.T) {
	db := NewSeededDB()
	require.NoError(t, db.SetEngineTemp("Vehicle-101", 120))

	v, err := db.Vehicle("Vehicle-101")
	require.NoError(t, err)
	assert.Equal(t, 120.0, v.EngineTemp)

	assert.ErrorIs(t, db.SetEngineTemp("Vehicle-000", 1), ErrVehicleNotFound)
}

func TestDB_Book(t *testing.T) {
	db := NewSeededDB()

	_, err := db.Book("10:00", "Vehicle-000")
	assert.ErrorIs(t, err, ErrVehicleNotFound)

	_, err = db.Book("soon", "Vehicle-123")
	assert.ErrorIs(t, err, ErrSlotUnavailable)

	slot, err := db.Book("2pm", "Vehicle-123")
	require.NoError(t, err)
	assert.Equal(t, "14:00", slot)
}

func TestDB_BookConcurrent(t *testing.T) {
	db := NewSeededDB()
	ids := []string{"Vehicle-101", "Vehicle-102", "Vehicle-103", "Vehicle-104", "Vehicle-105"}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := db.Book("09:00", id); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.NotContains(t, db.OpenSlots(), "09:00")
}

func TestDB_CAPAFor(t *testing.T) {
	db := NewSeededDB()
	assert.Len(t, db.CAPAFor("possible catalytic converter issue"), 1)
	assert.Empty(t, db.CAPAFor("flat tire"))
}
