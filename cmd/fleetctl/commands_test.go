package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpapi "github.com/fyrsmithlabs/fleetd/internal/http"
	"github.com/fyrsmithlabs/fleetd/internal/monitor"
	"github.com/fyrsmithlabs/fleetd/internal/transcript"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{name: "shorter than max", input: "hello", maxLen: 10, want: "hello"},
		{name: "exact length", input: "hello", maxLen: 5, want: "hello"},
		{name: "cut with marker", input: "hello world", maxLen: 8, want: "hello..."},
		{name: "tiny max", input: "hello", maxLen: 2, want: "he"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, truncate(tt.input, tt.maxLen))
		})
	}
}

func TestPrintThread(t *testing.T) {
	th := &transcript.Thread{Turns: []transcript.Turn{
		{Seq: 1, Role: transcript.RoleHuman, Content: "Check Vehicle-123"},
		{Seq: 2, Role: transcript.RoleAgent, ToolCalls: []transcript.ToolCall{{ID: "c1", Name: "fetch_telematics_data"}}},
		{Seq: 3, Role: transcript.RoleTool, ToolCallID: "c1", Content: `{"engine_temp":115}`},
		{Seq: 4, Role: transcript.RoleAgent, Content: "Engine is overheating."},
	}}

	var buf bytes.Buffer
	printThread(&buf, th)
	out := buf.String()
	assert.Contains(t, out, "human Check Vehicle-123")
	assert.Contains(t, out, "-> fetch_telematics_data")
	assert.Contains(t, out, `<- {"engine_temp":115}`)
	assert.Contains(t, out, "Engine is overheating.")
}

func TestPrintAlerts_Empty(t *testing.T) {
	var buf bytes.Buffer
	printAlerts(&buf, nil)
	assert.Equal(t, "No alerts.\n", buf.String())
}

func TestChatCommand(t *testing.T) {
	var got httpapi.ChatRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(httpapi.ChatResponse{
			Response: "Booked for 10:00.", VehicleID: "Vehicle-101", ThreadID: "chat_1", Steps: 3,
		})
	}))
	defer ts.Close()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"chat", "--server", ts.URL, "--vehicle", "Vehicle-101", "Book", "the", "earliest", "slot"})
	require.NoError(t, rootCmd.Execute())

	assert.Equal(t, "Book the earliest slot", got.Message)
	assert.Equal(t, "Vehicle-101", got.VehicleID)
	assert.Contains(t, out.String(), "Booked for 10:00.")
	assert.Contains(t, out.String(), "[thread chat_1, vehicle Vehicle-101, 3 steps]")
}

func TestTriggerCommand(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/trigger_check", r.URL.Path)
		_ = json.NewEncoder(w).Encode(httpapi.TriggerResponse{
			Status:  "Check triggered",
			Checked: 2,
			Alerts: []monitor.Alert{{
				VehicleID: "Vehicle-123",
				Severity:  monitor.SeverityCritical,
				Message:   "Engine overheating",
				ThreadID:  "alert_Vehicle-123_1",
				Timestamp: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
			}},
		})
	}))
	defer ts.Close()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"trigger", "--server", ts.URL})
	require.NoError(t, rootCmd.Execute())

	assert.Contains(t, out.String(), "Check triggered: 2 checked, 1 alerts")
	assert.Contains(t, out.String(), "2025-03-01 09:00:00  CRITICAL Vehicle-123")
}

func TestHealthCommand_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(httpapi.ErrorResponse{Error: "worker_unavailable", Message: "down"})
	}))
	defer ts.Close()

	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"health", "--server", ts.URL})
	assert.Error(t, rootCmd.Execute())
}
