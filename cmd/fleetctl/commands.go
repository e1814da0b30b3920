package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	httpapi "github.com/fyrsmithlabs/fleetd/internal/http"
	"github.com/fyrsmithlabs/fleetd/internal/monitor"
	"github.com/fyrsmithlabs/fleetd/internal/transcript"
)

var (
	chatThread  string
	chatVehicle string
	trigVehicle string
)

func init() {
	chatCmd.Flags().StringVar(&chatThread, "thread", "", "continue an existing thread")
	chatCmd.Flags().StringVar(&chatVehicle, "vehicle", "", "vehicle the message is about (server default: Vehicle-123)")
	triggerCmd.Flags().StringVar(&trigVehicle, "vehicle", "", "check a single vehicle instead of the whole fleet")
}

// chatCmd sends a message through the maintenance pipeline
var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Send a message to the maintenance assistant",
	Long: `Send a message to the maintenance assistant and print its reply.

Examples:
  # Start a new conversation
  fleetctl chat "My engine light is on"

  # Continue a thread about a specific vehicle
  fleetctl chat --thread chat_1234 --vehicle Vehicle-101 "Book the earliest slot"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		resp, err := c.Chat(cmd.Context(), httpapi.ChatRequest{
			Message:   strings.Join(args, " "),
			ThreadID:  chatThread,
			VehicleID: chatVehicle,
		})
		if err != nil {
			return err
		}
		printChat(cmd.OutOrStdout(), resp)
		return nil
	},
}

// threadCmd prints a stored conversation
var threadCmd = &cobra.Command{
	Use:   "thread <id>",
	Short: "Show a conversation thread",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		th, err := c.Thread(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printThread(cmd.OutOrStdout(), th)
		return nil
	},
}

// alertsCmd lists recent proactive alerts
var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List recent proactive alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		alerts, err := c.Alerts(cmd.Context())
		if err != nil {
			return err
		}
		printAlerts(cmd.OutOrStdout(), alerts)
		return nil
	},
}

// triggerCmd runs a monitoring check now
var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Run a fleet health check now",
	Long: `Run the proactive health check immediately instead of waiting for the next sweep.

Examples:
  # Sweep every monitored vehicle
  fleetctl trigger

  # Check one vehicle
  fleetctl trigger --vehicle Vehicle-123`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		resp, err := c.TriggerCheck(cmd.Context(), trigVehicle)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s: %d checked, %d alerts\n", resp.Status, resp.Checked, len(resp.Alerts))
		printAlerts(out, resp.Alerts)
		for _, e := range resp.Errors {
			fmt.Fprintf(out, "error: %s\n", e)
		}
		return nil
	},
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check fleetd server health",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		h, err := c.Health(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Status: %s\n", h.Status)
		if len(h.MonitoredVehicles) > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "Monitoring: %s\n", strings.Join(h.MonitoredVehicles, ", "))
		}
		return nil
	},
}

func printChat(w io.Writer, resp *httpapi.ChatResponse) {
	fmt.Fprintln(w, resp.Response)
	fmt.Fprintf(w, "\n[thread %s, vehicle %s, %d steps", resp.ThreadID, resp.VehicleID, resp.Steps)
	if resp.Blocked {
		fmt.Fprint(w, ", blocked")
	}
	fmt.Fprintln(w, "]")
}

func printThread(w io.Writer, th *transcript.Thread) {
	for _, t := range th.Turns {
		switch {
		case t.HasToolCalls():
			names := make([]string, len(t.ToolCalls))
			for i, call := range t.ToolCalls {
				names[i] = call.Name
			}
			fmt.Fprintf(w, "%3d %-5s -> %s\n", t.Seq, t.Role, strings.Join(names, ", "))
		case t.Role == transcript.RoleTool:
			fmt.Fprintf(w, "%3d %-5s <- %s\n", t.Seq, t.Role, truncate(t.Content, 120))
		default:
			fmt.Fprintf(w, "%3d %-5s %s\n", t.Seq, t.Role, t.Content)
		}
	}
}

func printAlerts(w io.Writer, alerts []monitor.Alert) {
	if len(alerts) == 0 {
		fmt.Fprintln(w, "No alerts.")
		return
	}
	for _, a := range alerts {
		fmt.Fprintf(w, "%s  %-8s %-12s %s (thread %s)\n",
			a.Timestamp.Format("2006-01-02 15:04:05"), a.Severity, a.VehicleID, a.Message, a.ThreadID)
	}
}

// truncate shortens s to at most maxLen runes, marking the cut with "...".
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
