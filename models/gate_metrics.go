package models

import "time"

// VerificationRecord is what the metrics recorder receives for every
// successful gate verification.
type VerificationRecord struct {
	EntryID    string    `json:"entry_id"`
	EventID    string    `json:"event_id"`
	GateID     string    `json:"gate_id"`
	UserID     string    `json:"user_id"`
	VerifiedAt time.Time `json:"verified_at"`
}

type RecentEntry struct {
	UserID     string    `json:"user_id"`
	VerifiedAt time.Time `json:"verified_at"`
}

type GateBreakdown struct {
	TotalEntries  int            `json:"total_entries"`
	RecentEntries []RecentEntry  `json:"recent_entries"`
	HourlyFlow    map[string]int `json:"hourly_flow"`
}

type EventMetricsSummary struct {
	TotalEntries       int                      `json:"total_entries"`
	CurrentFlowPerHour int                      `json:"current_flow_per_hour"`
	GateBreakdown      map[string]GateBreakdown `json:"gate_breakdown"`
	Gates              []string                 `json:"gates"`
}

type RealtimeGateFlow struct {
	WindowMinutes int            `json:"window_minutes"`
	GateFlow      map[string]int `json:"gate_flow"`
	TotalFlow     int            `json:"total_flow"`
}
