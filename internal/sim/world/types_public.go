package world

import (
	"gemrunners.ai/internal/sim/agent"
	"gemrunners.ai/internal/sim/scenario"
	"gemrunners.ai/internal/sim/tuning"
)

// TickLogger receives one entry per logged tick.
type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

// EventLogger receives deliveries, conflicts and the final report.
type EventLogger interface {
	WriteEvent(entry EventEntry) error
}

// RunInfo is everything needed to re-run a simulation bit for bit.
type RunInfo struct {
	RunID  string          `json:"run_id"`
	Seed   int64           `json:"seed"`
	Layout scenario.Layout `json:"layout"`
	Tuning tuning.Tuning   `json:"tuning"`
}

type TickLogEntry struct {
	// Run is only set on the first entry of a log.
	Run *RunInfo `json:"run,omitempty"`

	Tick      uint64       `json:"tick"`
	Live      int          `json:"live"`
	Carried   int          `json:"carried"`
	Delivered int          `json:"delivered"`
	Total     int          `json:"total"`
	Agents    []AgentEntry `json:"agents"`
	Digest    string       `json:"digest"`
}

type AgentEntry struct {
	ID        int    `json:"id"`
	State     string `json:"state"`
	Cell      [2]int `json:"cell"`
	Carrying  bool   `json:"carrying"`
	Delivered int    `json:"delivered"`
	Moves     int    `json:"moves"`
}

const (
	EventDelivery = "DELIVERY"
	EventConflict = "CONFLICT"
	EventComplete = "RUN_COMPLETE"
)

type EventEntry struct {
	Tick   uint64  `json:"tick"`
	Kind   string  `json:"kind"`
	Agent  int     `json:"agent"`
	Other  int     `json:"other,omitempty"`
	Target int     `json:"target,omitempty"`
	Color  string  `json:"color,omitempty"`
	Cell   [2]int  `json:"cell"`
	Value  float64 `json:"value,omitempty"`
	Reason string  `json:"reason,omitempty"`

	// Report is only set on RUN_COMPLETE.
	Report *Report `json:"report,omitempty"`
}

type CompletionReason string

const (
	ReasonRunning      CompletionReason = ""
	ReasonTimeExpired  CompletionReason = "TIME_EXPIRED"
	ReasonAllCollected CompletionReason = "ALL_COLLECTED"
)

// Stats is the per-tick view published for readers outside the loop.
type Stats struct {
	RunID      string `json:"run_id"`
	Tick       uint64 `json:"tick"`
	Live       int    `json:"live"`
	Carried    int    `json:"carried"`
	Delivered  int    `json:"delivered"`
	Total      int    `json:"total"`
	TotalMoves int    `json:"total_moves"`
	Waiting    int    `json:"waiting"`
	// MinSeparation is the smallest distance from an agent to another agent
	// as the arbiter last saw it; zero before the first tick.
	MinSeparation float64          `json:"min_separation"`
	Agents        []agent.Status   `json:"agents"`
	Done          bool             `json:"done"`
	Reason        CompletionReason `json:"reason,omitempty"`
}

type AgentReport struct {
	ID        int    `json:"id"`
	Color     string `json:"color"`
	Delivered int    `json:"delivered"`
	Moves     int    `json:"moves"`
}

// Report summarizes a run. It is final once Reason is set.
type Report struct {
	RunID            string           `json:"run_id"`
	Reason           CompletionReason `json:"reason"`
	ElapsedTicks     uint64           `json:"elapsed_ticks"`
	ElapsedSeconds   float64          `json:"elapsed_seconds"`
	Initial          int              `json:"initial"`
	Collected        int              `json:"collected"`
	SuccessPct       float64          `json:"success_pct"`
	Success          bool             `json:"success"`
	TotalMoves       int              `json:"total_moves"`
	TargetsPerSecond float64          `json:"targets_per_second"`
	MovesPerTarget   float64          `json:"moves_per_target"`
	Efficiency       float64          `json:"efficiency"`
	Agents           []AgentReport    `json:"agents"`
}
