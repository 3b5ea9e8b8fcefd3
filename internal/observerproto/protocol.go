package observerproto

// Version is the observer protocol version.
const Version = "1.0"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeTick      = "TICK"
	TypeReport    = "REPORT"
)

// Client -> Server. First message on the observer WS connection, and can be
// re-sent to update settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// EveryTicks thins the stream to one TICK message per N ticks (0 or 1 = all).
	EveryTicks int `json:"every_ticks,omitempty"`
	// IncludeTargets adds the live target list to every TICK.
	IncludeTargets bool `json:"include_targets,omitempty"`
}

// HTTP response for GET /v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string      `json:"protocol_version"`
	RunID           string      `json:"run_id"`
	Scenario        string      `json:"scenario"`
	Tick            uint64      `json:"tick"`
	WorldParams     WorldParams `json:"world_params"`
	Walls           [][2]int    `json:"walls"`
	Zones           []ZoneInfo  `json:"zones"`
}

type WorldParams struct {
	TickRateHz int        `json:"tick_rate_hz"`
	GridSize   int        `json:"grid_size"`
	CellWidth  float64    `json:"cell_width"`
	CellHeight float64    `json:"cell_height"`
	Origin     [2]float64 `json:"origin"`
	Seed       int64      `json:"seed"`
	MaxTicks   uint64     `json:"max_ticks"`
}

type ZoneInfo struct {
	Color string `json:"color"`
	Cell  [2]int `json:"cell"`
}

// Server -> Client. Sent every tick (or every EveryTicks).
type TickMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`

	Live      int `json:"live"`
	Carried   int `json:"carried"`
	Delivered int `json:"delivered"`
	Waiting   int `json:"waiting"`

	Agents    []AgentState   `json:"agents"`
	Targets   []TargetState  `json:"targets,omitempty"`
	Conflicts []ConflictInfo `json:"conflicts,omitempty"`
}

type AgentState struct {
	ID        int        `json:"id"`
	Color     string     `json:"color"`
	State     string     `json:"state"`
	Cell      [2]int     `json:"cell"`
	Pos       [2]float64 `json:"pos"`
	Carrying  bool       `json:"carrying"`
	Delivered int        `json:"delivered"`
	Moves     int        `json:"moves"`
	Target    *[2]int    `json:"target,omitempty"`
	WaitTicks int        `json:"wait_ticks,omitempty"`
}

type TargetState struct {
	ID    int    `json:"id"`
	Color string `json:"color"`
	Cell  [2]int `json:"cell"`
}

type ConflictInfo struct {
	Winner int `json:"winner"`
	Loser  int `json:"loser"`
}

// Server -> Client. Sent once when the run completes.
type ReportMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`

	Reason       string  `json:"reason"`
	Collected    int     `json:"collected"`
	Initial      int     `json:"initial"`
	SuccessPct   float64 `json:"success_pct"`
	Success      bool    `json:"success"`
	TotalMoves   int     `json:"total_moves"`
	Efficiency   float64 `json:"efficiency"`
	ElapsedTicks uint64  `json:"elapsed_ticks"`
}
