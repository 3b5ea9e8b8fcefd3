package tuning

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"gemrunners.ai/internal/sim/agent"
	"gemrunners.ai/internal/sim/arbiter"
)

// Tuning holds every simulation knob. Durations are in ticks.
type Tuning struct {
	TickRateHz           int     `yaml:"tick_rate_hz" json:"tick_rate_hz"`
	MaxTicks             uint64  `yaml:"max_ticks" json:"max_ticks"`
	StuckCheckEveryTicks uint64  `yaml:"stuck_check_every_ticks" json:"stuck_check_every_ticks"`
	SuccessThresholdPct  float64 `yaml:"success_threshold_pct" json:"success_threshold_pct"`

	Agents    Agents    `yaml:"agents" json:"agents"`
	Collision Collision `yaml:"collision" json:"collision"`
	Logs      Logs      `yaml:"logs" json:"logs"`
}

type Agents struct {
	MoveTicks                 int     `yaml:"move_ticks" json:"move_ticks"`
	CellDelayTicks            int     `yaml:"cell_delay_ticks" json:"cell_delay_ticks"`
	MaxPathRetries            int     `yaml:"max_path_retries" json:"max_path_retries"`
	PickupRange               float64 `yaml:"pickup_range" json:"pickup_range"`
	Candidates                int     `yaml:"candidates" json:"candidates"`
	StuckDetectionTicks       uint64  `yaml:"stuck_detection_ticks" json:"stuck_detection_ticks"`
	ForceExplorationTicks     uint64  `yaml:"force_exploration_ticks" json:"force_exploration_ticks"`
	WaitingRescanTicks        uint64  `yaml:"waiting_rescan_ticks" json:"waiting_rescan_ticks"`
	FailedTargetPruneDistance float64 `yaml:"failed_target_prune_distance" json:"failed_target_prune_distance"`
	FailedTargetsMax          int     `yaml:"failed_targets_max" json:"failed_targets_max"`
	DebugLogs                 bool    `yaml:"debug_logs" json:"debug_logs"`
}

type Collision struct {
	DetectionRadius     float64 `yaml:"detection_radius" json:"detection_radius"`
	SafeDistance        float64 `yaml:"safe_distance" json:"safe_distance"`
	HeadingDot          float64 `yaml:"heading_dot" json:"heading_dot"`
	WaitTicks           int     `yaml:"wait_ticks" json:"wait_ticks"`
	CarryingHasPriority bool    `yaml:"carrying_has_priority" json:"carrying_has_priority"`
	LowerIDHasPriority  bool    `yaml:"lower_id_has_priority" json:"lower_id_has_priority"`
}

// Logs controls the observation outputs; none of it feeds back into the run.
type Logs struct {
	TickLogEveryTicks uint64 `yaml:"tick_log_every_ticks" json:"tick_log_every_ticks"`
	IndexEveryTicks   uint64 `yaml:"index_every_ticks" json:"index_every_ticks"`
}

func Defaults() Tuning {
	ac := agent.DefaultConfig()
	cc := arbiter.DefaultConfig()
	return Tuning{
		TickRateHz:           20,
		MaxTicks:             6000,
		StuckCheckEveryTicks: 40,
		SuccessThresholdPct:  90,
		Agents: Agents{
			MoveTicks:                 ac.MoveTicks,
			CellDelayTicks:            ac.CellDelayTicks,
			MaxPathRetries:            ac.MaxPathRetries,
			PickupRange:               ac.PickupRange,
			Candidates:                ac.Candidates,
			StuckDetectionTicks:       ac.StuckDetectionTicks,
			ForceExplorationTicks:     ac.ForceExplorationTicks,
			WaitingRescanTicks:        ac.WaitingRescanTicks,
			FailedTargetPruneDistance: ac.FailedTargetPruneDistance,
			FailedTargetsMax:          ac.FailedTargetsMax,
		},
		Collision: Collision{
			DetectionRadius:     cc.DetectionRadius,
			SafeDistance:        cc.SafeDistance,
			HeadingDot:          cc.HeadingDot,
			WaitTicks:           cc.WaitTicks,
			CarryingHasPriority: cc.CarryingHasPriority,
			LowerIDHasPriority:  cc.LowerIDHasPriority,
		},
		Logs: Logs{
			TickLogEveryTicks: 1,
			IndexEveryTicks:   20,
		},
	}
}

// Load reads path over Defaults(), so keys missing from the file keep their
// default value.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	var errs []error
	if t.TickRateHz <= 0 {
		errs = append(errs, fmt.Errorf("tick_rate_hz must be > 0"))
	}
	if t.MaxTicks == 0 {
		errs = append(errs, fmt.Errorf("max_ticks must be > 0"))
	}
	if t.StuckCheckEveryTicks == 0 {
		errs = append(errs, fmt.Errorf("stuck_check_every_ticks must be > 0"))
	}
	if t.SuccessThresholdPct < 0 || t.SuccessThresholdPct > 100 {
		errs = append(errs, fmt.Errorf("success_threshold_pct out of range: %v", t.SuccessThresholdPct))
	}
	if t.Agents.MoveTicks <= 0 {
		errs = append(errs, fmt.Errorf("agents.move_ticks must be > 0"))
	}
	if t.Agents.CellDelayTicks < 0 {
		errs = append(errs, fmt.Errorf("agents.cell_delay_ticks must be >= 0"))
	}
	if t.Agents.MaxPathRetries <= 0 {
		errs = append(errs, fmt.Errorf("agents.max_path_retries must be > 0"))
	}
	if t.Agents.StuckDetectionTicks == 0 {
		errs = append(errs, fmt.Errorf("agents.stuck_detection_ticks must be > 0"))
	}
	if t.Collision.SafeDistance > t.Collision.DetectionRadius {
		errs = append(errs, fmt.Errorf("collision.safe_distance %v exceeds detection_radius %v", t.Collision.SafeDistance, t.Collision.DetectionRadius))
	}
	if t.Collision.WaitTicks < 0 {
		errs = append(errs, fmt.Errorf("collision.wait_ticks must be >= 0"))
	}
	return errors.Join(errs...)
}

func (t Tuning) AgentConfig() agent.Config {
	return agent.Config{
		MoveTicks:                 t.Agents.MoveTicks,
		CellDelayTicks:            t.Agents.CellDelayTicks,
		MaxPathRetries:            t.Agents.MaxPathRetries,
		PickupRange:               t.Agents.PickupRange,
		Candidates:                t.Agents.Candidates,
		StuckDetectionTicks:       t.Agents.StuckDetectionTicks,
		ForceExplorationTicks:     t.Agents.ForceExplorationTicks,
		WaitingRescanTicks:        t.Agents.WaitingRescanTicks,
		FailedTargetPruneDistance: t.Agents.FailedTargetPruneDistance,
		FailedTargetsMax:          t.Agents.FailedTargetsMax,
		DebugLogs:                 t.Agents.DebugLogs,
	}
}

func (t Tuning) ArbiterConfig() arbiter.Config {
	return arbiter.Config{
		DetectionRadius:     t.Collision.DetectionRadius,
		SafeDistance:        t.Collision.SafeDistance,
		HeadingDot:          t.Collision.HeadingDot,
		WaitTicks:           t.Collision.WaitTicks,
		CarryingHasPriority: t.Collision.CarryingHasPriority,
		LowerIDHasPriority:  t.Collision.LowerIDHasPriority,
	}
}
