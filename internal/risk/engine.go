// Package risk evaluates order intents before they reach the session.
// A denial never produces network traffic.
package risk

import (
	"github.com/arda-arslan/cryptobot/internal/schema"
)

// Config defines the static limits.
type Config struct {
	// MaxExposure caps the absolute projected net position. Zero disables
	// the check.
	MaxExposure schema.Quantity `json:"maxExposure"`
	// MinOrderSize floors intent size; smaller intents are denied so the
	// venue's minimum trade size is never hit.
	MinOrderSize schema.Quantity `json:"minOrderSize"`
	// KillSwitch denies everything when set.
	KillSwitch bool `json:"killSwitch"`
}

// Action is the outcome of a risk decision.
type Action uint16

const (
	ActionAllow Action = iota
	ActionDeny
)

// Reason explains a denial.
type Reason uint16

const (
	ReasonNone Reason = iota
	ReasonKillSwitch
	ReasonExposureLimit
	ReasonMinSize
	ReasonBadIntent
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonKillSwitch:
		return "kill_switch"
	case ReasonExposureLimit:
		return "exposure_limit"
	case ReasonMinSize:
		return "min_size"
	case ReasonBadIntent:
		return "bad_intent"
	default:
		return "unknown"
	}
}

// Decision carries the evaluation outcome and its inputs for logging.
type Decision struct {
	Action       Action
	Reason       Reason
	ProjectedPos schema.Quantity
	MaxExposure  schema.Quantity
}

// Allowed reports whether the intent may proceed.
func (d Decision) Allowed() bool { return d.Action == ActionAllow }

// Engine evaluates risk decisions against static limits.
type Engine struct {
	cfg Config
}

// NewEngine creates a risk engine with static limits.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Evaluate checks an intent against the current net position. The
// projected exposure after a full fill must stay within MaxExposure.
func (e *Engine) Evaluate(side schema.Side, qty schema.Quantity, position schema.Quantity) Decision {
	decision := Decision{
		Action:      ActionAllow,
		Reason:      ReasonNone,
		MaxExposure: e.cfg.MaxExposure,
	}

	if e.cfg.KillSwitch {
		decision.Action = ActionDeny
		decision.Reason = ReasonKillSwitch
		return decision
	}

	if qty <= 0 {
		decision.Action = ActionDeny
		decision.Reason = ReasonBadIntent
		return decision
	}

	if e.cfg.MinOrderSize > 0 && qty < e.cfg.MinOrderSize {
		decision.Action = ActionDeny
		decision.Reason = ReasonMinSize
		return decision
	}

	projected := position
	switch side {
	case schema.SideBuy:
		projected += qty
	case schema.SideSell:
		projected -= qty
	default:
		decision.Action = ActionDeny
		decision.Reason = ReasonBadIntent
		return decision
	}
	decision.ProjectedPos = projected

	if e.cfg.MaxExposure > 0 {
		abs := projected
		if abs < 0 {
			abs = -abs
		}
		if abs > e.cfg.MaxExposure {
			decision.Action = ActionDeny
			decision.Reason = ReasonExposureLimit
			return decision
		}
	}

	return decision
}
