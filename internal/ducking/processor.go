// Package ducking implements side-chain ducking: the local channel is muted
// (or attenuated) while the remote channel is loud.
package ducking

import (
	"fmt"

	"github.com/satriahrh/sidechain/internal/audio"
)

// Config holds the ducking parameters
type Config struct {
	ThresholdDB   float64 `yaml:"threshold_db"`   // EMA level that counts as "remote is loud"
	AttackFrames  int     `yaml:"attack_frames"`  // loud blocks before muting
	ReleaseFrames int     `yaml:"release_frames"` // quiet blocks before un-muting
	Alpha         float64 `yaml:"alpha"`          // EMA smoothing factor, (0, 1]
	Attenuation   float64 `yaml:"attenuation"`    // gain applied while ducking, 0 mutes

	// Channel mapping: the remote channel drives the gate, the local
	// channel is the one attenuated.
	LocalChannel  int `yaml:"local_channel"`
	RemoteChannel int `yaml:"remote_channel"`
}

// DefaultConfig returns the default ducking configuration
func DefaultConfig() Config {
	return Config{
		ThresholdDB:   -45,
		AttackFrames:  2,
		ReleaseFrames: 8,
		Alpha:         0.5,
		Attenuation:   0,
		LocalChannel:  0,
		RemoteChannel: 1,
	}
}

// Validate validates the ducking configuration
func (c Config) Validate() error {
	if c.Alpha <= 0 || c.Alpha > 1 {
		return fmt.Errorf("alpha must be in (0, 1], got %f", c.Alpha)
	}
	if c.AttackFrames < 1 {
		return fmt.Errorf("attack_frames must be at least 1, got %d", c.AttackFrames)
	}
	if c.ReleaseFrames < 1 {
		return fmt.Errorf("release_frames must be at least 1, got %d", c.ReleaseFrames)
	}
	if c.Attenuation < 0 || c.Attenuation > 1 {
		return fmt.Errorf("attenuation must be in [0, 1], got %f", c.Attenuation)
	}
	if c.LocalChannel < 0 || c.RemoteChannel < 0 {
		return fmt.Errorf("channel indices must not be negative")
	}
	if c.LocalChannel == c.RemoteChannel {
		return fmt.Errorf("local and remote channel must differ, both are %d", c.LocalChannel)
	}
	return nil
}

// State is the hysteresis state, updated once per block
type State struct {
	EMALevelDB   float64 `json:"ema_level_db"`
	LevelDB      float64 `json:"level_db"`
	AttackCount  int     `json:"attack_count"`
	ReleaseCount int     `json:"release_count"`
	Active       bool    `json:"ducking_active"`
}

// Processor is the per-block ducking state machine. It is owned by the
// capture goroutine and is not safe for concurrent use.
type Processor struct {
	cfg    Config
	state  State
	primed bool
}

// NewProcessor creates a ducking processor
func NewProcessor(cfg Config) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Processor{
		cfg:   cfg,
		state: State{EMALevelDB: audio.SilenceFloorDB, LevelDB: audio.SilenceFloorDB},
	}, nil
}

// Config returns the processor configuration
func (p *Processor) Config() Config {
	return p.cfg
}

// State returns a copy of the current state
func (p *Processor) State() State {
	return p.state
}

// Update measures one remote block and advances the hysteresis. The EMA is
// seeded with the first block's level so a constant signal is seen at its
// true level from the first block on.
func (p *Processor) Update(remote []int16) State {
	level := audio.LevelDB(remote)
	if !p.primed {
		p.state.EMALevelDB = level
		p.primed = true
	} else {
		p.state.EMALevelDB = p.cfg.Alpha*level + (1-p.cfg.Alpha)*p.state.EMALevelDB
	}
	p.state.LevelDB = level

	if p.state.EMALevelDB > p.cfg.ThresholdDB {
		p.state.AttackCount++
		p.state.ReleaseCount = 0
	} else {
		p.state.ReleaseCount++
		p.state.AttackCount = 0
	}

	if p.state.AttackCount >= p.cfg.AttackFrames {
		p.state.Active = true
	}
	if p.state.ReleaseCount >= p.cfg.ReleaseFrames {
		p.state.Active = false
	}

	return p.state
}

// Apply attenuates local in place when ducking is active
func (p *Processor) Apply(local []int16) {
	if !p.state.Active {
		return
	}
	if p.cfg.Attenuation == 0 {
		clear(local)
		return
	}
	for i, s := range local {
		local[i] = int16(float64(s) * p.cfg.Attenuation)
	}
}

// Process runs Update on the remote block then Apply on the local block
func (p *Processor) Process(local, remote []int16) State {
	state := p.Update(remote)
	p.Apply(local)
	return state
}
