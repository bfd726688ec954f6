package tracks

import (
	"fmt"
	"strings"

	"github.com/tarcisiobannwart/tennis-tracking/internal/config"
	"github.com/tarcisiobannwart/tennis-tracking/internal/tracking/motion"
)

// Class is the object class of a detection or track. Class is a hard
// association constraint: a ball track never absorbs a player detection.
type Class int

const (
	Ball Class = iota
	Player
)

// Classes lists every class in association order.
var Classes = []Class{Ball, Player}

func (c Class) String() string {
	switch c {
	case Ball:
		return "ball"
	case Player:
		return "player"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// ParseClass parses a class name case-insensitively.
func ParseClass(s string) (Class, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ball":
		return Ball, nil
	case "player", "person":
		return Player, nil
	default:
		return Ball, fmt.Errorf("unknown object class %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c Class) MarshalText() ([]byte, error) {
	if c != Ball && c != Player {
		return nil, fmt.Errorf("invalid object class %d", int(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Class) UnmarshalText(b []byte) error {
	parsed, err := ParseClass(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ClassParams holds the class-specific motion and lifecycle parameters.
type ClassParams struct {
	Motion    motion.Model
	Estimator motion.Params

	HitsToConfirm      int // consecutive hits before tentative → confirmed
	MaxMisses          int // M: confirmed → lost once misses exceed this
	LostGrace          int // G: lost → deleted once misses exceed M+G
	TentativeMaxMisses int // tentative → deleted once misses exceed this

	GatingDistance float64 // pixels; Euclidean gate on the predicted position
	MaxCost        float64 // squared Mahalanobis distance above which a pair is infeasible
}

// Config holds configuration for the track manager.
type Config struct {
	MaxTracks     int // live tracks across all classes
	HistoryLength int // samples kept per track

	Ball   ClassParams
	Player ClassParams
}

// Params returns the parameters for a class.
func (c Config) Params(class Class) ClassParams {
	if class == Ball {
		return c.Ball
	}
	return c.Player
}

// DefaultConfig returns manager configuration loaded from the canonical
// tuning defaults file (config/tuning.defaults.json).
// Panics if the file cannot be found.
func DefaultConfig() Config {
	return ConfigFromTuning(config.MustLoadDefaultConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	limits := func(p motion.Params) motion.Params {
		p.MaxPredictDt = cfg.GetMaxPredictDt()
		p.MaxCovarianceDiag = cfg.GetMaxCovarianceDiag()
		p.MaxConditionNumber = cfg.GetMaxConditionNumber()
		return p
	}
	return Config{
		MaxTracks:     cfg.GetMaxTracks(),
		HistoryLength: cfg.GetHistoryLength(),
		Ball: ClassParams{
			Motion: motion.VerticalAcceleration,
			Estimator: limits(motion.Params{
				ProcessNoisePos:  cfg.GetBallProcessNoisePos(),
				ProcessNoiseVel:  cfg.GetBallProcessNoiseVel(),
				ProcessNoiseAcc:  cfg.GetBallProcessNoiseAcc(),
				MeasurementNoise: cfg.GetBallMeasurementNoise(),
				InitialPosVar:    cfg.GetBallInitialPosVar(),
				InitialVelVar:    cfg.GetBallInitialVelVar(),
				InitialAccVar:    cfg.GetBallInitialAccVar(),
			}),
			HitsToConfirm:      cfg.GetBallHitsToConfirm(),
			MaxMisses:          cfg.GetBallMaxMisses(),
			LostGrace:          cfg.GetBallLostGrace(),
			TentativeMaxMisses: cfg.GetBallTentativeMaxMisses(),
			GatingDistance:     cfg.GetBallGatingDistance(),
			MaxCost:            cfg.GetBallMaxCost(),
		},
		Player: ClassParams{
			Motion: motion.ConstantVelocity,
			Estimator: limits(motion.Params{
				ProcessNoisePos:  cfg.GetPlayerProcessNoisePos(),
				ProcessNoiseVel:  cfg.GetPlayerProcessNoiseVel(),
				MeasurementNoise: cfg.GetPlayerMeasurementNoise(),
				InitialPosVar:    cfg.GetPlayerInitialPosVar(),
				InitialVelVar:    cfg.GetPlayerInitialVelVar(),
			}),
			HitsToConfirm:      cfg.GetPlayerHitsToConfirm(),
			MaxMisses:          cfg.GetPlayerMaxMisses(),
			LostGrace:          cfg.GetPlayerLostGrace(),
			TentativeMaxMisses: cfg.GetPlayerTentativeMaxMisses(),
			GatingDistance:     cfg.GetPlayerGatingDistance(),
			MaxCost:            cfg.GetPlayerMaxCost(),
		},
	}
}
