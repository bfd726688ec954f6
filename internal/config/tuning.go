package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for tuning parameters.
// The schema is flat so a partial JSON file only overrides the keys it names;
// every other value falls back to the defaults returned by the Get* methods.
type TuningConfig struct {
	// Tracker params
	MaxTracks          *int     `json:"max_tracks,omitempty" validate:"omitempty,gt=0"`
	MaxPredictDt       *float64 `json:"max_predict_dt,omitempty" validate:"omitempty,gt=0"` // seconds
	MaxCovarianceDiag  *float64 `json:"max_covariance_diag,omitempty" validate:"omitempty,gt=0"`
	MaxConditionNumber *float64 `json:"max_condition_number,omitempty" validate:"omitempty,gt=1"`
	HistoryLength      *int     `json:"history_length,omitempty" validate:"omitempty,gt=0"`

	// Ball class params (pixel space)
	BallProcessNoisePos    *float64 `json:"ball_process_noise_pos,omitempty" validate:"omitempty,gte=0"`
	BallProcessNoiseVel    *float64 `json:"ball_process_noise_vel,omitempty" validate:"omitempty,gte=0"`
	BallProcessNoiseAcc    *float64 `json:"ball_process_noise_acc,omitempty" validate:"omitempty,gte=0"`
	BallMeasurementNoise   *float64 `json:"ball_measurement_noise,omitempty" validate:"omitempty,gt=0"`
	BallInitialPosVar      *float64 `json:"ball_initial_pos_var,omitempty" validate:"omitempty,gt=0"`
	BallInitialVelVar      *float64 `json:"ball_initial_vel_var,omitempty" validate:"omitempty,gt=0"`
	BallInitialAccVar      *float64 `json:"ball_initial_acc_var,omitempty" validate:"omitempty,gt=0"`
	BallHitsToConfirm      *int     `json:"ball_hits_to_confirm,omitempty" validate:"omitempty,gte=1"`
	BallMaxMisses          *int     `json:"ball_max_misses,omitempty" validate:"omitempty,gte=0"`
	BallLostGrace          *int     `json:"ball_lost_grace,omitempty" validate:"omitempty,gte=0"`
	BallTentativeMaxMisses *int     `json:"ball_tentative_max_misses,omitempty" validate:"omitempty,gte=0"`
	BallGatingDistance     *float64 `json:"ball_gating_distance,omitempty" validate:"omitempty,gt=0"` // pixels
	BallMaxCost            *float64 `json:"ball_max_cost,omitempty" validate:"omitempty,gt=0"`        // squared Mahalanobis

	// Player class params (pixel space)
	PlayerProcessNoisePos    *float64 `json:"player_process_noise_pos,omitempty" validate:"omitempty,gte=0"`
	PlayerProcessNoiseVel    *float64 `json:"player_process_noise_vel,omitempty" validate:"omitempty,gte=0"`
	PlayerMeasurementNoise   *float64 `json:"player_measurement_noise,omitempty" validate:"omitempty,gt=0"`
	PlayerInitialPosVar      *float64 `json:"player_initial_pos_var,omitempty" validate:"omitempty,gt=0"`
	PlayerInitialVelVar      *float64 `json:"player_initial_vel_var,omitempty" validate:"omitempty,gt=0"`
	PlayerHitsToConfirm      *int     `json:"player_hits_to_confirm,omitempty" validate:"omitempty,gte=1"`
	PlayerMaxMisses          *int     `json:"player_max_misses,omitempty" validate:"omitempty,gte=0"`
	PlayerLostGrace          *int     `json:"player_lost_grace,omitempty" validate:"omitempty,gte=0"`
	PlayerTentativeMaxMisses *int     `json:"player_tentative_max_misses,omitempty" validate:"omitempty,gte=0"`
	PlayerGatingDistance     *float64 `json:"player_gating_distance,omitempty" validate:"omitempty,gt=0"`
	PlayerMaxCost            *float64 `json:"player_max_cost,omitempty" validate:"omitempty,gt=0"`

	// Court and calibration params
	CourtSize              *string  `json:"court_size,omitempty" validate:"omitempty,oneof=singles doubles"`
	CourtMargin            *float64 `json:"court_margin,omitempty" validate:"omitempty,gte=0"` // metres
	CalibrationMinPoints   *int     `json:"calibration_min_points,omitempty" validate:"omitempty,gte=4"`
	CalibrationMaxResidual *float64 `json:"calibration_max_residual,omitempty" validate:"omitempty,gt=0"` // metres
	RecalibrationInterval  *int64   `json:"recalibration_interval,omitempty" validate:"omitempty,gte=1"`   // frames
	CalibrationSmoothing   *float64 `json:"calibration_smoothing,omitempty" validate:"omitempty,gte=0,lt=1"`

	// Trajectory validator params
	MaxBallSpeed     *float64 `json:"max_ball_speed,omitempty" validate:"omitempty,gt=0"`  // m/s
	MaxBallAccel     *float64 `json:"max_ball_accel,omitempty" validate:"omitempty,gt=0"`  // m/s²
	MaxPixelSpeed    *float64 `json:"max_pixel_speed,omitempty" validate:"omitempty,gt=0"` // px/s, uncalibrated fallback
	MaxPixelAccel    *float64 `json:"max_pixel_accel,omitempty" validate:"omitempty,gt=0"` // px/s²
	BounceThreshold  *float64 `json:"bounce_threshold,omitempty" validate:"omitempty,gte=0,lte=1"`
	SignChangeWindow *int     `json:"sign_change_window,omitempty" validate:"omitempty,gte=1"`
	BounceCooldown   *int64   `json:"bounce_cooldown,omitempty" validate:"omitempty,gte=0"` // frames
	LagFeatures      *int     `json:"lag_features,omitempty" validate:"omitempty,gte=0,lte=64"`
	AnomalyRun       *int     `json:"anomaly_run,omitempty" validate:"omitempty,gte=1"`

	// Session params
	QueueCapacity *int `json:"queue_capacity,omitempty" validate:"omitempty,gte=1"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrInt64(v int64) *int64       { return &v }

var validate = validator.New(validator.WithRequiredStructEnabled())

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,          // from internal/config/
		"../../../" + DefaultConfigPath,       // from internal/tracking/tracks/
		"../../../../" + DefaultConfigPath,    // from internal/tracking/storage/sqlite/
		"../../../../../" + DefaultConfigPath, // even deeper
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
// Range checks live in the struct tags; cross-field checks follow.
func (c *TuningConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	if c.BallTentativeMaxMisses != nil && c.BallMaxMisses != nil && *c.BallTentativeMaxMisses > *c.BallMaxMisses {
		return fmt.Errorf("ball_tentative_max_misses (%d) must not exceed ball_max_misses (%d)",
			*c.BallTentativeMaxMisses, *c.BallMaxMisses)
	}
	if c.PlayerTentativeMaxMisses != nil && c.PlayerMaxMisses != nil && *c.PlayerTentativeMaxMisses > *c.PlayerMaxMisses {
		return fmt.Errorf("player_tentative_max_misses (%d) must not exceed player_max_misses (%d)",
			*c.PlayerTentativeMaxMisses, *c.PlayerMaxMisses)
	}
	if c.MaxPixelSpeed != nil && c.MaxPixelAccel != nil && *c.MaxPixelAccel < *c.MaxPixelSpeed {
		return fmt.Errorf("max_pixel_accel (%f) must be at least max_pixel_speed (%f)",
			*c.MaxPixelAccel, *c.MaxPixelSpeed)
	}

	return nil
}

// GetMaxTracks returns the max_tracks value or the default.
func (c *TuningConfig) GetMaxTracks() int {
	if c.MaxTracks == nil {
		return 32
	}
	return *c.MaxTracks
}

// GetMaxPredictDt returns the max_predict_dt value (seconds) or the default.
func (c *TuningConfig) GetMaxPredictDt() float64 {
	if c.MaxPredictDt == nil {
		return 0.5
	}
	return *c.MaxPredictDt
}

// GetMaxCovarianceDiag returns the max_covariance_diag value or the default.
func (c *TuningConfig) GetMaxCovarianceDiag() float64 {
	if c.MaxCovarianceDiag == nil {
		return 1e6
	}
	return *c.MaxCovarianceDiag
}

// GetMaxConditionNumber returns the max_condition_number value or the default.
func (c *TuningConfig) GetMaxConditionNumber() float64 {
	if c.MaxConditionNumber == nil {
		return 1e8
	}
	return *c.MaxConditionNumber
}

// GetHistoryLength returns the history_length value or the default.
func (c *TuningConfig) GetHistoryLength() int {
	if c.HistoryLength == nil {
		return 120
	}
	return *c.HistoryLength
}

// GetBallProcessNoisePos returns the ball_process_noise_pos value or the default.
func (c *TuningConfig) GetBallProcessNoisePos() float64 {
	if c.BallProcessNoisePos == nil {
		return 50
	}
	return *c.BallProcessNoisePos
}

// GetBallProcessNoiseVel returns the ball_process_noise_vel value or the default.
func (c *TuningConfig) GetBallProcessNoiseVel() float64 {
	if c.BallProcessNoiseVel == nil {
		return 5000
	}
	return *c.BallProcessNoiseVel
}

// GetBallProcessNoiseAcc returns the ball_process_noise_acc value or the default.
func (c *TuningConfig) GetBallProcessNoiseAcc() float64 {
	if c.BallProcessNoiseAcc == nil {
		return 50000
	}
	return *c.BallProcessNoiseAcc
}

// GetBallMeasurementNoise returns the ball_measurement_noise value or the default.
func (c *TuningConfig) GetBallMeasurementNoise() float64 {
	if c.BallMeasurementNoise == nil {
		return 4
	}
	return *c.BallMeasurementNoise
}

// GetBallInitialPosVar returns the ball_initial_pos_var value or the default.
func (c *TuningConfig) GetBallInitialPosVar() float64 {
	if c.BallInitialPosVar == nil {
		return 25
	}
	return *c.BallInitialPosVar
}

// GetBallInitialVelVar returns the ball_initial_vel_var value or the default.
func (c *TuningConfig) GetBallInitialVelVar() float64 {
	if c.BallInitialVelVar == nil {
		return 250000
	}
	return *c.BallInitialVelVar
}

// GetBallInitialAccVar returns the ball_initial_acc_var value or the default.
func (c *TuningConfig) GetBallInitialAccVar() float64 {
	if c.BallInitialAccVar == nil {
		return 1e6
	}
	return *c.BallInitialAccVar
}

// GetBallHitsToConfirm returns the ball_hits_to_confirm value or the default.
func (c *TuningConfig) GetBallHitsToConfirm() int {
	if c.BallHitsToConfirm == nil {
		return 3
	}
	return *c.BallHitsToConfirm
}

// GetBallMaxMisses returns the ball_max_misses value or the default.
func (c *TuningConfig) GetBallMaxMisses() int {
	if c.BallMaxMisses == nil {
		return 10
	}
	return *c.BallMaxMisses
}

// GetBallLostGrace returns the ball_lost_grace value or the default.
func (c *TuningConfig) GetBallLostGrace() int {
	if c.BallLostGrace == nil {
		return 10
	}
	return *c.BallLostGrace
}

// GetBallTentativeMaxMisses returns the ball_tentative_max_misses value or the default.
func (c *TuningConfig) GetBallTentativeMaxMisses() int {
	if c.BallTentativeMaxMisses == nil {
		return 2
	}
	return *c.BallTentativeMaxMisses
}

// GetBallGatingDistance returns the ball_gating_distance value or the default.
func (c *TuningConfig) GetBallGatingDistance() float64 {
	if c.BallGatingDistance == nil {
		return 150
	}
	return *c.BallGatingDistance
}

// GetBallMaxCost returns the ball_max_cost value or the default.
func (c *TuningConfig) GetBallMaxCost() float64 {
	if c.BallMaxCost == nil {
		return 100
	}
	return *c.BallMaxCost
}

// GetPlayerProcessNoisePos returns the player_process_noise_pos value or the default.
func (c *TuningConfig) GetPlayerProcessNoisePos() float64 {
	if c.PlayerProcessNoisePos == nil {
		return 10
	}
	return *c.PlayerProcessNoisePos
}

// GetPlayerProcessNoiseVel returns the player_process_noise_vel value or the default.
func (c *TuningConfig) GetPlayerProcessNoiseVel() float64 {
	if c.PlayerProcessNoiseVel == nil {
		return 500
	}
	return *c.PlayerProcessNoiseVel
}

// GetPlayerMeasurementNoise returns the player_measurement_noise value or the default.
func (c *TuningConfig) GetPlayerMeasurementNoise() float64 {
	if c.PlayerMeasurementNoise == nil {
		return 16
	}
	return *c.PlayerMeasurementNoise
}

// GetPlayerInitialPosVar returns the player_initial_pos_var value or the default.
func (c *TuningConfig) GetPlayerInitialPosVar() float64 {
	if c.PlayerInitialPosVar == nil {
		return 25
	}
	return *c.PlayerInitialPosVar
}

// GetPlayerInitialVelVar returns the player_initial_vel_var value or the default.
func (c *TuningConfig) GetPlayerInitialVelVar() float64 {
	if c.PlayerInitialVelVar == nil {
		return 10000
	}
	return *c.PlayerInitialVelVar
}

// GetPlayerHitsToConfirm returns the player_hits_to_confirm value or the default.
func (c *TuningConfig) GetPlayerHitsToConfirm() int {
	if c.PlayerHitsToConfirm == nil {
		return 3
	}
	return *c.PlayerHitsToConfirm
}

// GetPlayerMaxMisses returns the player_max_misses value or the default.
func (c *TuningConfig) GetPlayerMaxMisses() int {
	if c.PlayerMaxMisses == nil {
		return 25
	}
	return *c.PlayerMaxMisses
}

// GetPlayerLostGrace returns the player_lost_grace value or the default.
func (c *TuningConfig) GetPlayerLostGrace() int {
	if c.PlayerLostGrace == nil {
		return 25
	}
	return *c.PlayerLostGrace
}

// GetPlayerTentativeMaxMisses returns the player_tentative_max_misses value or the default.
func (c *TuningConfig) GetPlayerTentativeMaxMisses() int {
	if c.PlayerTentativeMaxMisses == nil {
		return 3
	}
	return *c.PlayerTentativeMaxMisses
}

// GetPlayerGatingDistance returns the player_gating_distance value or the default.
func (c *TuningConfig) GetPlayerGatingDistance() float64 {
	if c.PlayerGatingDistance == nil {
		return 100
	}
	return *c.PlayerGatingDistance
}

// GetPlayerMaxCost returns the player_max_cost value or the default.
func (c *TuningConfig) GetPlayerMaxCost() float64 {
	if c.PlayerMaxCost == nil {
		return 25
	}
	return *c.PlayerMaxCost
}

// GetCourtSize returns the court_size value ("singles" or "doubles") or the default.
func (c *TuningConfig) GetCourtSize() string {
	if c.CourtSize == nil || *c.CourtSize == "" {
		return "singles"
	}
	return *c.CourtSize
}

// GetCourtMargin returns the court_margin value (metres) or the default.
func (c *TuningConfig) GetCourtMargin() float64 {
	if c.CourtMargin == nil {
		return 0.05
	}
	return *c.CourtMargin
}

// GetCalibrationMinPoints returns the calibration_min_points value or the default.
func (c *TuningConfig) GetCalibrationMinPoints() int {
	if c.CalibrationMinPoints == nil {
		return 4
	}
	return *c.CalibrationMinPoints
}

// GetCalibrationMaxResidual returns the calibration_max_residual value (metres) or the default.
func (c *TuningConfig) GetCalibrationMaxResidual() float64 {
	if c.CalibrationMaxResidual == nil {
		return 0.5
	}
	return *c.CalibrationMaxResidual
}

// GetRecalibrationInterval returns the recalibration_interval value (frames) or the default.
func (c *TuningConfig) GetRecalibrationInterval() int64 {
	if c.RecalibrationInterval == nil {
		return 30
	}
	return *c.RecalibrationInterval
}

// GetCalibrationSmoothing returns the calibration_smoothing value or the default.
func (c *TuningConfig) GetCalibrationSmoothing() float64 {
	if c.CalibrationSmoothing == nil {
		return 0
	}
	return *c.CalibrationSmoothing
}

// GetMaxBallSpeed returns the max_ball_speed value (m/s) or the default.
func (c *TuningConfig) GetMaxBallSpeed() float64 {
	if c.MaxBallSpeed == nil {
		return 75
	}
	return *c.MaxBallSpeed
}

// GetMaxBallAccel returns the max_ball_accel value (m/s²) or the default.
func (c *TuningConfig) GetMaxBallAccel() float64 {
	if c.MaxBallAccel == nil {
		return 3000
	}
	return *c.MaxBallAccel
}

// GetMaxPixelSpeed returns the max_pixel_speed value (px/s) or the default.
func (c *TuningConfig) GetMaxPixelSpeed() float64 {
	if c.MaxPixelSpeed == nil {
		return 6000
	}
	return *c.MaxPixelSpeed
}

// GetMaxPixelAccel returns the max_pixel_accel value (px/s²) or the default.
func (c *TuningConfig) GetMaxPixelAccel() float64 {
	if c.MaxPixelAccel == nil {
		return 300000
	}
	return *c.MaxPixelAccel
}

// GetBounceThreshold returns the bounce_threshold value or the default.
func (c *TuningConfig) GetBounceThreshold() float64 {
	if c.BounceThreshold == nil {
		return 0.5
	}
	return *c.BounceThreshold
}

// GetSignChangeWindow returns the sign_change_window value (samples) or the default.
func (c *TuningConfig) GetSignChangeWindow() int {
	if c.SignChangeWindow == nil {
		return 2
	}
	return *c.SignChangeWindow
}

// GetBounceCooldown returns the bounce_cooldown value (frames) or the default.
func (c *TuningConfig) GetBounceCooldown() int64 {
	if c.BounceCooldown == nil {
		return 6
	}
	return *c.BounceCooldown
}

// GetLagFeatures returns the lag_features value or the default.
func (c *TuningConfig) GetLagFeatures() int {
	if c.LagFeatures == nil {
		return 20
	}
	return *c.LagFeatures
}

// GetAnomalyRun returns the anomaly_run value or the default.
func (c *TuningConfig) GetAnomalyRun() int {
	if c.AnomalyRun == nil {
		return 3
	}
	return *c.AnomalyRun
}

// GetQueueCapacity returns the queue_capacity value or the default.
func (c *TuningConfig) GetQueueCapacity() int {
	if c.QueueCapacity == nil {
		return 64
	}
	return *c.QueueCapacity
}
