package bootstrap

import (
	"fmt"

	"warden/config"
	"warden/detect"

	"go.uber.org/zap"
)

// DetectionComponents holds the scoring and detection structures the
// response engine composes.
type DetectionComponents struct {
	Policy     detect.Policy
	Scorer     *detect.Scorer
	Signatures *detect.SignatureSet
	DDoS       *detect.DDoSDetector
	Limiter    *detect.RateLimiter
	Janitor    *detect.Janitor
}

// InitDetection builds the scorer, signature set, detectors, and janitor
// from configuration. In graceful startup mode a broken policy file falls
// back to the built-in defaults instead of failing startup.
func InitDetection(cfg *config.Config, sugar *zap.SugaredLogger) (*DetectionComponents, error) {
	policy := detect.DefaultPolicy()
	if cfg.Engine.PolicyFile != "" {
		loaded, err := detect.LoadPolicy(cfg.Engine.PolicyFile, sugar)
		if err != nil {
			if cfg.StartupMode != config.StartupModeGraceful {
				return nil, fmt.Errorf("failed to load scoring policy: %w", err)
			}
			sugar.Warnw("Scoring policy file rejected, using defaults",
				"path", cfg.Engine.PolicyFile,
				"error", err)
		} else {
			policy = loaded
			sugar.Infow("Scoring policy loaded", "path", cfg.Engine.PolicyFile)
		}
	}

	scorer, err := detect.NewScorer(policy, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize scorer: %w", err)
	}

	signatures, err := detect.NewSignatureSet(sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to compile signature set: %w", err)
	}

	ddos := detect.NewDDoSDetector(cfg.Detect.DDoSThreshold, cfg.Detect.DDoSWindow, sugar)
	limiter := detect.NewRateLimiter(cfg.Detect.RateLimitMax, cfg.Detect.RateLimitWindow, sugar)

	var janitor *detect.Janitor
	if cfg.Janitor.Enabled {
		janitor = detect.NewJanitor(
			cfg.Janitor.Interval,
			cfg.Janitor.DecayFactor,
			cfg.Janitor.ScoreFloor,
			scorer, ddos, limiter, sugar)
	} else {
		sugar.Warn("Janitor disabled; counters and score history will not be swept")
	}

	sugar.Infow("Detection initialized",
		"auto_block_threshold", policy.AutoBlockThreshold,
		"quarantine_threshold", policy.QuarantineThreshold,
		"ddos_threshold", cfg.Detect.DDoSThreshold,
		"rate_limit_max", cfg.Detect.RateLimitMax)

	return &DetectionComponents{
		Policy:     policy,
		Scorer:     scorer,
		Signatures: signatures,
		DDoS:       ddos,
		Limiter:    limiter,
		Janitor:    janitor,
	}, nil
}
