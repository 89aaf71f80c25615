package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"attune/internal/config"
	"attune/internal/model"
)

// PoseExtractor, FacialExtractor, and VocalExtractor are the external
// per-modality feature adapters. Implementations may block on platform ML
// inference; a failed extraction yields an absent feature record, never an
// aborted classification.
type PoseExtractor interface {
	ExtractPose(ctx context.Context, frame model.Frame) (*model.PoseFeatures, error)
}

type FacialExtractor interface {
	ExtractFacial(ctx context.Context, frame model.Frame) (*model.FacialFeatures, error)
}

type VocalExtractor interface {
	ExtractVocal(ctx context.Context, audio model.AudioChunk) (*model.VocalFeatures, error)
}

// Reasoner is the externally-hosted reasoning service. It is assumed slow
// and failure-prone; the implementation must enforce its own timeout, and
// any error routes the classifier back to rule-based fusion.
type Reasoner interface {
	Detect(ctx context.Context, req model.ReasoningRequest) (model.Band, float64, error)
}

// Classifier is the top-level arousal classification orchestrator for one
// child session: it extracts modality features concurrently, routes between
// the reasoning, personalized, and rule-based strategies, smooths over the
// bounded history window, and emits an annotated classification.
//
// At most one classification may be in flight per instance; the internal
// mutex enforces the single-writer discipline over the history window and
// the current-reading state.
type Classifier struct {
	logger *slog.Logger
	cfg    atomic.Value
	pose   PoseExtractor
	facial FacialExtractor
	vocal  VocalExtractor

	mu               sync.Mutex
	profile          *model.ChildProfile
	personal         *PersonalModel
	reasoner         Reasoner
	reasoningEnabled bool
	breaker          *breaker
	smoother         *Smoother
	current          model.Reading
	hasCurrent       bool
}

func NewClassifier(cfg *config.Config, logger *slog.Logger, pose PoseExtractor, facial FacialExtractor, vocal VocalExtractor) *Classifier {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	c := &Classifier{
		logger:   logger,
		pose:     pose,
		facial:   facial,
		vocal:    vocal,
		breaker:  newBreaker(cfg.Reasoning.FailureThreshold, cfg.Reasoning.Cooldown),
		smoother: NewSmoother(cfg.Engine.SmoothingWindow),
	}
	c.cfg.Store(cfg)
	return c
}

func (c *Classifier) UpdateConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	c.cfg.Store(cfg)
	c.mu.Lock()
	c.breaker.configure(cfg.Reasoning.FailureThreshold, cfg.Reasoning.Cooldown)
	c.mu.Unlock()
}

func (c *Classifier) config() *config.Config {
	if v := c.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

func (c *Classifier) SetProfile(p *model.ChildProfile) {
	c.mu.Lock()
	c.profile = p
	c.mu.Unlock()
}

// SetPersonalModel loads (or with nil clears) the child's trained model,
// switching fusion to the personalized path.
func (c *Classifier) SetPersonalModel(m *PersonalModel) {
	c.mu.Lock()
	c.personal = m
	c.mu.Unlock()
}

func (c *Classifier) EnableReasoning(r Reasoner) {
	c.mu.Lock()
	c.reasoner = r
	c.reasoningEnabled = r != nil
	c.mu.Unlock()
}

func (c *Classifier) DisableReasoning() {
	c.mu.Lock()
	c.reasoningEnabled = false
	c.mu.Unlock()
}

// ClearHistory resets the classifier to its initial no-history state.
func (c *Classifier) ClearHistory() {
	c.mu.Lock()
	c.smoother.Reset()
	c.hasCurrent = false
	c.current = model.Reading{}
	c.mu.Unlock()
}

// CurrentThresholds returns the band boundaries in effect for the loaded
// profile.
func (c *Classifier) CurrentThresholds() model.Thresholds {
	cfg := c.config()
	c.mu.Lock()
	profile := c.profile
	c.mu.Unlock()
	return personalizedThresholds(cfg, profile)
}

// Current returns the latest smoothed reading, if any classification has
// run since the last reset.
func (c *Classifier) Current() (model.Reading, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.hasCurrent
}

// RecentHistory returns a copy of the smoothing window, oldest first.
func (c *Classifier) RecentHistory() []model.Reading {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.smoother.Recent()
}

// Classify runs one full classification over a raw frame and optional audio
// chunk: concurrent feature extraction, strategy routing, fusion, smoothing.
// The returned error is non-nil only when ctx is cancelled, in which case no
// history mutation has occurred.
func (c *Classifier) Classify(ctx context.Context, frame model.Frame, audio model.AudioChunk, rctx *model.ReasoningContext) (model.Classification, error) {
	pose, facial, vocal := c.extract(ctx, frame, audio)
	return c.ClassifyFrame(ctx, pose, facial, vocal, rctx)
}

// ClassifyFeatures is the synchronous variant over pre-extracted features,
// bypassing extraction concurrency and reasoning routing. Deterministic
// given identical inputs and history state.
func (c *Classifier) ClassifyFeatures(pose *model.PoseFeatures, facial *model.FacialFeatures, vocal *model.VocalFeatures) model.Classification {
	cls, _ := c.classifyFrame(context.Background(), pose, facial, vocal, nil, false)
	return cls
}

// ClassifyFrame classifies already-extracted modality features, attempting
// the reasoning route when it is enabled and contextual data is present.
func (c *Classifier) ClassifyFrame(ctx context.Context, pose *model.PoseFeatures, facial *model.FacialFeatures, vocal *model.VocalFeatures, rctx *model.ReasoningContext) (model.Classification, error) {
	return c.classifyFrame(ctx, pose, facial, vocal, rctx, true)
}

func (c *Classifier) classifyFrame(ctx context.Context, pose *model.PoseFeatures, facial *model.FacialFeatures, vocal *model.VocalFeatures, rctx *model.ReasoningContext, allowReasoning bool) (model.Classification, error) {
	now := time.Now().UTC()
	cfg := c.config()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Cancellation leaves no partial state: nothing below mutates until
	// this check passes.
	if err := ctx.Err(); err != nil {
		return model.Classification{}, err
	}

	thresholds := personalizedThresholds(cfg, c.profile)
	var res fusionResult
	routed := false
	if allowReasoning {
		var err error
		res, routed, err = c.routeReasoning(ctx, pose, facial, vocal, rctx, thresholds, now)
		if err != nil {
			return model.Classification{}, err
		}
	}
	if !routed {
		res = c.fuseLocked(pose, facial, vocal, thresholds)
	}

	band, conf := c.smoother.Smooth(model.Reading{Band: res.Band, Confidence: res.Confidence, Timestamp: now})
	c.current = model.Reading{Band: band, Confidence: conf, Timestamp: now}
	c.hasCurrent = true

	return model.Classification{
		ID:            uuid.NewString(),
		Band:          band,
		Confidence:    conf,
		RawBand:       res.Band,
		RawConfidence: res.Confidence,
		Score:         res.Score,
		Source:        res.Source,
		Contributions: res.Contributions,
		Thresholds:    thresholds,
		Timestamp:     now,
	}, nil
}

// routeReasoning attempts the external reasoning strategy. It requires an
// enabled reasoner, a loaded profile, contextual data, and a closed breaker;
// a service failure falls back to fusion with no retained state. A non-nil
// error means the caller's context was cancelled mid-call and the
// classification must abort without mutating anything.
func (c *Classifier) routeReasoning(ctx context.Context, pose *model.PoseFeatures, facial *model.FacialFeatures, vocal *model.VocalFeatures, rctx *model.ReasoningContext, thresholds model.Thresholds, now time.Time) (fusionResult, bool, error) {
	if !c.reasoningEnabled || c.reasoner == nil || c.profile == nil || rctx == nil {
		return fusionResult{}, false, nil
	}
	if !c.breaker.allow(now) {
		return fusionResult{}, false, nil
	}

	band, conf, err := c.reasoner.Detect(ctx, model.ReasoningRequest{
		Profile:        c.profile,
		Pose:           pose,
		Facial:         facial,
		Vocal:          vocal,
		Behaviors:      rctx.Behaviors,
		Environment:    rctx.Environment,
		ParentStress:   rctx.ParentStress,
		SessionContext: rctx.SessionContext,
		Timestamp:      now,
	})
	if err != nil {
		// Caller cancellation is not a service failure: it does not
		// count against the breaker and aborts the classification.
		if cerr := ctx.Err(); cerr != nil {
			return fusionResult{}, false, cerr
		}
		c.breaker.recordFailure(now)
		if c.logger != nil {
			c.logger.Warn("external reasoning failed, falling back to fusion", "err", err)
		}
		return fusionResult{}, false, nil
	}
	if band < model.BandShutdown || band > model.BandRed {
		c.breaker.recordFailure(now)
		if c.logger != nil {
			c.logger.Warn("external reasoning returned invalid band", "band", int(band))
		}
		return fusionResult{}, false, nil
	}
	c.breaker.recordSuccess()

	// The contribution breakdown is recorded even when fusion does not
	// decide the band.
	generic, _ := fuse(pose, facial, vocal, nil, thresholds)
	return fusionResult{
		Band:          band,
		Score:         generic.Score,
		Confidence:    clamp(conf, 0, 1),
		Source:        model.SourceReasoning,
		Contributions: generic.Contributions,
	}, true, nil
}

// fuseLocked runs the rule-based or personalized fusion path. A personal
// model that rejects the feature vector is a loading/config error; it is
// logged loudly and the call degrades to the generic path.
func (c *Classifier) fuseLocked(pose *model.PoseFeatures, facial *model.FacialFeatures, vocal *model.VocalFeatures, thresholds model.Thresholds) fusionResult {
	res, err := fuse(pose, facial, vocal, c.personal, thresholds)
	if err != nil {
		if c.logger != nil {
			c.logger.Error("personal model rejected feature vector", "err", err)
		}
		res, _ = fuse(pose, facial, vocal, nil, thresholds)
	}
	return res
}

// extract runs the three feature adapters concurrently and joins before any
// result is read. Each adapter may fail independently; failures are logged
// and treated as an absent modality.
func (c *Classifier) extract(ctx context.Context, frame model.Frame, audio model.AudioChunk) (*model.PoseFeatures, *model.FacialFeatures, *model.VocalFeatures) {
	var (
		wg     sync.WaitGroup
		pose   *model.PoseFeatures
		facial *model.FacialFeatures
		vocal  *model.VocalFeatures
	)
	if c.pose != nil && len(frame) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := c.pose.ExtractPose(ctx, frame)
			if err != nil {
				if c.logger != nil {
					c.logger.Warn("pose extraction failed", "err", err)
				}
				return
			}
			pose = p
		}()
	}
	if c.facial != nil && len(frame) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f, err := c.facial.ExtractFacial(ctx, frame)
			if err != nil {
				if c.logger != nil {
					c.logger.Warn("facial extraction failed", "err", err)
				}
				return
			}
			facial = f
		}()
	}
	if c.vocal != nil && len(audio) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.vocal.ExtractVocal(ctx, audio)
			if err != nil {
				if c.logger != nil {
					c.logger.Warn("vocal extraction failed", "err", err)
				}
				return
			}
			vocal = v
		}()
	}
	wg.Wait()
	return pose, facial, vocal
}

func personalizedThresholds(cfg *config.Config, profile *model.ChildProfile) model.Thresholds {
	defaults := model.Thresholds{
		Shutdown: cfg.Engine.Thresholds.Shutdown,
		Green:    cfg.Engine.Thresholds.Green,
		Yellow:   cfg.Engine.Thresholds.Yellow,
		Orange:   cfg.Engine.Thresholds.Orange,
	}
	if profile == nil {
		return defaults
	}
	return PersonalizeThresholds(defaults, profile.Baseline, profile.Adjustments)
}
