package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"attune/internal/config"
	"attune/internal/model"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Engine.SmoothingWindow = 5
	cfg.Reasoning.FailureThreshold = 2
	cfg.Reasoning.Cooldown = time.Hour
	return cfg
}

func calmPose() *model.PoseFeatures {
	return &model.PoseFeatures{MovementIntensity: 0.1, BodyTension: 0.1, PostureOpenness: 0.9, Confidence: 1}
}

func agitatedPose() *model.PoseFeatures {
	return &model.PoseFeatures{MovementIntensity: 0.95, BodyTension: 0.9, PostureOpenness: 0.1, Confidence: 1}
}

type stubReasoner struct {
	band  model.Band
	conf  float64
	err   error
	calls int
}

func (r *stubReasoner) Detect(ctx context.Context, req model.ReasoningRequest) (model.Band, float64, error) {
	r.calls++
	return r.band, r.conf, r.err
}

func TestClassifyFeaturesDeterministic(t *testing.T) {
	a := NewClassifier(testConfig(), nil, nil, nil, nil)
	b := NewClassifier(testConfig(), nil, nil, nil, nil)
	for i := 0; i < 4; i++ {
		ra := a.ClassifyFeatures(calmPose(), nil, nil)
		rb := b.ClassifyFeatures(calmPose(), nil, nil)
		if ra.Band != rb.Band || ra.Confidence != rb.Confidence || ra.Score != rb.Score {
			t.Fatalf("iteration %d diverged: %+v vs %+v", i, ra, rb)
		}
	}
}

func TestClassifyFeaturesBands(t *testing.T) {
	c := NewClassifier(testConfig(), nil, nil, nil, nil)
	res := c.ClassifyFeatures(calmPose(), nil, nil)
	if res.Band != model.BandShutdown {
		t.Fatalf("calm pose: got %v, want shutdown", res.Band)
	}
	c.ClearHistory()
	res = c.ClassifyFeatures(agitatedPose(), nil, nil)
	if res.Band != model.BandRed {
		t.Fatalf("agitated pose: got %v, want red", res.Band)
	}
	if res.Source != model.SourceFusion {
		t.Fatalf("source: got %q", res.Source)
	}
}

func TestReasoningFailureFallsBackToFusion(t *testing.T) {
	c := NewClassifier(testConfig(), nil, nil, nil, nil)
	c.SetProfile(&model.ChildProfile{ID: "leo"})
	c.EnableReasoning(&stubReasoner{err: errors.New("service down")})

	rctx := &model.ReasoningContext{Behaviors: []string{"pacing"}}
	res, err := c.ClassifyFrame(context.Background(), agitatedPose(), nil, nil, rctx)
	if err != nil {
		t.Fatalf("fallback must not surface the reasoning error: %v", err)
	}
	if res.Source != model.SourceFusion {
		t.Fatalf("source: got %q, want fusion", res.Source)
	}
	if res.Band != model.BandRed {
		t.Fatalf("band: got %v, want red", res.Band)
	}
}

func TestReasoningSuccess(t *testing.T) {
	c := NewClassifier(testConfig(), nil, nil, nil, nil)
	c.SetProfile(&model.ChildProfile{ID: "leo"})
	c.EnableReasoning(&stubReasoner{band: model.BandOrange, conf: 0.9})

	rctx := &model.ReasoningContext{Environment: "crowded gym"}
	res, err := c.ClassifyFrame(context.Background(), calmPose(), nil, nil, rctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Source != model.SourceReasoning {
		t.Fatalf("source: got %q, want reasoning", res.Source)
	}
	if res.RawBand != model.BandOrange || res.RawConfidence != 0.9 {
		t.Fatalf("raw result: got %v %v", res.RawBand, res.RawConfidence)
	}
	if res.Contributions.Count() != 1 {
		t.Fatalf("contribution breakdown should still be recorded, got %d", res.Contributions.Count())
	}
}

func TestReasoningRequiresContextAndProfile(t *testing.T) {
	r := &stubReasoner{band: model.BandOrange, conf: 0.9}
	c := NewClassifier(testConfig(), nil, nil, nil, nil)
	c.EnableReasoning(r)

	// No profile: must not call out.
	if _, err := c.ClassifyFrame(context.Background(), calmPose(), nil, nil, &model.ReasoningContext{Environment: "home"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.calls != 0 {
		t.Fatalf("reasoner called without a profile")
	}

	// Profile but no context: must not call out.
	c.SetProfile(&model.ChildProfile{ID: "leo"})
	if _, err := c.ClassifyFrame(context.Background(), calmPose(), nil, nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.calls != 0 {
		t.Fatalf("reasoner called without contextual data")
	}
}

func TestReasoningInvalidBandRejected(t *testing.T) {
	c := NewClassifier(testConfig(), nil, nil, nil, nil)
	c.SetProfile(&model.ChildProfile{ID: "leo"})
	c.EnableReasoning(&stubReasoner{band: model.Band(9), conf: 0.9})

	res, err := c.ClassifyFrame(context.Background(), calmPose(), nil, nil, &model.ReasoningContext{Environment: "home"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Source != model.SourceFusion {
		t.Fatalf("out-of-range band must fall back to fusion, got %q", res.Source)
	}
}

func TestBreakerSuspendsReasoningAfterFailures(t *testing.T) {
	r := &stubReasoner{err: errors.New("timeout")}
	c := NewClassifier(testConfig(), nil, nil, nil, nil)
	c.SetProfile(&model.ChildProfile{ID: "leo"})
	c.EnableReasoning(r)

	rctx := &model.ReasoningContext{Environment: "home"}
	for i := 0; i < 5; i++ {
		if _, err := c.ClassifyFrame(context.Background(), calmPose(), nil, nil, rctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if r.calls != 2 {
		t.Fatalf("breaker should open after 2 failures, reasoner saw %d calls", r.calls)
	}
}

func TestCancelledContextLeavesNoState(t *testing.T) {
	c := NewClassifier(testConfig(), nil, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.ClassifyFrame(ctx, calmPose(), nil, nil, nil); err == nil {
		t.Fatalf("expected context error")
	}
	if _, ok := c.Current(); ok {
		t.Fatalf("cancelled call must not record a reading")
	}
	if len(c.RecentHistory()) != 0 {
		t.Fatalf("cancelled call must not touch the smoothing window")
	}
}

// cancellingReasoner cancels the caller's context from inside the call,
// simulating a caller giving up while the external request is in flight.
type cancellingReasoner struct {
	cancel context.CancelFunc
	calls  int
}

func (r *cancellingReasoner) Detect(ctx context.Context, req model.ReasoningRequest) (model.Band, float64, error) {
	r.calls++
	r.cancel()
	return 0, 0, ctx.Err()
}

func TestCancelledMidReasoningLeavesNoState(t *testing.T) {
	c := NewClassifier(testConfig(), nil, nil, nil, nil)
	c.SetProfile(&model.ChildProfile{ID: "leo"})

	ctx, cancel := context.WithCancel(context.Background())
	r := &cancellingReasoner{cancel: cancel}
	c.EnableReasoning(r)

	_, err := c.ClassifyFrame(ctx, agitatedPose(), nil, nil, &model.ReasoningContext{Environment: "home"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if _, ok := c.Current(); ok {
		t.Fatalf("cancelled mid-call must not record a reading")
	}
	if len(c.RecentHistory()) != 0 {
		t.Fatalf("cancelled mid-call must not touch the smoothing window")
	}

	// Cancellations are not service failures: the breaker stays closed
	// and the next call still reaches the reasoner.
	ctx2, cancel2 := context.WithCancel(context.Background())
	r.cancel = cancel2
	if _, err := c.ClassifyFrame(ctx2, agitatedPose(), nil, nil, &model.ReasoningContext{Environment: "home"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if _, err := c.ClassifyFrame(context.Background(), agitatedPose(), nil, nil, &model.ReasoningContext{Environment: "home"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.calls != 3 {
		t.Fatalf("cancellations must not open the breaker, reasoner saw %d calls", r.calls)
	}
}

func TestClearHistory(t *testing.T) {
	c := NewClassifier(testConfig(), nil, nil, nil, nil)
	for i := 0; i < 4; i++ {
		c.ClassifyFeatures(calmPose(), nil, nil)
	}
	if _, ok := c.Current(); !ok {
		t.Fatalf("expected a current reading")
	}
	c.ClearHistory()
	if _, ok := c.Current(); ok {
		t.Fatalf("current reading should be cleared")
	}
	if len(c.RecentHistory()) != 0 {
		t.Fatalf("history should be empty after clear")
	}
}

func TestCurrentThresholdsReflectProfile(t *testing.T) {
	c := NewClassifier(testConfig(), nil, nil, nil, nil)
	def := c.CurrentThresholds()
	if def != model.DefaultThresholds() {
		t.Fatalf("no profile should mean defaults, got %+v", def)
	}
	c.SetProfile(&model.ChildProfile{
		ID:          "leo",
		Adjustments: &model.DiagnosisAdjustments{Movement: 0.8, Vocal: 0.8, Expression: 0.8},
	})
	got := c.CurrentThresholds()
	if got.Green >= def.Green {
		t.Fatalf("sensitivity below 1 should lower green: %v", got.Green)
	}
	if got.Orange != def.Orange {
		t.Fatalf("orange must not move: %v", got.Orange)
	}
}

func TestPersonalModelMismatchDegradesToGeneric(t *testing.T) {
	c := NewClassifier(testConfig(), nil, nil, nil, nil)
	personal, err := NewPersonalModel([]Example{{Features: []float64{0.1, 0.2}, Label: LabelCalm}}, 1)
	if err != nil {
		t.Fatalf("model: %v", err)
	}
	c.SetPersonalModel(personal)
	res := c.ClassifyFeatures(agitatedPose(), nil, nil)
	if res.Source != model.SourceFusion {
		t.Fatalf("mismatched model must degrade to fusion, got %q", res.Source)
	}
	if res.Band != model.BandRed {
		t.Fatalf("band: got %v, want red", res.Band)
	}
}

func TestSmoothingDampsFlickerEndToEnd(t *testing.T) {
	c := NewClassifier(testConfig(), nil, nil, nil, nil)
	for i := 0; i < 4; i++ {
		c.ClassifyFeatures(calmPose(), nil, nil)
	}
	res := c.ClassifyFeatures(agitatedPose(), nil, nil)
	if res.RawBand != model.BandRed {
		t.Fatalf("raw band: got %v, want red", res.RawBand)
	}
	if res.Band == model.BandRed {
		t.Fatalf("one agitated frame after four calm ones should not flip the smoothed band")
	}
}

func TestBreakerRecovery(t *testing.T) {
	b := newBreaker(2, time.Minute)
	now := time.Now()
	b.recordFailure(now)
	b.recordFailure(now)
	if b.allow(now) {
		t.Fatalf("breaker should be open")
	}
	if !b.allow(now.Add(2 * time.Minute)) {
		t.Fatalf("breaker should close after the cooldown")
	}
}
