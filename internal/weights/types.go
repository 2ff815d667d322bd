package weights

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/mode"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/signals"
)

// ErrVersionConflict is returned when a commit's parent is no longer the
// active version. The losing writer's change is discarded, never merged.
var ErrVersionConflict = errors.New("weights: version conflict")

// ErrUnknownParam is returned for a parameter name outside the fixed table.
var ErrUnknownParam = errors.New("weights: unknown parameter")

// #region record
// Record is one immutable version of the router configuration.
type Record struct {
	VersionID   string
	ParentID    string
	Version     int64 // monotonic sequence, for display and ordering
	Weights     RouterWeights
	CreatedAt   time.Time
	MetricsJSON string
	Reason      string
}

// #endregion record

// #region router-weights
// ModeWeights is the linear scoring row of one mode.
type ModeWeights struct {
	Base    float64            `json:"base"`
	Signals map[string]float64 `json:"signals"`
}

// Margins drive the tie-break threshold.
type Margins struct {
	Base float64 `json:"base"`
	Min  float64 `json:"min"`
}

// Penalties are the fixed per-mode suppressions and the per-request
// ephemeral adjustments. Ephemeral terms are applied, never written back.
type Penalties struct {
	RespondCold         float64 `json:"respond_cold"`
	ColdThreshold       float64 `json:"cold_threshold"`
	ClarifyWarm         float64 `json:"clarify_warm"`
	WarmThreshold       float64 `json:"warm_threshold"`
	AcknowledgeQuestion float64 `json:"acknowledge_question"`
	ActNoResult         float64 `json:"act_no_result"`
	ClarifyFollowup     float64 `json:"clarify_followup"`
}

// Hysteresis controls per-topic margin widening after low-confidence runs.
type Hysteresis struct {
	Floor     float64 `json:"floor"`
	Increment float64 `json:"increment"`
}

// Detector holds the boundary detector's base parameters.
type Detector struct {
	StaticThreshold  float64 `json:"static_threshold"`
	ColdStartCount   int     `json:"cold_start_count"`
	FastAlpha        float64 `json:"fast_alpha"`
	SlowAlpha        float64 `json:"slow_alpha"`
	DriftThreshold   float64 `json:"drift_threshold"`
	DriftPressure    float64 `json:"drift_pressure"`
	SurpriseZ        float64 `json:"surprise_z"`
	SurprisePressure float64 `json:"surprise_pressure"`
	StdFloor         float64 `json:"std_floor"`
	Leak             float64 `json:"leak"`
	AccumulatorBase  float64 `json:"accumulator_base"`
}

// RouterWeights is the full tunable configuration read by every routing
// decision and written only by the regulator.
type RouterWeights struct {
	Modes      map[mode.Mode]ModeWeights `json:"modes"`
	Margin     Margins                   `json:"margin"`
	Penalties  Penalties                 `json:"penalties"`
	Hysteresis Hysteresis                `json:"hysteresis"`
	Detector   Detector                  `json:"detector"`
}

// #endregion router-weights

// #region defaults
// Default returns the initial configuration every store is seeded with.
func Default() RouterWeights {
	return RouterWeights{
		Modes: map[mode.Mode]ModeWeights{
			mode.Respond: {Base: 0.30, Signals: map[string]float64{
				signals.ContextWarmth:        0.25,
				signals.HasQuestionMark:      0.20,
				signals.InformationDensity:   0.20,
				signals.InterrogativeWording: 0.15,
				signals.TopicConfidence:      0.10,
				signals.WorldStatePresent:    0.20,
				signals.Imperative:           -0.20,
				signals.ShortAcknowledgement: -0.30,
				signals.GreetingPattern:      -0.10,
			}},
			mode.Clarify: {Base: 0.10, Signals: map[string]float64{
				signals.ImplicitReference:  0.25,
				signals.InformationDensity: -0.20,
				signals.IsNewTopic:         0.10,
				signals.ExplicitFeedback:   -0.20,
				signals.ContextWarmth:      -0.15,
			}},
			mode.Act: {Base: 0.00, Signals: map[string]float64{
				signals.Imperative:        0.60,
				signals.WorldStatePresent: -0.10,
				signals.PriorActUseless:   -0.20,
				signals.HasQuestionMark:   -0.10,
			}},
			mode.Acknowledge: {Base: 0.00, Signals: map[string]float64{
				signals.ShortAcknowledgement: 0.70,
				signals.GreetingPattern:      0.50,
				signals.ExplicitFeedback:     0.20,
				signals.PromptTokenCount:     -0.30,
			}},
			mode.Ignore: {Base: -0.20, Signals: map[string]float64{
				signals.EmptyInput: 1.00,
			}},
		},
		Margin: Margins{Base: 0.20, Min: 0.05},
		Penalties: Penalties{
			RespondCold:         0.15,
			ColdThreshold:       0.20,
			ClarifyWarm:         0.15,
			WarmThreshold:       0.70,
			AcknowledgeQuestion: 0.30,
			ActNoResult:         0.30,
			ClarifyFollowup:     0.10,
		},
		Hysteresis: Hysteresis{Floor: 0.15, Increment: 0.05},
		Detector: Detector{
			StaticThreshold:  0.55,
			ColdStartCount:   5,
			FastAlpha:        0.5,
			SlowAlpha:        0.1,
			DriftThreshold:   0.15,
			DriftPressure:    0.3,
			SurpriseZ:        2.5,
			SurprisePressure: 0.4,
			StdFloor:         0.05,
			Leak:             0.5,
			AccumulatorBase:  0.8,
		},
	}
}

// #endregion defaults

// #region clone
// Clone deep-copies the maps so a reader's snapshot cannot be torn by a
// later mutation.
func (w RouterWeights) Clone() RouterWeights {
	out := w
	out.Modes = make(map[mode.Mode]ModeWeights, len(w.Modes))
	for m, mw := range w.Modes {
		sig := make(map[string]float64, len(mw.Signals))
		for k, v := range mw.Signals {
			sig[k] = v
		}
		out.Modes[m] = ModeWeights{Base: mw.Base, Signals: sig}
	}
	return out
}

// #endregion clone

// #region params
// Param is one addressable tunable with hard bounds.
type Param struct {
	Name string
	Min  float64
	Max  float64
}

// fixedParam binds a named scalar field to its bounds.
type fixedParam struct {
	Param
	ref func(w *RouterWeights) *float64
}

var fixedParams = []fixedParam{
	{Param{"margin.base", 0.05, 0.40}, func(w *RouterWeights) *float64 { return &w.Margin.Base }},
	{Param{"margin.min", 0.01, 0.20}, func(w *RouterWeights) *float64 { return &w.Margin.Min }},
	{Param{"penalty.respond_cold", 0, 0.5}, func(w *RouterWeights) *float64 { return &w.Penalties.RespondCold }},
	{Param{"penalty.cold_threshold", 0, 1}, func(w *RouterWeights) *float64 { return &w.Penalties.ColdThreshold }},
	{Param{"penalty.clarify_warm", 0, 0.5}, func(w *RouterWeights) *float64 { return &w.Penalties.ClarifyWarm }},
	{Param{"penalty.warm_threshold", 0, 1}, func(w *RouterWeights) *float64 { return &w.Penalties.WarmThreshold }},
	{Param{"penalty.acknowledge_question", 0, 0.5}, func(w *RouterWeights) *float64 { return &w.Penalties.AcknowledgeQuestion }},
	{Param{"penalty.act_no_result", 0, 0.5}, func(w *RouterWeights) *float64 { return &w.Penalties.ActNoResult }},
	{Param{"penalty.clarify_followup", 0, 0.5}, func(w *RouterWeights) *float64 { return &w.Penalties.ClarifyFollowup }},
	{Param{"hysteresis.floor", 0.01, 0.5}, func(w *RouterWeights) *float64 { return &w.Hysteresis.Floor }},
	{Param{"hysteresis.increment", 0, 0.2}, func(w *RouterWeights) *float64 { return &w.Hysteresis.Increment }},
	{Param{"detector.static_threshold", 0.3, 0.9}, func(w *RouterWeights) *float64 { return &w.Detector.StaticThreshold }},
	{Param{"detector.fast_alpha", 0.05, 0.95}, func(w *RouterWeights) *float64 { return &w.Detector.FastAlpha }},
	{Param{"detector.slow_alpha", 0.01, 0.5}, func(w *RouterWeights) *float64 { return &w.Detector.SlowAlpha }},
	{Param{"detector.drift_threshold", 0.02, 0.5}, func(w *RouterWeights) *float64 { return &w.Detector.DriftThreshold }},
	{Param{"detector.drift_pressure", 0, 1}, func(w *RouterWeights) *float64 { return &w.Detector.DriftPressure }},
	{Param{"detector.surprise_z", 1, 5}, func(w *RouterWeights) *float64 { return &w.Detector.SurpriseZ }},
	{Param{"detector.surprise_pressure", 0, 1}, func(w *RouterWeights) *float64 { return &w.Detector.SurprisePressure }},
	{Param{"detector.std_floor", 0.01, 0.3}, func(w *RouterWeights) *float64 { return &w.Detector.StdFloor }},
	{Param{"detector.leak", 0.05, 0.95}, func(w *RouterWeights) *float64 { return &w.Detector.Leak }},
	{Param{"detector.accumulator_base", 0.2, 2}, func(w *RouterWeights) *float64 { return &w.Detector.AccumulatorBase }},
}

// Mode rows are addressed as "<mode>.base" and "<mode>.<signal>".
const (
	modeWeightMin = -1.0
	modeWeightMax = 1.0
)

// Params lists every tunable in a stable order.
func Params() []Param {
	out := make([]Param, 0, len(fixedParams)+len(mode.All)*(len(signals.Names)+1))
	for _, m := range mode.All {
		prefix := strings.ToLower(string(m))
		out = append(out, Param{prefix + ".base", modeWeightMin, modeWeightMax})
		for _, s := range signals.Names {
			out = append(out, Param{prefix + "." + s, modeWeightMin, modeWeightMax})
		}
	}
	for _, f := range fixedParams {
		out = append(out, f.Param)
	}
	return out
}

// Lookup returns the bounds of a named parameter.
func Lookup(name string) (Param, bool) {
	if _, field, ok := splitModeParam(name); ok {
		if field == "base" || isSignal(field) {
			return Param{Name: name, Min: modeWeightMin, Max: modeWeightMax}, true
		}
		return Param{}, false
	}
	for _, f := range fixedParams {
		if f.Name == name {
			return f.Param, true
		}
	}
	return Param{}, false
}

// Get reads a named parameter. Absent signal weights read as zero.
func (w *RouterWeights) Get(name string) (float64, error) {
	if m, field, ok := splitModeParam(name); ok {
		mw := w.Modes[m]
		if field == "base" {
			return mw.Base, nil
		}
		if !isSignal(field) {
			return 0, fmt.Errorf("%w: %s", ErrUnknownParam, name)
		}
		return mw.Signals[field], nil
	}
	for _, f := range fixedParams {
		if f.Name == name {
			return *f.ref(w), nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownParam, name)
}

// Set writes a named parameter, rejecting values outside its bounds.
func (w *RouterWeights) Set(name string, v float64) error {
	p, ok := Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownParam, name)
	}
	if v < p.Min || v > p.Max {
		return fmt.Errorf("set %s: %.4f outside [%.4f, %.4f]", name, v, p.Min, p.Max)
	}
	if m, field, ok := splitModeParam(name); ok {
		if w.Modes == nil {
			w.Modes = make(map[mode.Mode]ModeWeights)
		}
		mw := w.Modes[m]
		if field == "base" {
			mw.Base = v
		} else {
			if mw.Signals == nil {
				mw.Signals = make(map[string]float64)
			}
			mw.Signals[field] = v
		}
		w.Modes[m] = mw
		return nil
	}
	for _, f := range fixedParams {
		if f.Name == name {
			*f.ref(w) = v
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownParam, name)
}

// Clamp limits v to the bounds of name.
func Clamp(name string, v float64) float64 {
	p, ok := Lookup(name)
	if !ok {
		return v
	}
	if v < p.Min {
		return p.Min
	}
	if v > p.Max {
		return p.Max
	}
	return v
}

// Validate checks every parameter against its bounds and the structural
// invariants the router depends on.
func (w *RouterWeights) Validate() error {
	var violations []string
	for _, p := range Params() {
		v, err := w.Get(p.Name)
		if err != nil {
			return err
		}
		if v < p.Min || v > p.Max {
			violations = append(violations, fmt.Sprintf("%s=%.4f", p.Name, v))
		}
	}
	for _, m := range mode.All {
		if _, ok := w.Modes[m]; !ok {
			violations = append(violations, "missing mode "+string(m))
		}
	}
	for m, mw := range w.Modes {
		if !m.Valid() {
			violations = append(violations, "unknown mode "+string(m))
		}
		for s := range mw.Signals {
			if !isSignal(s) {
				violations = append(violations, fmt.Sprintf("unknown signal %s.%s", m, s))
			}
		}
	}
	if w.Margin.Min > w.Margin.Base {
		violations = append(violations, "margin.min exceeds margin.base")
	}
	if w.Detector.ColdStartCount < 1 {
		violations = append(violations, "detector.cold_start_count < 1")
	}
	if len(violations) > 0 {
		sort.Strings(violations)
		return fmt.Errorf("invalid weights: %s", strings.Join(violations, ", "))
	}
	return nil
}

func splitModeParam(name string) (mode.Mode, string, bool) {
	prefix, field, ok := strings.Cut(name, ".")
	if !ok {
		return mode.None, "", false
	}
	m := mode.Mode(strings.ToUpper(prefix))
	if !m.Valid() {
		return mode.None, "", false
	}
	return m, field, true
}

func isSignal(name string) bool {
	for _, s := range signals.Names {
		if s == name {
			return true
		}
	}
	return false
}

// #endregion params
