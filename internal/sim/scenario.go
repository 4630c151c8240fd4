package sim

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// ScenarioScript is a deterministic tilt profile for the simulated body.
//
// Time is expressed as Go duration strings (e.g. "0s", "250ms", "10s").
// If Duration is zero, it is derived from the latest keyframe time.
//
// YAML schema (v1):
//
//	version: 1
//	duration: 6s
//	keyframes:
//	  - t: 0s
//	    theta_deg: 0
//	  - t: 2s
//	    theta_deg: 15
//
// Keyframes must use non-decreasing t values. Between keyframes the angle is
// interpolated linearly, so the body rate is the segment slope.
type ScenarioScript struct {
	Version   int           `yaml:"version"`
	Duration  time.Duration `yaml:"duration"`
	Keyframes []Keyframe    `yaml:"keyframes"`
}

// Keyframe is a time-stamped body pitch about the wheel axle (θz).
type Keyframe struct {
	T        time.Duration `yaml:"t"`
	ThetaDeg float64       `yaml:"theta_deg"`
}

// Scenario is the validated, runtime representation.
type Scenario struct {
	script ScenarioScript
	// Derived duration (script.Duration or max keyframe time).
	duration time.Duration
}

// TiltState is the body pitch and its rate at one instant.
type TiltState struct {
	Theta    float64 // rad
	ThetaDot float64 // rad/s
}

func LoadScenarioScript(path string) (ScenarioScript, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return ScenarioScript{}, err
	}
	return ParseScenarioScriptYAML(b)
}

// ParseScenarioScriptYAML rejects unknown keys.
func ParseScenarioScriptYAML(b []byte) (ScenarioScript, error) {
	var s ScenarioScript
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return ScenarioScript{}, fmt.Errorf("sim: parse scenario: %w", err)
	}
	return s, nil
}

// NewScenario validates script and returns a runtime Scenario.
func NewScenario(script ScenarioScript) (*Scenario, error) {
	if script.Version == 0 {
		script.Version = 1
	}
	if script.Version != 1 {
		return nil, fmt.Errorf("sim: unsupported scenario version %d", script.Version)
	}
	if len(script.Keyframes) == 0 {
		return nil, fmt.Errorf("sim: keyframes is required")
	}
	for i, kf := range script.Keyframes {
		if kf.T < 0 {
			return nil, fmt.Errorf("sim: keyframes[%d].t must be >= 0", i)
		}
		if i > 0 && kf.T < script.Keyframes[i-1].T {
			return nil, fmt.Errorf("sim: keyframes must be sorted by t (index %d)", i)
		}
		if math.IsNaN(kf.ThetaDeg) || math.IsInf(kf.ThetaDeg, 0) {
			return nil, fmt.Errorf("sim: keyframes[%d].theta_deg is not finite", i)
		}
	}

	dur := script.Duration
	if dur <= 0 {
		dur = script.Keyframes[len(script.Keyframes)-1].T
	}
	return &Scenario{script: script, duration: dur}, nil
}

// Duration returns the effective scenario duration.
func (s *Scenario) Duration() time.Duration {
	if s == nil {
		return 0
	}
	return s.duration
}

// StateAt computes the tilt at elapsed.
//
// If loop is true, elapsed wraps around Duration(). Otherwise elapsed is clamped
// to [0, Duration()].
func (s *Scenario) StateAt(elapsed time.Duration, loop bool) TiltState {
	if s == nil {
		return TiltState{}
	}
	if elapsed < 0 {
		elapsed = 0
	}
	if s.duration > 0 {
		if loop {
			elapsed = elapsed % s.duration
		} else if elapsed > s.duration {
			elapsed = s.duration
		}
	}

	k0, k1, alpha := selectSegment(s.script.Keyframes, elapsed)
	st := TiltState{Theta: lerp(k0.ThetaDeg, k1.ThetaDeg, alpha) * math.Pi / 180}
	if dt := k1.T - k0.T; dt > 0 {
		st.ThetaDot = (k1.ThetaDeg - k0.ThetaDeg) * math.Pi / 180 / dt.Seconds()
	}
	return st
}

func selectSegment(kfs []Keyframe, t time.Duration) (Keyframe, Keyframe, float64) {
	if len(kfs) == 1 {
		return kfs[0], kfs[0], 0
	}
	idx := sort.Search(len(kfs), func(i int) bool { return kfs[i].T > t })
	if idx <= 0 {
		return kfs[0], kfs[0], 0
	}
	if idx >= len(kfs) {
		last := kfs[len(kfs)-1]
		return last, last, 0
	}
	k0 := kfs[idx-1]
	k1 := kfs[idx]
	dt := k1.T - k0.T
	if dt <= 0 {
		return k1, k1, 0
	}
	alpha := float64(t-k0.T) / float64(dt)
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}
	return k0, k1, alpha
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}
