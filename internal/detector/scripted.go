package detector

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/markertrack/markertrack/internal/conf"
	"github.com/markertrack/markertrack/internal/marker"
)

// EngineScripted is the registered name of the scripted engine
const EngineScripted = "scripted"

// ScriptMarker is one marker in a scripted frame. Corners win over X/Y/Size.
type ScriptMarker struct {
	ID      int          `yaml:"id"`
	Corners [][2]float32 `yaml:"corners,omitempty"`
	X       float32      `yaml:"x,omitempty"`
	Y       float32      `yaml:"y,omitempty"`
	Size    float32      `yaml:"size,omitempty"`
}

// ScriptFrame is the scripted outcome of one Detect call
type ScriptFrame struct {
	Markers  []ScriptMarker `yaml:"markers,omitempty"`
	Rejected int            `yaml:"rejected,omitempty"` // number of rejected candidates to report
	Error    string         `yaml:"error,omitempty"`    // non-empty fails the call
	Delay    time.Duration  `yaml:"delay,omitempty"`    // simulated engine latency
}

// Script is a sequence of frames replayed by ScriptedEngine
type Script struct {
	Loop   bool          `yaml:"loop"`
	Frames []ScriptFrame `yaml:"frames"`
}

// ParseScript decodes a YAML script
func ParseScript(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("error parsing detection script: %w", err)
	}

	for i, f := range s.Frames {
		for _, m := range f.Markers {
			if len(m.Corners) != 0 && len(m.Corners) != 4 {
				return nil, fmt.Errorf("frame %d marker %d: corners need 4 points, got %d", i, m.ID, len(m.Corners))
			}
			if len(m.Corners) == 0 && m.Size <= 0 {
				return nil, fmt.Errorf("frame %d marker %d: size must be positive when corners are omitted", i, m.ID)
			}
		}
		if f.Delay < 0 {
			return nil, fmt.Errorf("frame %d: delay must not be negative", i)
		}
	}

	return &s, nil
}

// LoadScript reads a YAML script from path
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("error reading detection script: %w", err)
	}
	return ParseScript(data)
}

// ScriptedEngine replays a script, one frame per Detect call. It lets the
// pipeline run end to end without a vision library.
type ScriptedEngine struct {
	mu     sync.Mutex
	script Script
	next   int
	calls  uint64
}

// NewScriptedEngine creates an engine replaying script. A nil script yields empty results.
func NewScriptedEngine(script *Script) *ScriptedEngine {
	e := &ScriptedEngine{}
	if script != nil {
		e.script = *script
	}
	return e
}

// Calls returns the number of Detect calls served
func (e *ScriptedEngine) Calls() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Detect implements Engine
func (e *ScriptedEngine) Detect(ctx context.Context, gray *image.Gray, dict Dictionary, _ Parameters) (Result, error) {
	if gray == nil {
		return Result{}, fmt.Errorf("scripted engine: nil grayscale image")
	}

	frame, ok := e.advance()
	if !ok {
		return Result{}, nil
	}

	if frame.Delay > 0 {
		timer := time.NewTimer(frame.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}

	if frame.Error != "" {
		return Result{}, fmt.Errorf("scripted engine: %s", frame.Error)
	}

	res := Result{
		IDs:     make([]int, 0, len(frame.Markers)),
		Corners: make([]marker.Quad, 0, len(frame.Markers)),
	}

	for _, m := range frame.Markers {
		if dict != "" && !dict.Contains(m.ID) {
			// the engine cannot decode ids outside the dictionary
			res.Rejected = append(res.Rejected, scriptQuad(m))
			continue
		}
		res.IDs = append(res.IDs, m.ID)
		res.Corners = append(res.Corners, scriptQuad(m))
	}

	for i := range frame.Rejected {
		offset := float32(i * 10)
		res.Rejected = append(res.Rejected, squareQuad(offset, offset, 5))
	}

	return res, nil
}

func (e *ScriptedEngine) advance() (ScriptFrame, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls++

	if len(e.script.Frames) == 0 {
		return ScriptFrame{}, false
	}
	if e.next >= len(e.script.Frames) {
		if !e.script.Loop {
			return ScriptFrame{}, false
		}
		e.next = 0
	}

	frame := e.script.Frames[e.next]
	e.next++
	return frame, true
}

func scriptQuad(m ScriptMarker) marker.Quad {
	if len(m.Corners) == 4 {
		var q marker.Quad
		for i, c := range m.Corners {
			q[i] = marker.Point2f{X: c[0], Y: c[1]}
		}
		return q
	}
	return squareQuad(m.X-m.Size/2, m.Y-m.Size/2, m.Size)
}

func squareQuad(x, y, side float32) marker.Quad {
	return marker.Quad{
		{X: x, Y: y},
		{X: x + side, Y: y},
		{X: x + side, Y: y + side},
		{X: x, Y: y + side},
	}
}

func init() {
	Register(EngineScripted, func(s *conf.DetectionSettings) (Engine, error) {
		if s.Script == "" {
			return NewScriptedEngine(nil), nil
		}
		script, err := LoadScript(s.Script)
		if err != nil {
			return nil, err
		}
		return NewScriptedEngine(script), nil
	})
}
