package pipeline

// Stage is the value of the stage gate. Exactly one goroutine owns the frame
// buffers for each value: capture in Idle, grayscale in Captured, detection in
// Grayscaled.
type Stage int32

const (
	StageIdle       Stage = 0
	StageCaptured   Stage = 1
	StageGrayscaled Stage = 2

	// stageCapturing is held by SubmitFrame while it copies into the working
	// buffer, so no worker sees a half-written frame.
	stageCapturing Stage = -1
	// stageStopped is held while no pipeline is running; nothing can claim it.
	stageStopped Stage = -2
)

// String implements fmt.Stringer
func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageCaptured:
		return "captured"
	case StageGrayscaled:
		return "grayscaled"
	case stageCapturing:
		return "capturing"
	case stageStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// public maps the private transient values onto the observable ones
func (s Stage) public() Stage {
	switch s {
	case stageCapturing, stageStopped:
		return StageIdle
	default:
		return s
	}
}

// transition moves the gate from -> to and wakes every waiter. It reports
// false when the gate did not hold from.
func (c *Coordinator) transition(from, to Stage) bool {
	if !c.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	c.afterTransition(to)
	return true
}

// forceIdle resets the gate after a stage failure
func (c *Coordinator) forceIdle(from Stage) {
	if c.state.CompareAndSwap(int32(from), int32(StageIdle)) {
		c.afterTransition(StageIdle)
	}
}

func (c *Coordinator) afterTransition(to Stage) {
	if g, ok := c.recorder.(stageGauge); ok {
		g.SetStage(int32(to.public()))
	}
	c.broadcast()
}

// broadcast wakes all goroutines blocked in waitFor. Taking the lock pairs
// with the condition check in waitFor so no wakeup is lost.
func (c *Coordinator) broadcast() {
	c.mu.Lock()
	c.cond.Broadcast()
	c.mu.Unlock()
}

// waitFor blocks until the gate holds want or shutdown is requested. It
// returns false on shutdown.
func (c *Coordinator) waitFor(want Stage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for Stage(c.state.Load()) != want && !c.shutdown.Load() {
		c.cond.Wait()
	}
	return !c.shutdown.Load()
}

// currentStage returns the observable stage
func (c *Coordinator) currentStage() Stage {
	return Stage(c.state.Load()).public()
}
