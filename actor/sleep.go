package actor

// SleepState is the deactivation state of a body or shaft.
//
//	Active -> CouldSleep    speed below thresholds for SleepTime
//	CouldSleep -> Sleeping  confirmed by the owning system
//	Sleeping -> Active      force, contact or link wakes it
type SleepState int

const (
	Active SleepState = iota
	CouldSleep
	Sleeping
)

func (s SleepState) String() string {
	switch s {
	case Active:
		return "active"
	case CouldSleep:
		return "could_sleep"
	case Sleeping:
		return "sleeping"
	default:
		return "unknown"
	}
}

// sleepEpsilon absorbs round-off when accumulating dt towards SleepTime.
const sleepEpsilon = 1e-9

// SleepParams are the thresholds of the deactivation heuristic.
type SleepParams struct {
	MinSpeed  float64 `yaml:"min_speed"`
	MinWvel   float64 `yaml:"min_wvel"`
	SleepTime float64 `yaml:"sleep_time"`
}

func DefaultSleepParams() SleepParams {
	return SleepParams{
		MinSpeed:  0.1,
		MinWvel:   0.04,
		SleepTime: 0.6,
	}
}

// sleeper is the debounced state machine shared by bodies and shafts.
type sleeper struct {
	SleepParams SleepParams

	sleepState SleepState
	sleepTimer float64
}

func (s *sleeper) SleepState() SleepState { return s.sleepState }
func (s *sleeper) IsSleeping() bool       { return s.sleepState == Sleeping }
func (s *sleeper) SleepTimer() float64    { return s.sleepTimer }

// observe advances the timer with the current speeds and reports whether
// the entity became a sleep candidate.
func (s *sleeper) observe(dt, speed, wvel float64) bool {
	if s.sleepState == Sleeping {
		return false
	}
	if speed < s.SleepParams.MinSpeed && wvel < s.SleepParams.MinWvel {
		s.sleepTimer += dt
		if s.sleepTimer+sleepEpsilon >= s.SleepParams.SleepTime {
			s.sleepState = CouldSleep
			return true
		}
		return false
	}
	s.sleepTimer = 0
	s.sleepState = Active
	return false
}

func (s *sleeper) sleep() {
	s.sleepState = Sleeping
	s.sleepTimer = 0
}

func (s *sleeper) wake() {
	s.sleepState = Active
	s.sleepTimer = 0
}
