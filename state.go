package autoflow

import "github.com/andrewwormald/autoflow/internal/metrics"

type State string

const (
	StateUnknown  State = ""
	StateShutdown State = "Shutdown"
	StateRunning  State = "Running"
	StateIdle     State = "Idle"
)

// stateGaugeValues maps process states onto stable numeric values for the
// process state gauge.
var stateGaugeValues = map[State]float64{
	StateUnknown:  0,
	StateShutdown: 1,
	StateIdle:     2,
	StateRunning:  3,
}

func (e *Engine) updateState(processName string, s State) {
	e.internalStateMu.Lock()
	defer e.internalStateMu.Unlock()

	metrics.ProcessStates.WithLabelValues(processName).Set(stateGaugeValues[s])

	e.internalState[processName] = s
}

// States returns the current state of every background process the engine
// launched, keyed by process name.
func (e *Engine) States() map[string]State {
	e.internalStateMu.Lock()
	defer e.internalStateMu.Unlock()

	states := make(map[string]State)
	for k, v := range e.internalState {
		states[k] = v
	}

	return states
}
