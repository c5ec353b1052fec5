package checkout

type State string

const (
	StateIdle       State = "IDLE"
	StateSubmitting State = "SUBMITTING"
	StateCommitted  State = "COMMITTED"
	StateFailed     State = "FAILED"
)

var validNext = map[State]map[State]bool{
	StateIdle:       {StateSubmitting: true},
	StateSubmitting: {StateCommitted: true, StateFailed: true},
	StateCommitted:  {StateIdle: true},
	StateFailed:     {StateSubmitting: true, StateIdle: true},
}

func CanTransition(from, to State) bool {
	return validNext[from][to]
}
