package orchestrator

// State is a node of the turn state machine
type State string

const (
	StateStart                State = "start"
	StateCommandIntercepted   State = "command_intercepted"
	StateInvokingPrimaryAgent State = "invoking_primary_agent"
	StateInvokingTools        State = "invoking_tools"
	StateInvokingSubAgent     State = "invoking_sub_agent"
	StateEnded                State = "ended"
)

// IsTerminal reports whether no further step follows the state
func (s State) IsTerminal() bool {
	return s == StateCommandIntercepted || s == StateEnded
}

func (s State) String() string {
	return string(s)
}
