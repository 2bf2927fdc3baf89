package sessions

type State string

const (
	StateUninitialized State = "UNINITIALIZED"
	StateLoggingIn     State = "LOGGING_IN"
	StateActive        State = "ACTIVE"
	StateExpired       State = "EXPIRED"
	StateFailed        State = "FAILED"
)

func (s State) String() string {
	return string(s)
}
