package authflow

// State is a node of the authorization state machine.
type State int

const (
	SignedOut State = iota
	AuthorizationRequested
	AwaitingRedirect
	ExchangingCode
	SignedIn
	RefreshingToken
)

func (s State) String() string {
	switch s {
	case SignedOut:
		return "signed_out"
	case AuthorizationRequested:
		return "authorization_requested"
	case AwaitingRedirect:
		return "awaiting_redirect"
	case ExchangingCode:
		return "exchanging_code"
	case SignedIn:
		return "signed_in"
	case RefreshingToken:
		return "refreshing_token"
	default:
		return "unknown"
	}
}

// Stable reports whether s is a resting state (SignedOut or SignedIn).
func (s State) Stable() bool {
	return s == SignedOut || s == SignedIn
}
