package irc

// Privilege is an ordered channel-member privilege level. Higher values
// grant everything lower values do.
type Privilege int

const (
	PrivNone Privilege = iota
	PrivVoice
	PrivHalfop
	PrivOp
)

// String returns the conventional name for the privilege level
func (p Privilege) String() string {
	switch p {
	case PrivVoice:
		return "voice"
	case PrivHalfop:
		return "halfop"
	case PrivOp:
		return "op"
	default:
		return "none"
	}
}

// AtLeast reports whether p grants at least the privilege of q.
// This is the single comparison point for every privilege check.
func (p Privilege) AtLeast(q Privilege) bool {
	return p >= q
}

// PrivilegeFromMode maps a channel membership mode letter to its privilege
// level. Admin ('a') and owner ('q') rank as op; there is no separate tier.
func PrivilegeFromMode(mode byte) Privilege {
	switch mode {
	case 'v':
		return PrivVoice
	case 'h':
		return PrivHalfop
	case 'o', 'a', 'q':
		return PrivOp
	default:
		return PrivNone
	}
}
