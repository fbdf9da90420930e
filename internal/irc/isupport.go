package irc

import (
	"strings"
	"sync"

	"github.com/matt0x6f/cascade/internal/logger"
)

// ISupport stores parsed RPL_ISUPPORT (005) parameters for one connection.
// Until the server advertises otherwise it assumes the conventional
// PREFIX=(ov)@+ and CHANTYPES=#& defaults.
type ISupport struct {
	mu           sync.RWMutex
	prefixes     map[rune]rune // prefix char -> mode char, e.g. '@' -> 'o'
	prefixString string
	chanModes    string
	chanTypes    string
	network      string
}

// NewISupport creates an ISupport table seeded with protocol defaults
func NewISupport() *ISupport {
	return &ISupport{
		prefixes:     map[rune]rune{'@': 'o', '+': 'v'},
		prefixString: "(ov)@+",
		chanModes:    "beI,k,l,imnpst",
		chanTypes:    "#&",
	}
}

// Apply parses the tokens of one 005 line. The first param (our nickname)
// and the trailing "are supported by this server" text must already be
// stripped by the caller.
func (s *ISupport) Apply(tokens []string) {
	for _, token := range tokens {
		name := token
		value := ""
		if idx := strings.Index(token, "="); idx != -1 {
			name = token[:idx]
			value = token[idx+1:]
		}

		switch name {
		case "PREFIX":
			s.parsePrefix(value)
		case "CHANMODES":
			s.mu.Lock()
			s.chanModes = value
			s.mu.Unlock()
			logger.Log.Debug().Str("chanmodes", value).Msg("Parsed CHANMODES from ISUPPORT")
		case "CHANTYPES":
			if value != "" {
				s.mu.Lock()
				s.chanTypes = value
				s.mu.Unlock()
			}
		case "NETWORK":
			s.mu.Lock()
			s.network = value
			s.mu.Unlock()
		}
	}
}

// parsePrefix parses the PREFIX parameter value.
// Format: (ov)@+ where (ov) are the mode letters and @+ are the prefix
// characters, mapping '@' -> 'o' (op) and '+' -> 'v' (voice).
func (s *ISupport) parsePrefix(value string) {
	openParen := strings.IndexRune(value, '(')
	closeParen := strings.IndexRune(value, ')')
	if openParen == -1 || closeParen == -1 || closeParen < openParen {
		logger.Log.Warn().Str("prefix", value).Msg("Invalid PREFIX format")
		return
	}

	modes := value[openParen+1 : closeParen]
	symbols := value[closeParen+1:]
	if len(modes) != len(symbols) {
		logger.Log.Warn().Str("prefix", value).Msg("PREFIX mode and symbol counts differ")
		return
	}

	prefixes := make(map[rune]rune, len(modes))
	modeRunes := []rune(modes)
	for i, symbol := range symbols {
		prefixes[symbol] = modeRunes[i]
	}

	s.mu.Lock()
	s.prefixes = prefixes
	s.prefixString = value
	s.mu.Unlock()

	logger.Log.Debug().Str("prefix", value).Msg("Parsed PREFIX from ISUPPORT")
}

// PrivilegeForPrefix maps a NAMES/WHO prefix character to a privilege level
func (s *ISupport) PrivilegeForPrefix(prefix rune) Privilege {
	s.mu.RLock()
	mode, ok := s.prefixes[prefix]
	s.mu.RUnlock()
	if !ok {
		return PrivNone
	}
	return PrivilegeFromMode(byte(mode))
}

// SplitNameEntry splits a NAMES list entry into its privilege and bare nick.
// With multi-prefix a nick may carry several prefixes ("@+alice"); the
// highest-ranked one wins. Prefixes the server advertised but we do not
// rank (owner variants and the like map via PrivilegeFromMode) are still
// stripped from the nick.
func (s *ISupport) SplitNameEntry(entry string) (Privilege, string) {
	s.mu.RLock()
	prefixes := s.prefixes
	s.mu.RUnlock()

	priv := PrivNone
	i := 0
	for _, r := range entry {
		mode, ok := prefixes[r]
		if !ok {
			break
		}
		if p := PrivilegeFromMode(byte(mode)); p.AtLeast(priv) {
			priv = p
		}
		i += len(string(r))
	}
	return priv, entry[i:]
}

// IsChannel reports whether target names a channel per CHANTYPES
func (s *ISupport) IsChannel(target string) bool {
	if target == "" {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return strings.ContainsRune(s.chanTypes, rune(target[0]))
}

// Network returns the network name advertised via NETWORK, if any
func (s *ISupport) Network() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.network
}

// ChanModes returns the raw CHANMODES value advertised by the server
func (s *ISupport) ChanModes() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chanModes
}

// PrefixString returns the raw PREFIX value currently in effect
func (s *ISupport) PrefixString() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefixString
}

// ChanModeType classifies a channel mode per the CHANMODES groups: 'A'
// list modes, 'B' always-parameter modes, 'C' parameter-when-set modes,
// 'D' flags. Modes absent from the table return 0; membership prefix
// modes are classified separately via IsMembershipMode.
func (s *ISupport) ChanModeType(mode rune) byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	types := [...]byte{'A', 'B', 'C', 'D'}
	for i, group := range strings.Split(s.chanModes, ",") {
		if i >= len(types) {
			break
		}
		if strings.ContainsRune(group, mode) {
			return types[i]
		}
	}
	return 0
}

// IsMembershipMode reports whether a mode letter grants a NAMES prefix
// (voice, op and friends per the server's PREFIX advertisement)
func (s *ISupport) IsMembershipMode(mode rune) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.prefixes {
		if m == mode {
			return true
		}
	}
	return false
}
