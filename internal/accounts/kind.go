package accounts

import (
	"fmt"
	"strings"

	"github.com/devflow-labs/devflow/internal/output"
)

// Kind identifies an external service an account credential belongs to.
type Kind string

const (
	KindRepoHost      Kind = "repo_host"
	KindTicketTracker Kind = "ticket_tracker"
	KindWiki          Kind = "wiki"
)

// Kinds lists every supported kind in display order.
func Kinds() []Kind {
	return []Kind{KindRepoHost, KindTicketTracker, KindWiki}
}

var aliases = map[string]Kind{
	"github":     KindRepoHost,
	"jira":       KindTicketTracker,
	"confluence": KindWiki,
}

// ParseKind accepts a kind name or one of its service aliases.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "_")
	for _, k := range Kinds() {
		if string(k) == s {
			return k, nil
		}
	}
	if k, ok := aliases[s]; ok {
		return k, nil
	}
	return "", output.ErrUsageHint(
		fmt.Sprintf("Unknown account kind %q", s),
		"Valid kinds: repo_host (github), ticket_tracker (jira), wiki (confluence)",
	)
}

// Valid reports whether k is a supported kind.
func (k Kind) Valid() bool {
	for _, v := range Kinds() {
		if k == v {
			return true
		}
	}
	return false
}

// Label is the human-readable service name.
func (k Kind) Label() string {
	switch k {
	case KindRepoHost:
		return "Repository host"
	case KindTicketTracker:
		return "Ticket tracker"
	case KindWiki:
		return "Wiki"
	default:
		return string(k)
	}
}

// UsesBasicAuth reports whether the service authenticates with
// email:token basic credentials rather than a bare token.
func (k Kind) UsesBasicAuth() bool {
	return k == KindTicketTracker || k == KindWiki
}
