// Package hostreply interprets the thread owner's replies: spot confirmations
// (including proxy and dual assignments), waitlist and removal notices, and
// the removal announcements that retroactively cancel unpaid entries.
package hostreply

import (
	"regexp"
	"strings"
	"time"

	"github.com/WessleyAI/raffle-ledger/engine/claim"
	"github.com/WessleyAI/raffle-ledger/engine/domain"
)

// DefaultTabGrace is how long a tab request may sit without a host reply
// before it is recorded as pending.
const DefaultTabGrace = 5 * time.Minute

var (
	waitlistRe = regexp.MustCompile(`(?i)waitlist starts here`)
	removalRe  = regexp.MustCompile(`(?i)\bremoved\b|\bunpaid\b|lack of payment|did(?: not|n'?t) pay|non-?payment`)
	youGotRe   = regexp.MustCompile(`(?i)\byou got\b`)
	proxyRe    = regexp.MustCompile(`(?i)/?\bu/([A-Za-z0-9_-]+)\s+got\b`)
	stopRe     = regexp.MustCompile(`(?i)please|follow|good luck|\bglgl\b|\bgl\b`)
	intRe      = regexp.MustCompile(`\b\d+\b`)
)

// Resolver maps a candidate comment and its owner replies to host decisions.
type Resolver struct {
	TabGrace time.Duration
	Now      func() time.Time
}

// NewResolver creates a Resolver. A non-positive grace uses DefaultTabGrace.
func NewResolver(tabGrace time.Duration) *Resolver {
	if tabGrace <= 0 {
		tabGrace = DefaultTabGrace
	}
	return &Resolver{TabGrace: tabGrace, Now: time.Now}
}

// Resolve reads the owner replies in order. It always returns at least one
// decision; a dual reply ("you got … u/x got …") returns two confirmations.
func (r *Resolver) Resolve(candidate domain.RawComment, replies []domain.RawComment) []domain.HostDecision {
	for _, rep := range replies {
		if waitlistRe.MatchString(rep.Body) {
			return []domain.HostDecision{{Kind: domain.Waitlisted}}
		}
	}
	for _, rep := range replies {
		if removalRe.MatchString(rep.Body) && !youGotRe.MatchString(rep.Body) && !proxyRe.MatchString(rep.Body) {
			return []domain.HostDecision{{Kind: domain.Removed}}
		}
	}
	for _, rep := range replies {
		if ds := confirmations(candidate.Author, rep.Body); len(ds) > 0 {
			return ds
		}
	}

	if claim.IsTabRequest(candidate.Body) && r.Now().Sub(candidate.Created()) >= r.TabGrace {
		return []domain.HostDecision{{Kind: domain.TabPending}}
	}
	return []domain.HostDecision{{Kind: domain.Unresolved}}
}

// confirmations parses one reply. Numbers are counted, never summed.
func confirmations(author, body string) []domain.HostDecision {
	you := youGotRe.FindStringIndex(body)
	proxy := proxyRe.FindStringSubmatchIndex(body)

	switch {
	case you == nil && proxy == nil:
		return nil
	case you == nil:
		return proxyDecision(body, proxy)
	case proxy == nil:
		if n := bestYouGot(body); n > 0 {
			return []domain.HostDecision{{Kind: domain.Confirmed, Spots: n, Beneficiary: author}}
		}
		return nil
	}

	// Dual assignment: cut at whichever clause comes second.
	var out []domain.HostDecision
	proxyStart := proxy[0]
	var youPart, proxyPart string
	if you[0] < proxyStart {
		youPart, proxyPart = body[you[0]:proxyStart], body[proxyStart:]
	} else {
		proxyPart, youPart = body[proxyStart:you[0]], body[you[0]:]
	}
	if n := bestYouGot(youPart); n > 0 {
		out = append(out, domain.HostDecision{Kind: domain.Confirmed, Spots: n, Beneficiary: author})
	}
	if loc := proxyRe.FindStringSubmatchIndex(proxyPart); loc != nil {
		out = append(out, proxyDecision(proxyPart, loc)...)
	}
	return out
}

func proxyDecision(body string, loc []int) []domain.HostDecision {
	user := body[loc[2]:loc[3]]
	if n := countAfter(body, loc[1]); n > 0 {
		return []domain.HostDecision{{Kind: domain.Confirmed, Spots: n, Beneficiary: user}}
	}
	return nil
}

// bestYouGot returns the count from the "you got" line with the most numbers.
func bestYouGot(body string) int {
	best := 0
	for _, line := range strings.Split(body, "\n") {
		if loc := youGotRe.FindStringIndex(line); loc != nil {
			best = max(best, countAfter(line, loc[1]))
		}
	}
	return best
}

// countAfter counts integers from offset up to the first delimiter: a
// newline, "please", "follow", "gl", "good luck" or "glgl".
func countAfter(s string, offset int) int {
	s = s[offset:]
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if loc := stopRe.FindStringIndex(s); loc != nil {
		s = s[:loc[0]]
	}
	return len(intRe.FindAllString(s, -1))
}

// HasYouGot reports whether any reply contains a "you got" clause.
func HasYouGot(replies []domain.RawComment) bool {
	for _, r := range replies {
		if youGotRe.MatchString(r.Body) {
			return true
		}
	}
	return false
}
