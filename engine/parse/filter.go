package parse

import (
	"regexp"
	"strings"

	"github.com/WessleyAI/raffle-ledger/engine/domain"
)

// DefaultBots are accounts whose comments are never entries.
var DefaultBots = []string{"automoderator", "takobot", "rafflebot", "pokemonrafflebot"}

var (
	confirmationRe = regexp.MustCompile(`(?i)^\s*(?:you got|/?u/[A-Za-z0-9_-]+ got)|you have been assigned|slot assignment confirmation|your spots are:|assigned spots:`)
	ackRe          = regexp.MustCompile(`(?i)congrats!|good ?luck!|\badded\b|\[announcement\]|please follow these instructions|payment received|paid - thank|spots confirmed`)
	ackOnly        = map[string]bool{"gl": true, "glgl": true, "ty": true, "thanks": true, "thank you": true, "congrats": true, "tysm": true}
)

// ackMaxWords bounds how long an acknowledgement can be; longer bodies that
// happen to contain "added" or "good luck!" are still read as requests.
const ackMaxWords = 6

// skipReason returns why a comment is not an entry candidate, or "".
func skipReason(c domain.RawComment, bots map[string]bool) string {
	switch {
	case c.Deleted():
		return "deleted"
	case bots[strings.ToLower(c.Author)]:
		return "bot"
	case confirmationRe.MatchString(c.Body):
		return "confirmation"
	}
	lower := strings.ToLower(strings.TrimSpace(c.Body))
	if ackOnly[strings.Trim(lower, "!. ")] {
		return "acknowledgement"
	}
	if len(strings.Fields(lower)) <= ackMaxWords && ackRe.MatchString(lower) {
		return "acknowledgement"
	}
	return ""
}

func botSet(names []string) map[string]bool {
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[strings.ToLower(n)] = true
	}
	return out
}
