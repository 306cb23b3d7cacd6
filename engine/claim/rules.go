// Package claim reads spot requests out of raffle comment bodies. Rules is the
// deterministic classifier; Model asks a language model and falls back to
// Rules whenever the answer cannot be trusted.
package claim

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/WessleyAI/raffle-ledger/engine/domain"
)

// Classifier turns comment bodies into claims, one per body, in order.
// Implementations never fail; a body they cannot read is not a claim.
type Classifier interface {
	Classify(ctx context.Context, bodies []string) []domain.ParsedClaim
}

// maxRangeSpan is the widest range accepted without a review flag.
const maxRangeSpan = 50

var (
	closeRe  = regexp.MustCompile(`^(?:i ?ll )?(?:close|closer)(?: (?:it|out|pls|please|thanks|ty))*$`)
	dramaRe  = regexp.MustCompile(`^drama(?: (?:pls|please))?$`)
	snipeRe  = regexp.MustCompile(`\bsnip(?:e|er|es|ing)\b`)
	spotsRe  = regexp.MustCompile(`\b(\d+)\s*(?:spots?|slots?|spts?)\b`)
	rangeRe  = regexp.MustCompile(`\b(\d+)\s*-\s*(\d+)\b`)
	tabbedRe = regexp.MustCompile(`\b\d+\s+tabb?ed\b`)
	randomRe = regexp.MustCompile(`(?:\b(\d+)\s+(?:more\s+)?)?\b(?:an?\s+)?(?:random|rando|randon|ranom|radnom|randm|rnadom|ramdom)s?\b`)
	numberRe = regexp.MustCompile(`\b\d+\b`)
	orRe     = regexp.MustCompile(`\b(\d+)(?:\s+or\s+#?\s*\d+)+\b`)
	subRe    = regexp.MustCompile(`\bsub(?:s|stitute)?\b|\bif\s+(?:not\s+|un)?(?:available|avail|taken)\b|\bif\s+(?:those|that)\s+(?:are|is)\s+taken\b`)
	verbRe   = regexp.MustCompile(`\b(?:take|want|give me|gimme|grab|need)\b`)
)

// Rules is the deterministic classifier.
type Rules struct{}

// Classify implements Classifier.
func (Rules) Classify(_ context.Context, bodies []string) []domain.ParsedClaim {
	out := make([]domain.ParsedClaim, len(bodies))
	for i, b := range bodies {
		out[i] = Classify(b)
	}
	return out
}

// Classify reads one comment body. It is pure: the same body always yields
// the same claim. Rules are tried in precedence order and the first match
// wins.
func Classify(body string) domain.ParsedClaim {
	text := Normalize(body)
	if text == "" {
		return domain.NotAClaim
	}
	words := bare(text)

	if closeRe.MatchString(words) {
		return domain.ParsedClaim{IsClaim: true, Unspecified: true, Kind: domain.ClaimClose}
	}
	if dramaRe.MatchString(words) {
		return domain.ParsedClaim{IsClaim: true, Spots: 0, Kind: domain.ClaimDrama}
	}
	if snipeRe.MatchString(text) {
		return domain.ParsedClaim{IsClaim: true, Spots: 1, Kind: domain.ClaimSnipe}
	}

	text = primarySet(text)

	if m := spotsRe.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n > 0 {
			return domain.ParsedClaim{IsClaim: true, Spots: n, Kind: domain.ClaimSpotCount}
		}
	}
	if c, ok := ranges(text); ok {
		return c
	}
	if loc := tabbedRe.FindStringIndex(text); loc != nil && !strings.Contains(text[:loc[0]], ",") {
		return domain.ParsedClaim{IsClaim: true, Spots: 1, Kind: domain.ClaimTabbed, Picks: ints(numberRe.FindAllString(text[loc[0]:loc[1]], 1))}
	}

	return count(orRe.ReplaceAllString(text, "$1"))
}

// primarySet keeps a single alternative when the commenter names a backup
// ("12, 13 sub 14, 15" or "12 13 if not available 20"). The set before the
// marker wins unless it has no numbers.
func primarySet(text string) string {
	loc := subRe.FindStringIndex(text)
	if loc == nil {
		return text
	}
	if before := text[:loc[0]]; numberRe.MatchString(before) {
		return before
	}
	return text[loc[1]:]
}

func ranges(text string) (domain.ParsedClaim, bool) {
	matches := rangeRe.FindAllStringSubmatch(text, -1)
	if matches == nil {
		return domain.ParsedClaim{}, false
	}
	c := domain.ParsedClaim{IsClaim: true, Kind: domain.ClaimRange}
	for _, m := range matches {
		a, _ := strconv.Atoi(m[1])
		b, _ := strconv.Atoi(m[2])
		if a > b {
			a, b = b, a
		}
		span := b - a + 1
		if span > maxRangeSpan {
			c.Ambiguous = true
			c.Reason = "range wider than " + strconv.Itoa(maxRangeSpan)
		}
		c.Spots += span
		for n := a; n <= b && len(c.Picks) < maxRangeSpan; n++ {
			c.Picks = append(c.Picks, n)
		}
	}
	return c, true
}

// count handles the generic case: random requests plus explicit numbers.
func count(text string) domain.ParsedClaim {
	random := 0
	rest := randomRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := randomRe.FindStringSubmatch(m)
		if sub[1] != "" {
			n, _ := strconv.Atoi(sub[1])
			random += n
		} else {
			random++
		}
		return " "
	})
	picks := ints(numberRe.FindAllString(rest, -1))

	switch {
	case len(picks) == 1 && random == 0:
		c := domain.ParsedClaim{IsClaim: true, Spots: 1, Kind: domain.ClaimList, Picks: picks}
		if verbRe.MatchString(rest) {
			c.Ambiguous = true
			c.Reason = "lone number could be a quantity"
		}
		return c
	case len(picks)+random == 0:
		return domain.NotAClaim
	case len(picks) == 0:
		return domain.ParsedClaim{IsClaim: true, Spots: random, Kind: domain.ClaimRandom, Random: random}
	default:
		return domain.ParsedClaim{IsClaim: true, Spots: len(picks) + random, Kind: domain.ClaimList, Picks: picks, Random: random}
	}
}

func ints(ss []string) []int {
	if len(ss) == 0 {
		return nil
	}
	out := make([]int, 0, len(ss))
	for _, s := range ss {
		n, err := strconv.Atoi(s)
		if err == nil {
			out = append(out, n)
		}
	}
	return out
}

// IsTabRequest reports whether a body asks the host to run a tab.
func IsTabRequest(body string) bool {
	return tabRe.MatchString(strings.ToLower(body))
}

var tabRe = regexp.MustCompile(`\b(?:tab|tabbed|tabbing|retab)\b`)
