package claim

import (
	"regexp"
	"strings"
)

// spelledNumbers maps number words to digits. Raffle threads rarely go past
// twenty spots per request, so larger words are left alone.
var spelledNumbers = map[string]string{
	"one": "1", "two": "2", "three": "3", "four": "4", "five": "5",
	"six": "6", "seven": "7", "eight": "8", "nine": "9", "ten": "10",
	"eleven": "11", "twelve": "12", "thirteen": "13", "fourteen": "14",
	"fifteen": "15", "sixteen": "16", "seventeen": "17", "eighteen": "18",
	"nineteen": "19", "twenty": "20",
}

var (
	spelledRe = regexp.MustCompile(`\b(one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve|thirteen|fourteen|fifteen|sixteen|seventeen|eighteen|nineteen|twenty)\b`)
	urlRe     = regexp.MustCompile(`https?://\S+|www\.\S+|\S+\.(?:com|net|org|io)/\S*`)
	moneyRe   = regexp.MustCompile(`\$\s*\d+(?:\.\d+)?|\b\d+(?:\.\d+)?\s*(?:usd|dollars?|bucks)\b`)
	spaceRe   = regexp.MustCompile(`\s+`)
	nonWordRe = regexp.MustCompile(`[^a-z0-9\s]+`)
)

// Normalize lower-cases a comment body, drops links and currency amounts, and
// spells number words as digits.
func Normalize(body string) string {
	s := strings.ToLower(body)
	s = urlRe.ReplaceAllString(s, " ")
	s = moneyRe.ReplaceAllString(s, " ")
	s = spelledRe.ReplaceAllStringFunc(s, func(w string) string { return spelledNumbers[w] })
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// bare strips punctuation, leaving words separated by single spaces.
func bare(s string) string {
	s = nonWordRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}
