package hostreply

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/WessleyAI/raffle-ledger/engine/domain"
)

// announcement phrases; the first pair must appear together.
var (
	primaryAnnouncement = [2]string{
		"attention unpaid participants",
		"your unpaid slots have been removed due to lack of payment",
	}
	altAnnouncements = []string{
		"unpaid slots have been removed",
		"slots have been removed due to lack of payment",
		"removed due to non-payment",
		"removed for non-payment",
	}
	mentionRe = regexp.MustCompile(`^/?u/([A-Za-z0-9_-]+)$`)
)

// IsRemovalAnnouncement reports whether body is a host removal notice.
func IsRemovalAnnouncement(body string) bool {
	lower := strings.ToLower(body)
	if strings.Contains(lower, primaryAnnouncement[0]) && strings.Contains(lower, primaryAnnouncement[1]) {
		return true
	}
	for _, p := range altAnnouncements {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// ScanRemovals collects the users named in owner replies to owner removal
// announcements. Every reply under every announcement is considered; a reply
// counts only when its whole body is a single u/name mention.
func ScanRemovals(comments []domain.RawComment, owner string, log *slog.Logger) domain.RemovalSet {
	if log == nil {
		log = slog.Default()
	}
	removed := domain.RemovalSet{}
	for _, c := range comments {
		if !c.IsSubmitter || !IsRemovalAnnouncement(c.Body) {
			continue
		}
		log.Info("removal announcement found", "comment", c.ID, "owner", owner, "replies", len(c.Replies))
		for _, r := range c.OwnerReplies() {
			m := mentionRe.FindStringSubmatch(strings.TrimSpace(r.Body))
			if m == nil {
				continue
			}
			removed.Add(m[1])
			log.Info("user marked for removal", "user", strings.ToLower(m[1]), "announcement", c.ID)
		}
	}
	return removed
}
