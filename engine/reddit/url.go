package reddit

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/WessleyAI/raffle-ledger/engine/domain"
)

const baseURL = "https://www.reddit.com"

var postPath = regexp.MustCompile(`^/r/([A-Za-z0-9_]+)/comments/([a-z0-9]+)(?:/([^/]*))?`)

var redditHosts = map[string]bool{
	"reddit.com": true, "www.reddit.com": true, "old.reddit.com": true,
	"new.reddit.com": true, "np.reddit.com": true, "m.reddit.com": true,
}

// PostRef identifies a post.
type PostRef struct {
	Subreddit string
	ID        string
	Slug      string
}

// ParsePostURL validates a post link and extracts its parts.
func ParsePostURL(raw string) (PostRef, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return PostRef{}, domain.NewValidationError("post_url", raw, domain.ErrInvalidPostURL)
	}
	if !redditHosts[strings.ToLower(u.Host)] {
		return PostRef{}, domain.NewValidationError("post_url", raw, domain.ErrInvalidPostURL)
	}
	m := postPath.FindStringSubmatch(strings.TrimSuffix(u.Path, ".json"))
	if m == nil {
		return PostRef{}, domain.NewValidationError("post_url", raw, domain.ErrInvalidPostURL)
	}
	return PostRef{Subreddit: m[1], ID: m[2], Slug: m[3]}, nil
}

// JSONURL is the newest-first, depth-unlimited comment endpoint for the post.
func (p PostRef) JSONURL() string {
	path := fmt.Sprintf("/r/%s/comments/%s", p.Subreddit, p.ID)
	if p.Slug != "" {
		path += "/" + p.Slug
	}
	return baseURL + path + ".json?limit=1000&sort=new&raw_json=1"
}

// Permalink is the canonical human link for the post.
func (p PostRef) Permalink() string {
	return fmt.Sprintf("%s/r/%s/comments/%s/", baseURL, p.Subreddit, p.ID)
}
