package reddit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/WessleyAI/raffle-ledger/engine/domain"
)

// Reddit JSON API response types. A post's comment endpoint returns
// [postListing, commentListing]; "replies" is either "" or a nested listing.

// Listing is a Reddit listing object.
type Listing struct {
	Kind string `json:"kind"`
	Data struct {
		Children []Thing `json:"children"`
		After    string  `json:"after"`
	} `json:"data"`
}

// Thing is one listing child (t1 comment, t3 post, or a "more" stub).
type Thing struct {
	Kind string    `json:"kind"`
	Data ThingData `json:"data"`
}

// ThingData carries the fields the ledger reads from posts and comments.
type ThingData struct {
	ID          string          `json:"id"`
	Author      string          `json:"author"`
	Title       string          `json:"title"`
	Body        string          `json:"body"`
	CreatedUTC  float64         `json:"created_utc"`
	ParentID    string          `json:"parent_id"`
	Depth       int             `json:"depth"`
	IsSubmitter bool            `json:"is_submitter"`
	Replies     json.RawMessage `json:"replies"`
}

// Children decodes the nested reply listing. Empty string means no replies.
func (d ThingData) Children() ([]Thing, error) {
	raw := bytes.TrimSpace(d.Replies)
	if len(raw) == 0 || raw[0] == '"' || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var l Listing
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, fmt.Errorf("replies of %s: %w", d.ID, err)
	}
	return l.Data.Children, nil
}

// Thread is a fetched, flattened post.
type Thread struct {
	PostID   string              `json:"post_id"`
	Title    string              `json:"title"`
	Owner    string              `json:"owner"`
	Comments []domain.RawComment `json:"comments"`
}

// ParseThread decodes a comment endpoint payload and flattens it.
func ParseThread(data []byte) (*Thread, error) {
	var listings []Listing
	if err := json.Unmarshal(data, &listings); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnexpectedShape, err)
	}
	if len(listings) < 2 || len(listings[0].Data.Children) == 0 {
		return nil, fmt.Errorf("%w: expected [post, comments], got %d listing(s)", domain.ErrUnexpectedShape, len(listings))
	}
	post := listings[0].Data.Children[0].Data
	comments, err := Flatten(listings[1], post.Author)
	if err != nil {
		return nil, err
	}
	if len(comments) == 0 {
		return nil, domain.ErrEmptyThread
	}
	return &Thread{PostID: post.ID, Title: post.Title, Owner: post.Author, Comments: comments}, nil
}

func isOwner(author, owner string) bool {
	return owner != "" && strings.EqualFold(author, owner)
}
