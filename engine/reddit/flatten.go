package reddit

import (
	"github.com/WessleyAI/raffle-ledger/engine/domain"
)

// Flatten walks a comment listing depth-first, parent before children, in the
// source sibling order. Every node carries its direct replies (one level) with
// the submitter flag set for replies written by owner. "more" stubs are
// skipped; no content filtering happens here.
func Flatten(tree Listing, owner string) ([]domain.RawComment, error) {
	var out []domain.RawComment
	if err := walk(tree.Data.Children, owner, 0, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func walk(things []Thing, owner string, depth int, out *[]domain.RawComment) error {
	for _, t := range things {
		if t.Kind != "t1" {
			continue
		}
		children, err := t.Data.Children()
		if err != nil {
			return err
		}
		node := toRaw(t.Data, owner, depth)
		for _, c := range children {
			if c.Kind == "t1" {
				node.Replies = append(node.Replies, toRaw(c.Data, owner, depth+1))
			}
		}
		*out = append(*out, node)
		if err := walk(children, owner, depth+1, out); err != nil {
			return err
		}
	}
	return nil
}

func toRaw(d ThingData, owner string, depth int) domain.RawComment {
	author := d.Author
	if author == "" {
		author = domain.DeletedAuthor
	}
	return domain.RawComment{
		ID:          d.ID,
		Author:      author,
		Body:        d.Body,
		CreatedAt:   int64(d.CreatedUTC),
		Depth:       depth,
		ParentID:    d.ParentID,
		IsSubmitter: d.IsSubmitter || isOwner(author, owner),
	}
}
