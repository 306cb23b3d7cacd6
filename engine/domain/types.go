// Package domain defines the core raffle ledger types shared by every stage of
// the comment parsing pipeline: raw comments, parsed claims, host decisions and
// the participant records handed back to callers.
package domain

import (
	"strings"
	"time"
)

// DeletedAuthor is the author sentinel Reddit uses for deleted accounts.
const DeletedAuthor = "[deleted]"

// RawComment is one node of a fetched comment thread.
type RawComment struct {
	ID          string       `json:"id"`
	Author      string       `json:"author"`
	Body        string       `json:"body"`
	CreatedAt   int64        `json:"created_at"`
	Depth       int          `json:"depth"`
	ParentID    string       `json:"parent_id"`
	IsSubmitter bool         `json:"is_submitter"`
	Replies     []RawComment `json:"replies,omitempty"`
}

// Created returns the creation instant in UTC.
func (c RawComment) Created() time.Time { return time.Unix(c.CreatedAt, 0).UTC() }

// Deleted reports whether the author account or the body was removed.
func (c RawComment) Deleted() bool {
	return c.Author == "" || c.Author == DeletedAuthor || c.Author == "[removed]"
}

// OwnerReplies returns the direct replies written by the thread owner, in order.
func (c RawComment) OwnerReplies() []RawComment {
	var out []RawComment
	for _, r := range c.Replies {
		if r.IsSubmitter {
			out = append(out, r)
		}
	}
	return out
}

// ClaimKind tags which classification rule produced a ParsedClaim.
type ClaimKind string

const (
	ClaimNone      ClaimKind = ""
	ClaimClose     ClaimKind = "close"
	ClaimDrama     ClaimKind = "drama"
	ClaimSnipe     ClaimKind = "snipe"
	ClaimSpotCount ClaimKind = "spot_count"
	ClaimRange     ClaimKind = "range"
	ClaimTabbed    ClaimKind = "tabbed"
	ClaimList      ClaimKind = "list"
	ClaimRandom    ClaimKind = "random"
	ClaimModel     ClaimKind = "model"
	ClaimCorrected ClaimKind = "corrected"
)

// ParsedClaim is the classifier's reading of a single comment body.
type ParsedClaim struct {
	IsClaim bool      `json:"is_claim"`
	Spots   int       `json:"spots"`
	// Unspecified marks a close-out claim: the requester takes whatever remains.
	Unspecified bool      `json:"unspecified,omitempty"`
	Kind        ClaimKind `json:"kind,omitempty"`
	Picks       []int     `json:"picks,omitempty"`
	Random      int       `json:"random,omitempty"`
	Ambiguous   bool      `json:"ambiguous,omitempty"`
	Reason      string    `json:"reason,omitempty"`
}

// NotAClaim is the zero classification.
var NotAClaim = ParsedClaim{}

// DecisionKind enumerates host decision variants.
type DecisionKind int

const (
	Unresolved DecisionKind = iota
	Confirmed
	Waitlisted
	Removed
	TabPending
)

func (k DecisionKind) String() string {
	switch k {
	case Confirmed:
		return "confirmed"
	case Waitlisted:
		return "waitlisted"
	case Removed:
		return "removed"
	case TabPending:
		return "tab_pending"
	default:
		return "unresolved"
	}
}

// HostDecision is the resolver's reading of the owner's replies to a comment.
// Spots and Beneficiary are meaningful for Confirmed only.
type HostDecision struct {
	Kind        DecisionKind
	Spots       int
	Beneficiary string
	// Open is set on a confirmation that carried no spot numbers; the
	// allocation enforcer fills it from remaining capacity.
	Open bool
}

// Status is the persisted state of a participant record.
type Status string

const (
	StatusConfirmed  Status = "confirmed"
	StatusWaitlist   Status = "waitlist"
	StatusRemoved    Status = "removed"
	StatusTabPending Status = "tab_pending"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusConfirmed, StatusWaitlist, StatusRemoved, StatusTabPending:
		return true
	}
	return false
}

// Participant is one derived ledger entry.
type Participant struct {
	User            string `json:"redditUser"`
	DisplayName     string `json:"name"`
	Comment         string `json:"comment"`
	Spots           int    `json:"spots"`
	RequestedSpots  int    `json:"requestedSpots"`
	ClaimedSpots    int    `json:"claimedSpots"`
	Open            bool   `json:"open,omitempty"`
	Owed            Amount `json:"owed"`
	Paid            bool   `json:"paid"`
	CreatedAt       int64  `json:"created_utc"`
	SourceCommentID string `json:"commentId"`
	Status          Status `json:"status"`
	NeedsReview     bool   `json:"needsReview,omitempty"`
}

// Key identifies a participant record for merging. A single comment can
// produce two records (author and proxy), so the beneficiary is part of it.
func (p Participant) Key() string {
	return p.SourceCommentID + "/" + strings.ToLower(p.User)
}

// RemovalSet holds lower-cased usernames the host removed for non-payment.
type RemovalSet map[string]struct{}

// Add inserts a username.
func (s RemovalSet) Add(user string) { s[strings.ToLower(user)] = struct{}{} }

// Has reports membership, case-insensitively.
func (s RemovalSet) Has(user string) bool {
	_, ok := s[strings.ToLower(user)]
	return ok
}

// Names returns the members in unspecified order.
func (s RemovalSet) Names() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	return out
}

// IDSet is a set of comment ids.
type IDSet map[string]struct{}

// NewIDSet builds an IDSet from ids.
func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports membership; a nil set has no members.
func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}
