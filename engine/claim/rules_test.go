package claim

import (
	"context"
	"reflect"
	"testing"

	"github.com/WessleyAI/raffle-ledger/engine/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		body  string
		claim bool
		spots int
		kind  domain.ClaimKind
	}{
		{"1-5, 17-21", true, 10, domain.ClaimRange},
		{"5,9,12,56,65 tabbed doublechen", true, 5, domain.ClaimList},
		{"37 tabbed slum", true, 1, domain.ClaimTabbed},
		{"Drama", true, 0, domain.ClaimDrama},
		{"snipe 44 please", true, 1, domain.ClaimSnipe},
		{"Sniping!", true, 1, domain.ClaimSnipe},
		{"3 spots please", true, 3, domain.ClaimSpotCount},
		{"2 slots, surprise me", true, 2, domain.ClaimSpotCount},
		{"two spots", true, 2, domain.ClaimSpotCount},
		{"4, 8, 15 and 2 randoms", true, 5, domain.ClaimList},
		{"a random please", true, 1, domain.ClaimRandom},
		{"3 randos", true, 3, domain.ClaimRandom},
		{"random, random", true, 2, domain.ClaimRandom},
		{"one more random", true, 1, domain.ClaimRandom},
		{"spot 33 or 34", true, 1, domain.ClaimList},
		{"33 or 34 or 35", true, 1, domain.ClaimList},
		{"spots 5.6.7", true, 3, domain.ClaimList},
		{"7.50 dollars sent, 4 and 9", true, 2, domain.ClaimList},
		{"12, 13 sub 14, 15", true, 2, domain.ClaimList},
		{"7, 8, 9 (if not available 10, 11)", true, 3, domain.ClaimList},
		{"82", true, 1, domain.ClaimList},
		{"#44", true, 1, domain.ClaimList},
		{"10 20 30", true, 3, domain.ClaimList},
		{"gl everyone!", false, 0, domain.ClaimNone},
		{"paid $10 via paypal", false, 0, domain.ClaimNone},
		{"https://imgur.com/a/x9y8z7", false, 0, domain.ClaimNone},
		{"", false, 0, domain.ClaimNone},
	}

	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			c := Classify(tt.body)
			if c.IsClaim != tt.claim || c.Spots != tt.spots || c.Kind != tt.kind {
				t.Errorf("Classify(%q) = {claim:%v spots:%d kind:%q}, want {claim:%v spots:%d kind:%q}",
					tt.body, c.IsClaim, c.Spots, c.Kind, tt.claim, tt.spots, tt.kind)
			}
		})
	}
}

func TestClassify_Close(t *testing.T) {
	for _, body := range []string{"close", "Closer!", "I'll close it", "close please"} {
		c := Classify(body)
		if !c.IsClaim || !c.Unspecified || c.Kind != domain.ClaimClose {
			t.Errorf("Classify(%q) = %+v, want unspecified close", body, c)
		}
	}
	if c := Classify("so close to filling, 4 please"); c.Kind == domain.ClaimClose {
		t.Errorf("close inside a sentence should not be a close-out: %+v", c)
	}
}

func TestClassify_Picks(t *testing.T) {
	c := Classify("4, 8, 15 and 2 randoms")
	if !reflect.DeepEqual(c.Picks, []int{4, 8, 15}) || c.Random != 2 {
		t.Errorf("unexpected picks %+v", c)
	}
}

func TestClassify_Ambiguous(t *testing.T) {
	c := Classify("I'll take 5")
	if !c.IsClaim || c.Spots != 1 || !c.Ambiguous {
		t.Errorf("expected flagged lone number, got %+v", c)
	}
	if c := Classify("spot 5"); c.Ambiguous {
		t.Errorf("did not expect a flag for an indexed spot: %+v", c)
	}
	if c := Classify("1-80"); !c.Ambiguous || c.Spots != 80 {
		t.Errorf("expected flagged wide range, got %+v", c)
	}
}

func TestClassify_Pure(t *testing.T) {
	body := "4, 8, 15 and 2 randoms"
	a, b := Classify(body), Classify(body)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("classification is not deterministic: %+v vs %+v", a, b)
	}
}

func TestRules_Batch(t *testing.T) {
	got := Rules{}.Classify(context.Background(), []string{"3 spots", "thanks!"})
	if len(got) != 2 || got[0].Spots != 3 || got[1].IsClaim {
		t.Errorf("unexpected batch result %+v", got)
	}
}

func TestIsTabRequest(t *testing.T) {
	tests := []struct {
		body string
		want bool
	}{
		{"tab 3 please", true},
		{"37 tabbed", true},
		{"Retab me", true},
		{"table for two", false},
		{"3 spots", false},
	}
	for _, tt := range tests {
		if got := IsTabRequest(tt.body); got != tt.want {
			t.Errorf("IsTabRequest(%q) = %v, want %v", tt.body, got, tt.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	got := Normalize("  Twelve   SPOTS http://x.io/abc  $2.50 ")
	if got != "12 spots" {
		t.Errorf("got %q", got)
	}
}
