package corrections

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"

	"github.com/WessleyAI/raffle-ledger/engine/domain"
)

func TestKey(t *testing.T) {
	tests := []struct{ a, b string }{
		{"3 Spots Please", "3 spots please"},
		{"three spots please", "3 spots   please"},
		{"  gimme  5 ", "gimme 5"},
	}
	for _, tt := range tests {
		if Key(tt.a) != Key(tt.b) {
			t.Errorf("Key(%q)=%q != Key(%q)=%q", tt.a, Key(tt.a), tt.b, Key(tt.b))
		}
	}
}

func TestCorrectionValidate(t *testing.T) {
	if err := (Correction{Comment: "  ", Correct: 1}).Validate(); !errors.Is(err, ErrInvalidCorrection) {
		t.Errorf("empty comment: got %v", err)
	}
	if err := (Correction{Comment: "x", Correct: -1}).Validate(); !errors.Is(err, ErrInvalidCorrection) {
		t.Errorf("negative: got %v", err)
	}
	if err := (Correction{Comment: "x", Correct: 2}).Validate(); err != nil {
		t.Errorf("valid: got %v", err)
	}
}

func TestFileStore_RecordAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrections.json")
	s, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if s.Len() != 0 {
		t.Fatal("expected empty store for missing file")
	}
	ctx := context.Background()
	if err := s.Record(ctx, Correction{Comment: "2 for me 2 for my buddy", Wrong: 1, Correct: 4}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := s.Record(ctx, Correction{Comment: "2 FOR ME 2 FOR MY BUDDY", Wrong: 4, Correct: 2}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("expected the second record to replace the first, got %d", s.Len())
	}

	reopened, err := OpenFile(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	c, ok, err := reopened.Lookup(ctx, "2 for me 2 for my buddy")
	if err != nil || !ok {
		t.Fatalf("Lookup: ok=%v err=%v", ok, err)
	}
	if c.Correct != 2 || c.RecordedAt.IsZero() {
		t.Errorf("unexpected correction %+v", c)
	}
	if _, ok, _ := reopened.Lookup(ctx, "something else"); ok {
		t.Error("unexpected hit")
	}
}

func TestFileStore_BadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrections.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenFile(path); err == nil {
		t.Error("expected decode error")
	}
}

type mapStore map[string]Correction

func (m mapStore) Lookup(_ context.Context, body string) (Correction, bool, error) {
	c, ok := m[Key(body)]
	return c, ok, nil
}
func (m mapStore) Record(_ context.Context, c Correction) error { m[Key(c.Comment)] = c; return nil }

type failStore struct{}

func (failStore) Lookup(context.Context, string) (Correction, bool, error) {
	return Correction{}, false, errors.New("down")
}
func (failStore) Record(context.Context, Correction) error { return errors.New("down") }

func TestOverlay(t *testing.T) {
	store := mapStore{}
	_ = store.Record(context.Background(), Correction{Comment: "me and my buddy 2 each", Correct: 4})
	_ = store.Record(context.Background(), Correction{Comment: "12", Correct: 0})

	got := Overlay{Store: store}.Classify(context.Background(), []string{
		"me and my buddy 2 each",
		"12",
		"3 spots",
	})
	if !got[0].IsClaim || got[0].Spots != 4 || got[0].Kind != domain.ClaimCorrected {
		t.Errorf("corrected claim: %+v", got[0])
	}
	if got[1].IsClaim {
		t.Errorf("zero correction should cancel the claim: %+v", got[1])
	}
	if got[2].Spots != 3 || got[2].Kind != domain.ClaimSpotCount {
		t.Errorf("uncorrected body should keep the rules reading: %+v", got[2])
	}
}

func TestOverlay_StoreErrorKeepsBase(t *testing.T) {
	got := Overlay{Store: failStore{}}.Classify(context.Background(), []string{"5 spots"})
	if got[0].Spots != 5 {
		t.Errorf("expected base claim, got %+v", got[0])
	}
}

// --- Qdrant fakes ---

type fakePoints struct {
	upserts []*pb.UpsertPoints
	search  *pb.SearchResponse
	err     error
}

func (f *fakePoints) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	f.upserts = append(f.upserts, in)
	return &pb.PointsOperationResponse{}, f.err
}

func (f *fakePoints) Search(_ context.Context, _ *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	return f.search, f.err
}

type fakeCollections struct {
	names   []string
	created string
}

func (f *fakeCollections) List(context.Context, *pb.ListCollectionsRequest, ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	resp := &pb.ListCollectionsResponse{}
	for _, n := range f.names {
		resp.Collections = append(resp.Collections, &pb.CollectionDescription{Name: n})
	}
	return resp, nil
}

func (f *fakeCollections) Create(_ context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	f.created = in.GetCollectionName()
	return &pb.CollectionOperationResponse{Result: true}, nil
}

type fixedEmbedder struct{ err error }

func (f fixedEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, f.err
}

func TestVectorStore_Record(t *testing.T) {
	pts := &fakePoints{}
	v := newVectorStore(pts, &fakeCollections{}, "corrections", fixedEmbedder{})
	v.now = func() time.Time { return time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC) }

	if err := v.Record(context.Background(), Correction{Comment: "Three Spots", Wrong: 1, Correct: 3}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(pts.upserts) != 1 {
		t.Fatalf("expected 1 upsert, got %d", len(pts.upserts))
	}
	p := pts.upserts[0].GetPoints()[0]
	if p.GetId().GetUuid() != PointID("3 spots") {
		t.Errorf("point id should derive from the normalised body")
	}
	if p.GetPayload()["correct"].GetIntegerValue() != 3 {
		t.Errorf("payload: %v", p.GetPayload())
	}
	if err := v.Record(context.Background(), Correction{}); !errors.Is(err, ErrInvalidCorrection) {
		t.Errorf("expected invalid correction, got %v", err)
	}
}

func TestVectorStore_Lookup(t *testing.T) {
	hit := func(score float32) *pb.SearchResponse {
		return &pb.SearchResponse{Result: []*pb.ScoredPoint{{
			Score: score,
			Payload: map[string]*pb.Value{
				"comment":     stringValue("3 spots pls"),
				"wrong":       intValue(1),
				"correct":     intValue(3),
				"recorded_at": stringValue("2025-03-01T00:00:00Z"),
			},
		}}}
	}
	tests := []struct {
		name   string
		search *pb.SearchResponse
		want   bool
	}{
		{"close neighbour", hit(0.97), true},
		{"too far", hit(0.5), false},
		{"empty collection", &pb.SearchResponse{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newVectorStore(&fakePoints{search: tt.search}, &fakeCollections{}, "c", fixedEmbedder{})
			c, ok, err := v.Lookup(context.Background(), "3 spots please")
			if err != nil {
				t.Fatal(err)
			}
			if ok != tt.want {
				t.Fatalf("ok = %v, want %v", ok, tt.want)
			}
			if ok && (c.Correct != 3 || c.RecordedAt.IsZero()) {
				t.Errorf("unexpected correction %+v", c)
			}
		})
	}
}

func TestVectorStore_LookupErrors(t *testing.T) {
	v := newVectorStore(&fakePoints{}, &fakeCollections{}, "c", fixedEmbedder{err: errors.New("no model")})
	if _, _, err := v.Lookup(context.Background(), "3 spots"); err == nil {
		t.Error("expected embed error")
	}
	v = newVectorStore(&fakePoints{err: errors.New("unavailable")}, &fakeCollections{}, "c", fixedEmbedder{})
	if _, _, err := v.Lookup(context.Background(), "3 spots"); err == nil {
		t.Error("expected search error")
	}
	if _, ok, err := v.Lookup(context.Background(), "   "); ok || err != nil {
		t.Error("blank body should miss without calling qdrant")
	}
}

func TestVectorStore_EnsureCollection(t *testing.T) {
	cols := &fakeCollections{names: []string{"corrections"}}
	v := newVectorStore(&fakePoints{}, cols, "corrections", fixedEmbedder{})
	if err := v.EnsureCollection(context.Background(), 768); err != nil || cols.created != "" {
		t.Fatalf("existing collection: err=%v created=%q", err, cols.created)
	}
	cols.names = nil
	if err := v.EnsureCollection(context.Background(), 768); err != nil || cols.created != "corrections" {
		t.Fatalf("missing collection: err=%v created=%q", err, cols.created)
	}
	if err := v.Close(); err != nil {
		t.Errorf("Close without conn: %v", err)
	}
}
