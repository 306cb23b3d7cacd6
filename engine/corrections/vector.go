package corrections

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// DefaultMinScore is the cosine similarity a neighbour needs before its
// correction is reused.
const DefaultMinScore = 0.92

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type pointsClient interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
}

type collectionsClient interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// pointNamespace scopes the name-based point ids.
var pointNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("raffle-ledger/corrections"))

// VectorStore keeps corrections in Qdrant so that near-identical bodies
// ("3 spots pls" vs "3 spots please") share a correction.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pointsClient
	collections collectionsClient
	collection  string
	embed       Embedder
	now         func() time.Time

	// MinScore is the similarity threshold for a match.
	MinScore float32
}

// NewVectorStore connects to Qdrant at the given gRPC address.
func NewVectorStore(addr, collection string, embed Embedder) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("corrections: dial qdrant %s: %w", addr, err)
	}
	v := newVectorStore(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), collection, embed)
	v.conn = conn
	return v, nil
}

func newVectorStore(points pointsClient, cols collectionsClient, collection string, embed Embedder) *VectorStore {
	return &VectorStore{
		points:      points,
		collections: cols,
		collection:  collection,
		embed:       embed,
		now:         time.Now,
		MinScore:    DefaultMinScore,
	}
}

// Close closes the gRPC connection.
func (v *VectorStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

// EnsureCollection creates the collection if it does not exist.
func (v *VectorStore) EnsureCollection(ctx context.Context, dims int) error {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("corrections: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			return nil
		}
	}
	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{Size: uint64(dims), Distance: pb.Distance_Cosine},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("corrections: create collection %s: %w", v.collection, err)
	}
	return nil
}

// Record embeds the body and upserts it. The point id is derived from the
// normalised body, so recording the same body again replaces it.
func (v *VectorStore) Record(ctx context.Context, c Correction) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.RecordedAt.IsZero() {
		c.RecordedAt = v.now().UTC()
	}
	key := Key(c.Comment)
	vec, err := v.embed.Embed(ctx, key)
	if err != nil {
		return fmt.Errorf("corrections: embed: %w", err)
	}

	wait := true
	_, err = v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points: []*pb.PointStruct{{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(key)}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vec}},
			},
			Payload: map[string]*pb.Value{
				"comment":     stringValue(c.Comment),
				"key":         stringValue(key),
				"wrong":       intValue(c.Wrong),
				"correct":     intValue(c.Correct),
				"recorded_at": stringValue(c.RecordedAt.Format(time.RFC3339)),
			},
		}},
	})
	if err != nil {
		return fmt.Errorf("corrections: upsert: %w", err)
	}
	return nil
}

// Lookup returns the nearest stored correction scoring at least MinScore.
func (v *VectorStore) Lookup(ctx context.Context, body string) (Correction, bool, error) {
	key := Key(body)
	if key == "" {
		return Correction{}, false, nil
	}
	vec, err := v.embed.Embed(ctx, key)
	if err != nil {
		return Correction{}, false, fmt.Errorf("corrections: embed: %w", err)
	}
	resp, err := v.points.Search(ctx, &pb.SearchPoints{
		CollectionName: v.collection,
		Vector:         vec,
		Limit:          1,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return Correction{}, false, fmt.Errorf("corrections: search: %w", err)
	}
	hits := resp.GetResult()
	if len(hits) == 0 || hits[0].GetScore() < v.MinScore {
		return Correction{}, false, nil
	}
	p := hits[0].GetPayload()
	c := Correction{
		Comment: p["comment"].GetStringValue(),
		Wrong:   int(p["wrong"].GetIntegerValue()),
		Correct: int(p["correct"].GetIntegerValue()),
	}
	if t, err := time.Parse(time.RFC3339, p["recorded_at"].GetStringValue()); err == nil {
		c.RecordedAt = t
	}
	return c, true, nil
}

// PointID is the Qdrant point id for a normalised body.
func PointID(key string) string {
	return uuid.NewSHA1(pointNamespace, []byte(key)).String()
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func intValue(n int) *pb.Value {
	return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(n)}}
}
