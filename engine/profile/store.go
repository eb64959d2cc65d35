package profile

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Store is the sole owner of all Qdrant operations for fingerprints.
type Store struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
}

// New creates a Store connected to Qdrant at the given gRPC address.
func New(addr string, collection string) (*Store, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("profile: dial qdrant %s: %w", addr, err)
	}
	return &Store{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// Close closes the underlying gRPC connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// EnsureCollection creates the fingerprint collection if it doesn't exist.
func (s *Store) EnsureCollection(ctx context.Context) error {
	list, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("profile: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == s.collection {
			return nil
		}
	}

	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(Dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("profile: create collection %s: %w", s.collection, err)
	}
	return nil
}

// Upsert stores a vehicle's fingerprint, replacing any previous one.
func (s *Store) Upsert(ctx context.Context, event AnalysisEvent) error {
	vector := Fingerprint(event.Analysis)
	payload := map[string]*pb.Value{
		"vehicle_id": {Kind: &pb.Value_StringValue{StringValue: event.VehicleID}},
		"label_key":  {Kind: &pb.Value_StringValue{StringValue: event.Analysis.LabelKey}},
		"unit":       {Kind: &pb.Value_StringValue{StringValue: string(event.Analysis.Unit)}},
		"score":      {Kind: &pb.Value_IntegerValue{IntegerValue: int64(event.Analysis.Score)}},
	}

	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: []*pb.PointStruct{{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(event.VehicleID)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: vector},
				},
			},
			Payload: payload,
		}},
	})
	if err != nil {
		return fmt.Errorf("profile: upsert fingerprint for %s: %w", event.VehicleID, err)
	}
	return nil
}

// SearchSimilar returns the vehicles whose fingerprints are closest to the
// given vector.
func (s *Store) SearchSimilar(ctx context.Context, vector []float32, topK int) ([]Match, error) {
	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("profile: search: %w", err)
	}

	matches := make([]Match, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		m := Match{Score: r.GetScore()}
		payload := r.GetPayload()
		m.VehicleID = payload["vehicle_id"].GetStringValue()
		m.LabelKey = payload["label_key"].GetStringValue()
		m.Unit = unitFromPayload(payload["unit"].GetStringValue())
		matches[i] = m
	}
	return matches, nil
}
