package qdrant

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/ricesearch/rice-eval/internal/corpus"
	"github.com/ricesearch/rice-eval/internal/embed"
)

// DefaultBatchSize is the number of points per upsert request.
const DefaultBatchSize = 64

// Payload keys.
const (
	payloadDocID   = "doc_id"
	payloadTitle   = "title"
	payloadBody    = "body"
	payloadAuthors = "authors"
)

// pointNamespace derives stable point UUIDs from document ids.
var pointNamespace = uuid.MustParse("5d1c3a4e-8f0b-4c55-9b6e-2a7f1e0c9d21")

// PointID returns the Qdrant point id for a document id.
func PointID(documentID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(documentID)).String()
}

// Point is one document with its vectors.
type Point struct {
	Document corpus.Document
	Dense    []float32
	Sparse   embed.SparseVector
}

// UpsertPoints writes points in batches, waiting for each batch to be indexed.
func (c *Client) UpsertPoints(ctx context.Context, points []Point, batchSize int) error {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	for i := 0; i < len(points); i += batchSize {
		end := min(i+batchSize, len(points))
		if err := c.upsert(ctx, points[i:end]); err != nil {
			return fmt.Errorf("failed to upsert batch %d-%d: %w", i, end, err)
		}
	}
	return nil
}

func (c *Client) upsert(ctx context.Context, points []Point) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return fmt.Errorf("client is closed")
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	structs := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		structs[i] = c.toPointStruct(p)
	}

	_, err := c.api.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: c.config.Collection,
		Points:         structs,
		Wait:           qdrant.PtrOf(true),
	})
	return err
}

func (c *Client) toPointStruct(p Point) *qdrant.PointStruct {
	vectors := map[string]*qdrant.Vector{
		c.config.DenseVector: {Data: p.Dense},
	}
	if len(p.Sparse.Indices) > 0 {
		vectors[c.config.SparseVector] = &qdrant.Vector{
			Data:    p.Sparse.Values,
			Indices: &qdrant.SparseIndices{Data: p.Sparse.Indices},
		}
	}

	return &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(PointID(p.Document.ID)),
		Vectors: &qdrant.Vectors{VectorsOptions: &qdrant.Vectors_Vectors{Vectors: &qdrant.NamedVectors{Vectors: vectors}}},
		Payload: toPayload(p.Document),
	}
}

func toPayload(d corpus.Document) map[string]*qdrant.Value {
	payload := map[string]*qdrant.Value{
		payloadDocID: qdrant.NewValueString(d.ID),
		payloadTitle: qdrant.NewValueString(d.Title),
		payloadBody:  qdrant.NewValueString(d.Body),
	}
	if len(d.Authors) > 0 {
		authors := make([]*qdrant.Value, len(d.Authors))
		for i, a := range d.Authors {
			authors[i] = qdrant.NewValueString(a)
		}
		payload[payloadAuthors] = &qdrant.Value{
			Kind: &qdrant.Value_ListValue{ListValue: &qdrant.ListValue{Values: authors}},
		}
	}
	return payload
}

func fromPayload(payload map[string]*qdrant.Value) corpus.Document {
	return corpus.Document{
		ID:      getStringValue(payload, payloadDocID),
		Title:   getStringValue(payload, payloadTitle),
		Body:    getStringValue(payload, payloadBody),
		Authors: getStringSliceValue(payload, payloadAuthors),
	}
}

func getStringValue(payload map[string]*qdrant.Value, key string) string {
	if v, ok := payload[key]; ok {
		if sv, ok := v.Kind.(*qdrant.Value_StringValue); ok {
			return sv.StringValue
		}
	}
	return ""
}

func getStringSliceValue(payload map[string]*qdrant.Value, key string) []string {
	if v, ok := payload[key]; ok {
		if lv, ok := v.Kind.(*qdrant.Value_ListValue); ok {
			result := make([]string, 0, len(lv.ListValue.Values))
			for _, item := range lv.ListValue.Values {
				if sv, ok := item.Kind.(*qdrant.Value_StringValue); ok {
					result = append(result, sv.StringValue)
				}
			}
			return result
		}
	}
	return nil
}
