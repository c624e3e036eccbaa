// Package vectorindex implements the optional semantic-recall component
// (spec.md §4.10 supplement): embedding Facts and ConversationEntries into
// Milvus so a skill can answer "what do you know about X" by similarity
// rather than exact substring match. Disabled unless Config.VectorIndex is
// set; Store's substring query path never depends on this package.
package vectorindex

import (
	"context"
	"fmt"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/giquina/clawd-bot/internal/config"
)

const (
	fieldID     = "id"
	fieldText   = "text"
	fieldSource = "source" // "fact" or "conversation"
	fieldVector = "embedding"
)

// Embedder turns text into a fixed-dimension vector. Satisfied by any
// ProviderAdapter backend that exposes embeddings; callers wire their own
// implementation since the base ProviderAdapter contract doesn't require one.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Document is one embedded record: a Fact or ConversationEntry's text plus
// its originating entity id.
type Document struct {
	ID     string
	Text   string
	Source string
}

// Match is a similarity search hit.
type Match struct {
	Document
	Score float32
}

type Index struct {
	cli        client.Client
	collection string
	dimension  int
	embedder   Embedder
}

func New(ctx context.Context, cfg config.VectorIndex, embedder Embedder) (*Index, error) {
	cli, err := client.NewGrpcClient(ctx, cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("connect milvus at %s: %w", cfg.Address, err)
	}

	idx := &Index{cli: cli, collection: cfg.Collection, dimension: cfg.Dimension, embedder: embedder}
	if err := idx.ensureCollection(ctx); err != nil {
		cli.Close()
		return nil, err
	}
	return idx, nil
}

func (i *Index) ensureCollection(ctx context.Context) error {
	has, err := i.cli.HasCollection(ctx, i.collection)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", i.collection, err)
	}
	if has {
		return i.cli.LoadCollection(ctx, i.collection, false)
	}

	schema := &entity.Schema{
		CollectionName: i.collection,
		Description:    "clawd-bot semantic recall index",
		Fields: []*entity.Field{
			{Name: fieldID, DataType: entity.FieldTypeVarChar, PrimaryKey: true, AutoID: false, TypeParams: map[string]string{"max_length": "64"}},
			{Name: fieldText, DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "4096"}},
			{Name: fieldSource, DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "32"}},
			{Name: fieldVector, DataType: entity.FieldTypeFloatVector, TypeParams: map[string]string{"dim": fmt.Sprintf("%d", i.dimension)}},
		},
	}

	if err := i.cli.CreateCollection(ctx, schema, 2); err != nil {
		return fmt.Errorf("create collection %s: %w", i.collection, err)
	}

	idx := entity.NewIndexIvfFlat(entity.COSINE, 128)
	if err := i.cli.CreateIndex(ctx, i.collection, fieldVector, idx, false); err != nil {
		return fmt.Errorf("create index on %s: %w", i.collection, err)
	}

	return i.cli.LoadCollection(ctx, i.collection, false)
}

// Upsert embeds and stores doc, replacing any existing row with the same ID.
func (i *Index) Upsert(ctx context.Context, doc Document) error {
	vec, err := i.embedder.Embed(ctx, doc.Text)
	if err != nil {
		return fmt.Errorf("embed document %s: %w", doc.ID, err)
	}
	if len(vec) != i.dimension {
		return fmt.Errorf("embedding dimension %d does not match configured dimension %d", len(vec), i.dimension)
	}

	if err := i.cli.Delete(ctx, i.collection, "", fmt.Sprintf("%s == \"%s\"", fieldID, doc.ID)); err != nil {
		return fmt.Errorf("delete stale row %s: %w", doc.ID, err)
	}

	_, err = i.cli.Insert(ctx, i.collection, "",
		entity.NewColumnVarChar(fieldID, []string{doc.ID}),
		entity.NewColumnVarChar(fieldText, []string{doc.Text}),
		entity.NewColumnVarChar(fieldSource, []string{doc.Source}),
		entity.NewColumnFloatVector(fieldVector, i.dimension, [][]float32{vec}),
	)
	if err != nil {
		return fmt.Errorf("insert document %s: %w", doc.ID, err)
	}
	return nil
}

// Search returns the topK most similar documents to query, optionally
// restricted to one source kind ("fact" or "conversation"; empty searches
// both).
func (i *Index) Search(ctx context.Context, query string, topK int, source string) ([]Match, error) {
	vec, err := i.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	expr := ""
	if source != "" {
		expr = fmt.Sprintf("%s == \"%s\"", fieldSource, source)
	}

	sp, err := entity.NewIndexIvfFlatSearchParam(16)
	if err != nil {
		return nil, fmt.Errorf("build search param: %w", err)
	}

	results, err := i.cli.Search(ctx, i.collection, nil, expr, []string{fieldText, fieldSource},
		[]entity.Vector{entity.FloatVector(vec)}, fieldVector, entity.COSINE, topK, sp)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	var matches []Match
	for _, r := range results {
		idCol, ok := r.IDs.(*entity.ColumnVarChar)
		if !ok {
			continue
		}
		for idx, id := range idCol.Data() {
			m := Match{Document: Document{ID: id}}
			if idx < len(r.Scores) {
				m.Score = r.Scores[idx]
			}
			for _, f := range r.Fields {
				col, ok := f.(*entity.ColumnVarChar)
				if !ok {
					continue
				}
				vals := col.Data()
				if idx >= len(vals) {
					continue
				}
				switch f.Name() {
				case fieldText:
					m.Text = vals[idx]
				case fieldSource:
					m.Source = vals[idx]
				}
			}
			matches = append(matches, m)
		}
	}
	return matches, nil
}

func (i *Index) Close() error {
	return i.cli.Close()
}
