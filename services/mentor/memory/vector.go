// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memory

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/AleutianAI/MathMentor/services/mentor/config"
	"github.com/AleutianAI/MathMentor/services/mentor/problem"
)

// defaultClassName names the Weaviate class when the config leaves it blank.
const defaultClassName = "MentorInteraction"

// vectorHit is one semantic search result.
type vectorHit struct {
	InteractionID string
	Certainty     float64
}

// =============================================================================
// VectorStore
// =============================================================================

// VectorStore mirrors accepted interactions into Weaviate for semantic
// retrieval.
//
// Description:
//
//	Vectors are produced locally by the embedder and pushed with the
//	object, so the class is created with vectorizer "none". Search embeds
//	the query the same way and asks for nearVector neighbors, optionally
//	restricted to one topic. Weaviate is an enrichment: callers treat any
//	error here as a degraded channel, not a failed recall.
//
// Thread Safety: Safe for concurrent use. The underlying client and the
// embedder both are.
type VectorStore struct {
	client    *weaviate.Client
	embed     *Embedder
	className string
	log       *slog.Logger
}

// NewVectorStore connects to Weaviate. It does not touch the schema;
// call EnsureSchema once during startup.
func NewVectorStore(cfg config.WeaviateConfig, embed *Embedder, log *slog.Logger) (*VectorStore, error) {
	if log == nil {
		log = slog.Default()
	}
	client, err := weaviate.NewClient(weaviate.Config{
		Host:   cfg.Host,
		Scheme: cfg.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("memory: weaviate client: %w", err)
	}
	className := cfg.ClassName
	if className == "" {
		className = defaultClassName
	}
	return &VectorStore{
		client:    client,
		embed:     embed,
		className: className,
		log:       log,
	}, nil
}

// EnsureSchema creates the interaction class when it does not exist yet.
func (v *VectorStore) EnsureSchema(ctx context.Context) error {
	_, err := v.client.Schema().ClassGetter().WithClassName(v.className).Do(ctx)
	if err == nil {
		return nil
	}

	truePtr := true
	class := &models.Class{
		Class:       v.className,
		Description: "Accepted tutoring interactions offered as worked examples",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            "interactionId",
				DataType:        []string{"text"},
				Description:     "Pipeline session identifier",
				Tokenization:    "field",
				IndexFilterable: &truePtr,
			},
			{
				Name:        "problemText",
				DataType:    []string{"text"},
				Description: "Normalized problem statement",
			},
			{
				Name:            "category",
				DataType:        []string{"text"},
				Description:     "Classified topic",
				Tokenization:    "field",
				IndexFilterable: &truePtr,
			},
			{
				Name:         "strategy",
				DataType:     []string{"text"},
				Description:  "Strategy that solved the problem",
				Tokenization: "field",
			},
			{
				Name:        "result",
				DataType:    []string{"text"},
				Description: "Verified answer expression",
			},
			{
				Name:        "confidence",
				DataType:    []string{"number"},
				Description: "Verification confidence",
			},
			{
				Name:        "createdAt",
				DataType:    []string{"int"},
				Description: "Completion time in Unix milliseconds",
			},
		},
	}
	if err := v.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("memory: create class %s: %w", v.className, err)
	}
	v.log.Info("weaviate class created", "class", v.className)
	return nil
}

// Put mirrors one accepted interaction into the vector store.
//
// The object ID is derived from a hash of the interaction ID, so
// re-indexing the same interaction overwrites the existing object
// instead of adding a duplicate worked example.
func (v *VectorStore) Put(ctx context.Context, rec InteractionRecord) error {
	vec, err := v.embed.Embed(ctx, rec.ProblemText)
	if err != nil {
		return fmt.Errorf("memory: vectorize interaction %s: %w", rec.ID, err)
	}
	hash := sha256.Sum256([]byte(rec.ID))
	objectUUID, err := uuid.FromBytes(hash[:16])
	if err != nil {
		return fmt.Errorf("memory: object id for interaction %s: %w", rec.ID, err)
	}

	obj := &models.Object{
		Class:  v.className,
		ID:     strfmt.UUID(objectUUID.String()),
		Vector: vec,
		Properties: map[string]interface{}{
			"interactionId": rec.ID,
			"problemText":   rec.ProblemText,
			"category":      string(rec.Category),
			"strategy":      rec.Strategy,
			"result":        rec.Result,
			"confidence":    rec.Confidence,
			"createdAt":     rec.CreatedAt,
		},
	}
	resp, err := v.client.Batch().ObjectsBatcher().WithObjects(obj).Do(ctx)
	if err != nil {
		return fmt.Errorf("memory: index interaction %s: %w", rec.ID, err)
	}
	for _, item := range resp {
		if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
			return fmt.Errorf("memory: index interaction %s: %s", rec.ID, item.Result.Errors.Error[0].Message)
		}
	}
	return nil
}

// Search returns the semantically closest archived problems.
//
// Inputs:
//   - query: normalized problem text to match against.
//   - category: restricts results to one topic when non-empty and known.
//   - limit: maximum hits to return.
func (v *VectorStore) Search(ctx context.Context, query string, category problem.Category, limit int) ([]vectorHit, error) {
	vec, err := v.embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("memory: vectorize query: %w", err)
	}

	fields := []graphql.Field{
		{Name: "interactionId"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "certainty"}}},
	}
	nearVector := v.client.GraphQL().NearVectorArgBuilder().WithVector(vec)
	builder := v.client.GraphQL().Get().
		WithClassName(v.className).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(limit)

	if category != "" && category != problem.CategoryUnknown {
		where := filters.Where().
			WithPath([]string{"category"}).
			WithOperator(filters.Equal).
			WithValueString(string(category))
		builder = builder.WithWhere(where)
	}

	result, err := builder.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("memory: weaviate search: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("memory: weaviate search: %s", result.Errors[0].Message)
	}
	return parseVectorHits(result.Data, v.className), nil
}

// parseVectorHits walks the GraphQL response shape Weaviate returns for
// Get queries. Objects missing expected fields are skipped.
func parseVectorHits(data map[string]models.JSONObject, className string) []vectorHit {
	get, ok := data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	objects, ok := get[className].([]interface{})
	if !ok {
		return nil
	}

	hits := make([]vectorHit, 0, len(objects))
	for _, obj := range objects {
		props, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		id := getString(props, "interactionId")
		if id == "" {
			continue
		}
		certainty := 0.0
		if add, ok := props["_additional"].(map[string]interface{}); ok {
			certainty = getFloat64(add, "certainty")
		}
		hits = append(hits, vectorHit{InteractionID: id, Certainty: certainty})
	}
	return hits
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func getFloat64(m map[string]interface{}, key string) float64 {
	if v, ok := m[key].(float64); ok {
		return v
	}
	return 0
}
