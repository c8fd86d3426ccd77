// Package store is the persistence gateway: idempotent upserts of
// canonicalized records into a per-company MongoDB namespace, one
// collection per data category. Nothing else writes these documents.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"finassist/internal/config"
	"finassist/internal/records"
)

// reservedDatabases are namespaces that can never hold company data.
var reservedDatabases = map[string]bool{
	"admin":  true,
	"local":  true,
	"config": true,
}

// Gateway wraps the MongoDB client with the pipeline's write discipline:
// every write is an upsert keyed on the record's canonical id, so repeated
// runs converge on one document per key instead of duplicating.
type Gateway struct {
	client    *mongo.Client
	opTimeout time.Duration
	logger    *slog.Logger
}

// NewGateway connects to the document store and verifies the connection.
func NewGateway(ctx context.Context, cfg config.MongoConfig, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to document store: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, fmt.Errorf("document store unreachable: %w", err)
	}

	return &Gateway{client: client, opTimeout: cfg.OpTimeout, logger: logger}, nil
}

// Close disconnects from the store.
func (g *Gateway) Close(ctx context.Context) error {
	closeCtx, cancel := context.WithTimeout(ctx, g.opTimeout)
	defer cancel()
	return g.client.Disconnect(closeCtx)
}

func (g *Gateway) collection(company string, category records.Category) *mongo.Collection {
	return g.client.Database(company).Collection(string(category))
}

// Upsert replaces the document with the record's canonical id, creating it
// if absent. A second upsert with the same id never produces a second
// document.
func (g *Gateway) Upsert(ctx context.Context, company string, category records.Category, rec records.Record) error {
	update, err := upsertUpdate(rec)
	if err != nil {
		return err
	}

	opCtx, cancel := context.WithTimeout(ctx, g.opTimeout)
	defer cancel()

	_, err = g.collection(company, category).UpdateOne(opCtx,
		bson.M{"_id": rec.CanonicalID()},
		update,
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert %s/%s id=%s: %w", company, category, rec.CanonicalID(), err)
	}
	return nil
}

// BulkUpsert writes a batch of records in one ordered round trip. Records
// sharing a canonical id collapse to a single document with the later
// record's fields, matching the per-record upsert semantics.
func (g *Gateway) BulkUpsert(ctx context.Context, company string, category records.Category, recs []records.Record) error {
	if len(recs) == 0 {
		return nil
	}

	models, err := bulkUpsertModels(recs)
	if err != nil {
		return err
	}

	opCtx, cancel := context.WithTimeout(ctx, g.opTimeout*time.Duration(1+len(recs)/100))
	defer cancel()

	result, err := g.collection(company, category).BulkWrite(opCtx, models, options.BulkWrite().SetOrdered(true))
	if err != nil {
		return fmt.Errorf("bulk upsert %s/%s (%d records): %w", company, category, len(recs), err)
	}

	g.logger.DebugContext(ctx, "bulk_upsert_complete",
		slog.String("company", company),
		slog.String("category", string(category)),
		slog.Int("batch_size", len(recs)),
		slog.Int64("upserted", result.UpsertedCount),
		slog.Int64("modified", result.ModifiedCount))
	return nil
}

// upsertUpdate builds the $set update for a record. The _id is stripped
// from the set document: the filter already pins it, and MongoDB rejects
// updates that touch the immutable _id path.
func upsertUpdate(rec records.Record) (bson.M, error) {
	data, err := bson.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal record id=%s: %w", rec.CanonicalID(), err)
	}
	var doc bson.M
	if err := bson.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal record id=%s: %w", rec.CanonicalID(), err)
	}
	delete(doc, "_id")
	return bson.M{"$set": doc}, nil
}

// bulkUpsertModels builds ordered upsert models for a batch.
func bulkUpsertModels(recs []records.Record) ([]mongo.WriteModel, error) {
	models := make([]mongo.WriteModel, 0, len(recs))
	for _, rec := range recs {
		update, err := upsertUpdate(rec)
		if err != nil {
			return nil, err
		}
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": rec.CanonicalID()}).
			SetUpdate(update).
			SetUpsert(true))
	}
	return models, nil
}

// Companies lists the company namespaces present in the store.
func (g *Gateway) Companies(ctx context.Context) ([]string, error) {
	opCtx, cancel := context.WithTimeout(ctx, g.opTimeout)
	defer cancel()

	names, err := g.client.ListDatabaseNames(opCtx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("list company namespaces: %w", err)
	}

	companies := make([]string, 0, len(names))
	for _, name := range names {
		if !reservedDatabases[name] {
			companies = append(companies, name)
		}
	}
	return companies, nil
}

// Categories lists the categories present for a company namespace.
func (g *Gateway) Categories(ctx context.Context, company string) ([]records.Category, error) {
	opCtx, cancel := context.WithTimeout(ctx, g.opTimeout)
	defer cancel()

	names, err := g.client.Database(company).ListCollectionNames(opCtx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("list categories for %s: %w", company, err)
	}

	categories := make([]records.Category, 0, len(names))
	for _, name := range names {
		categories = append(categories, records.Category(name))
	}
	return categories, nil
}

// All returns every document in a company's category. Used by the
// normalization pass; extraction never reads back.
func (g *Gateway) All(ctx context.Context, company string, category records.Category) ([]bson.M, error) {
	opCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cursor, err := g.collection(company, category).Find(opCtx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("find all %s/%s: %w", company, category, err)
	}
	defer cursor.Close(opCtx)

	var docs []bson.M
	if err := cursor.All(opCtx, &docs); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", company, category, err)
	}
	return docs, nil
}

// Delete removes the document with the given id, if present.
func (g *Gateway) Delete(ctx context.Context, company string, category records.Category, id interface{}) error {
	opCtx, cancel := context.WithTimeout(ctx, g.opTimeout)
	defer cancel()

	_, err := g.collection(company, category).DeleteOne(opCtx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete %s/%s id=%v: %w", company, category, id, err)
	}
	return nil
}

// UpsertRaw replaces the document with the given id using an untyped body.
// The normalization pass uses it to re-key documents it read back as maps.
func (g *Gateway) UpsertRaw(ctx context.Context, company string, category records.Category, id interface{}, doc bson.M) error {
	body := make(bson.M, len(doc))
	for k, v := range doc {
		if k != "_id" {
			body[k] = v
		}
	}

	opCtx, cancel := context.WithTimeout(ctx, g.opTimeout)
	defer cancel()

	_, err := g.collection(company, category).UpdateOne(opCtx,
		bson.M{"_id": id},
		bson.M{"$set": body},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert raw %s/%s id=%v: %w", company, category, id, err)
	}
	return nil
}
