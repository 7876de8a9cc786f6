/*
 * Copyright (c) 2023. Monimoto Authors.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 *  (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package repository is the thin adapter over the database: change-stream
// subscription, document update with $set/$inc/$addToSet/$currentDate, and
// resume-token load/save.
package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/Immowelt/MongoProcessing/db"
	"github.com/Immowelt/MongoProcessing/logging"
)

// Repository wraps a single MongoDB collection, mirroring
// MongoRepository.__init__(connection_string, database, collection, *time_fields).
type Repository struct {
	client     *mongo.Client
	col        *mongo.Collection
	timeFields []string

	resume *resumeStore
}

// Option configures a Repository at construction time.
type Option func(*Repository)

// WithResumeTokenPath overrides DefaultResumeTokenPath.
func WithResumeTokenPath(path string) Option {
	return func(r *Repository) { r.resume.path = path }
}

// WithSaveInterval overrides DefaultSaveInterval.
func WithSaveInterval(d time.Duration) Option {
	return func(r *Repository) { r.resume.saveInterval = d }
}

// New connects to MongoDB and returns a Repository over database.collection.
// timeFields are applied via $currentDate on every update made through this
// repository (Update, Increment, AddToSet, StartProcess, EndProcess), in
// addition to any write-site-specific time fields. Insert does not stamp them.
func New(ctx context.Context, connectionString, database, collection string, timeFields ...string) (*Repository, error) {
	client, err := db.Connect(ctx, connectionString)
	if err != nil {
		return nil, err
	}

	col := client.Database(database).Collection(collection,
		options.Collection().SetWriteConcern(writeconcern.New(writeconcern.W(1))),
	)

	return NewWithCollection(col, timeFields...), nil
}

// NewWithCollection builds a Repository around an already-constructed
// collection handle, useful for tests that share a single test database.
func NewWithCollection(col *mongo.Collection, timeFields ...string) *Repository {
	return &Repository{
		client:     col.Database().Client(),
		col:        col,
		timeFields: timeFields,
		resume:     newResumeStore(DefaultResumeTokenPath, DefaultSaveInterval),
	}
}

// Configure applies Options to a Repository after construction.
func (r *Repository) Configure(opts ...Option) {
	for _, opt := range opts {
		opt(r)
	}
}

// GetByID fetches a single document by its _id.
func (r *Repository) GetByID(ctx context.Context, id interface{}) (bson.M, error) {
	var doc bson.M
	err := r.col.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if err != nil {
		return nil, fmt.Errorf("failed to get document by id: %w", err)
	}
	return doc, nil
}

// Get returns a cursor over all documents where document[key] == value.
func (r *Repository) Get(ctx context.Context, key string, value interface{}) (*mongo.Cursor, error) {
	cursor, err := r.col.Find(ctx, bson.D{{Key: key, Value: value}})
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	return cursor, nil
}

// Insert inserts a document, defaulting _id to docID if the document does
// not already carry one.
func (r *Repository) Insert(ctx context.Context, docID interface{}, doc bson.M) error {
	if _, ok := doc["_id"]; !ok {
		doc["_id"] = docID
	}
	if _, err := r.col.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

func (r *Repository) baseUpdate(timeFields ...string) bson.M {
	all := append(append([]string{}, timeFields...), r.timeFields...)
	if len(all) == 0 {
		return bson.M{}
	}
	currentDate := bson.M{}
	for _, f := range all {
		currentDate[f] = true
	}
	return bson.M{"$currentDate": currentDate}
}

// buildUpdate assembles an update document combining operator: fields
// with $currentDate stamps for timeFields and the repository's own
// configured time fields. Pulled out of Update/Increment/AddToSet so the
// document shape is unit-testable without a live collection.
func (r *Repository) buildUpdate(operator string, fields bson.M, timeFields ...string) bson.M {
	update := r.baseUpdate(timeFields...)
	update[operator] = fields
	return update
}

// Update applies $set: data plus $currentDate for timeFields and the
// repository's own configured time fields, upserting the document.
func (r *Repository) Update(ctx context.Context, docID interface{}, data bson.M, timeFields ...string) error {
	update := r.buildUpdate("$set", data, timeFields...)
	_, err := r.col.UpdateOne(ctx, bson.D{{Key: "_id", Value: docID}}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	return nil
}

// Increment applies $inc: {key: delta}.
func (r *Repository) Increment(ctx context.Context, docID interface{}, key string, delta interface{}, timeFields ...string) error {
	update := r.buildUpdate("$inc", bson.M{key: delta}, timeFields...)
	_, err := r.col.UpdateOne(ctx, bson.D{{Key: "_id", Value: docID}}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to increment document: %w", err)
	}
	return nil
}

// AddToSet applies $addToSet: {key: value}.
func (r *Repository) AddToSet(ctx context.Context, docID interface{}, key string, value interface{}, timeFields ...string) error {
	update := r.buildUpdate("$addToSet", bson.M{key: value}, timeFields...)
	_, err := r.col.UpdateOne(ctx, bson.D{{Key: "_id", Value: docID}}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to add to set: %w", err)
	}
	return nil
}

// StartProcess writes {name.success: false, name.isRunning: true} and
// stamps name.startTime (plus any extraTimeFields) to the server clock.
func (r *Repository) StartProcess(ctx context.Context, docID interface{}, name string, extraTimeFields ...string) error {
	updates := bson.M{
		name + ".success":   false,
		name + ".isRunning": true,
	}
	timeFields := append(append([]string{}, extraTimeFields...), name+".startTime")
	return r.Update(ctx, docID, updates, timeFields...)
}

// EndProcess writes {name.success: success, name.isRunning: false} plus
// every result entry flattened under name, and stamps name.endTime (plus
// any extraTimeFields) to the server clock.
func (r *Repository) EndProcess(ctx context.Context, docID interface{}, name string, success bool, results map[string]interface{}, extraTimeFields ...string) error {
	updates := bson.M{
		name + ".success":   success,
		name + ".isRunning": false,
	}
	for key, value := range results {
		updates[name+"."+key] = value
	}
	timeFields := append(append([]string{}, extraTimeFields...), name+".endTime")
	return r.Update(ctx, docID, updates, timeFields...)
}

// ChangeStream is the subset of *mongo.ChangeStream the worker package
// consumes, abstracted so workers can be tested without a live MongoDB
// deployment. *mongo.ChangeStream satisfies it as-is.
type ChangeStream interface {
	Next(ctx context.Context) bool
	Decode(val interface{}) error
	Err() error
	Close(ctx context.Context) error
}

// Watch subscribes to the collection's change stream with match applied
// server-side, requesting the full post-image. If resume is true and a
// stored token exists, the subscription resumes from that token; if the
// token has expired server-side, it logs and retries with resume=false.
func (r *Repository) Watch(ctx context.Context, match bson.D, resume bool) (ChangeStream, error) {
	pipeline := mongo.Pipeline{{{Key: "$match", Value: match}}}

	if resume {
		if token, ok := r.resume.load(); ok {
			opts := options.ChangeStream().SetFullDocument(options.UpdateLookup).SetResumeAfter(bson.Raw(token))
			stream, err := r.col.Watch(ctx, pipeline, opts)
			if err == nil {
				return stream, nil
			}
			logging.Log().Errorf("failed to resume change stream from stored token, falling back to now: %v", err)
		}
	}

	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	stream, err := r.col.Watch(ctx, pipeline, opts)
	if err != nil {
		if strings.Contains(err.Error(), "NoMatchingDocument") {
			return nil, fmt.Errorf("resume token invalid and collection has no documents: %w", err)
		}
		return nil, fmt.Errorf("failed to watch collection: %w", err)
	}
	return stream, nil
}

// SaveResumeToken persists ev's own resume token (throttled, off the
// caller's goroutine), matching save_resume_token(doc): doc.get('_id').
func (r *Repository) SaveResumeToken(ctx context.Context, ev ChangeEvent) {
	r.resume.save(ctx, ev.ID)
}

// LoadResumeToken returns the last persisted resume token, if any.
func (r *Repository) LoadResumeToken() (ResumeToken, bool) {
	return r.resume.load()
}

// Close disconnects the underlying mongo client.
func (r *Repository) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}
