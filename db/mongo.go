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

// Package db is the single place a MongoDB client gets constructed and
// pinged; repository.New connects through Connect rather than repeating
// the dial-and-ping sequence itself.
package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Immowelt/MongoProcessing/logging"
)

// Connect dials connectURL and verifies the connection with a ping,
// returning an error instead of exiting so callers that need to recover
// (repository.New in particular) can do so.
func Connect(ctx context.Context, connectURL string) (*mongo.Client, error) {
	logging.Log().Infof("connecting to MongoDB: %s", connectURL)

	opts := options.Client().ApplyURI(connectURL)
	opts.SetServerSelectionTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create mongo client: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	logging.Log().Info("mongo connection established")
	return client, nil
}

// ConnectToMongo connects to dbName at connectURL and returns the database
// handle, or fatally logs and exits on failure (connection failures here
// are unrecoverable startup errors, not the per-operation errors the
// repository package wraps and returns). Callers that want to recover from
// a connection failure should call Connect directly instead.
func ConnectToMongo(dbName string, connectURL string) *mongo.Database {
	client, err := Connect(context.Background(), connectURL)
	if err != nil {
		logging.Log().Fatalf("%v", err)
	}
	return client.Database(dbName)
}
