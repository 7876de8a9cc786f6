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

package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

// lookupTestURI reports the replica-set URI to run these integration tests
// against. Change streams aren't available on a standalone mongod, so
// these are opt-in via MONGO_TEST_URI rather than always-on.
func lookupTestURI() (string, bool) {
	uri := os.Getenv("MONGO_TEST_URI")
	return uri, uri != ""
}

func requireTestRepo(t *testing.T) *Repository {
	t.Helper()
	uri, ok := lookupTestURI()
	if !ok {
		t.Skip("MONGO_TEST_URI not set; skipping integration test")
	}
	repo, err := New(context.Background(), uri, "mongoprocessing_test", "docs_"+t.Name())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close(context.Background()) })
	return repo
}

func Test_Repository_InsertGetByID(t *testing.T) {
	repo := requireTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, "widget-1", bson.M{"name": "widget"}))

	got, err := repo.GetByID(ctx, "widget-1")
	require.NoError(t, err)
	assert.Equal(t, "widget", got["name"])
}

func Test_Repository_StartProcess_SetsIsRunning(t *testing.T) {
	repo := requireTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, "widget-2", bson.M{"name": "widget"}))
	require.NoError(t, repo.StartProcess(ctx, "widget-2", "one"))

	got, err := repo.GetByID(ctx, "widget-2")
	require.NoError(t, err)
	sub, ok := got["one"].(bson.M)
	require.True(t, ok)
	assert.Equal(t, true, sub["isRunning"])
}

func Test_Repository_EndProcess_RecordsSuccessAndResults(t *testing.T) {
	repo := requireTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, "widget-3", bson.M{"name": "widget"}))
	require.NoError(t, repo.StartProcess(ctx, "widget-3", "one"))
	require.NoError(t, repo.EndProcess(ctx, "widget-3", "one", true, map[string]interface{}{"count": 3}))

	got, err := repo.GetByID(ctx, "widget-3")
	require.NoError(t, err)
	sub := got["one"].(bson.M)
	assert.Equal(t, false, sub["isRunning"])
	assert.Equal(t, true, sub["success"])
	assert.EqualValues(t, 3, sub["count"])
}

func Test_Repository_Watch_ReceivesInsert(t *testing.T) {
	repo := requireTestRepo(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := repo.Watch(ctx, bson.D{{Key: "operationType", Value: "insert"}}, false)
	require.NoError(t, err)
	defer stream.Close(ctx)

	go func() {
		time.Sleep(200 * time.Millisecond)
		_ = repo.Insert(context.Background(), "widget-4", bson.M{"name": "trigger"})
	}()

	require.True(t, stream.Next(ctx))
	var ev ChangeEvent
	require.NoError(t, stream.Decode(&ev))
	assert.Equal(t, "insert", ev.OperationType)
}
