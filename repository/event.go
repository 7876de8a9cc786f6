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
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ChangeEvent is the shape of a single MongoDB change-stream document that
// the filter compiler's match expression targets: operationType,
// fullDocument (requested as the full post-image), and updateDescription
// (needed for matching dotted field names against updatedFields).
type ChangeEvent struct {
	ID                ResumeToken         `bson:"_id"`
	OperationType     string              `bson:"operationType"`
	ClusterTime       primitive.Timestamp `bson:"clusterTime"`
	DocumentKey       bson.M              `bson:"documentKey"`
	FullDocument      bson.M              `bson:"fullDocument"`
	UpdateDescription UpdateDescription   `bson:"updateDescription"`
}

// UpdateDescription carries the updatedFields map the dot-path workaround
// inspects to detect a true "success" transition on update events.
type UpdateDescription struct {
	UpdatedFields bson.M   `bson:"updatedFields"`
	RemovedFields []string `bson:"removedFields"`
}

// ResumeToken is the opaque value MongoDB assigns to every change-stream
// event (the event's own "_id" sub-document, e.g. {"_data": "..."}).
// Supplying it to a new subscription resumes delivery from the event
// after it. It round-trips as raw BSON bytes; callers must never inspect
// its internal shape.
type ResumeToken bson.Raw

// DocumentID extracts the affected document's _id from documentKey.
func (e ChangeEvent) DocumentID() interface{} {
	if e.DocumentKey == nil {
		return nil
	}
	return e.DocumentKey["_id"]
}
