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

import "testing"

// TestMain exists so the integration tests in repository_test.go have a
// single documented place to explain their setup. Change streams require a
// replica set, so unlike a standalone mongod these tests are opt-in: set
// MONGO_TEST_URI (e.g. mongodb://localhost:27017/?replicaSet=rs0) to run
// them, otherwise they skip.
func TestMain(m *testing.M) {
	m.Run()
}
