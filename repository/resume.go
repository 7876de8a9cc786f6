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
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/Immowelt/MongoProcessing/logging"
)

// DefaultResumeTokenPath is the local file the resume token is persisted to.
const DefaultResumeTokenPath = "resume_token.bin"

// DefaultSaveInterval throttles resume-token persistence.
const DefaultSaveInterval = 5 * time.Second

// resumeStore guards the resume-token file with a mutex and throttles
// writes to at most one per saveInterval: try to acquire the mutex; if
// acquired and the interval has elapsed, write and record the time;
// otherwise drop the write. Drops are safe because resume tokens are
// monotonic.
type resumeStore struct {
	path         string
	saveInterval time.Duration

	mu       sync.Mutex
	lastSave time.Time
}

func newResumeStore(path string, saveInterval time.Duration) *resumeStore {
	return &resumeStore{path: path, saveInterval: saveInterval}
}

// save persists token off the caller's goroutine so checkpointing never
// blocks event handling.
func (s *resumeStore) save(_ context.Context, token ResumeToken) {
	go s.saveNow(token)
}

func (s *resumeStore) saveNow(token ResumeToken) {
	if !s.mu.TryLock() {
		return
	}
	defer s.mu.Unlock()

	if time.Since(s.lastSave) <= s.saveInterval {
		return
	}

	if err := os.WriteFile(s.path, token, 0600); err != nil {
		logging.Log().Errorf("failed to save resume token: %v", err)
		return
	}
	s.lastSave = time.Now()
}

// load reads back the last persisted token. A missing or unreadable file
// is treated as "no token" rather than an error.
func (s *resumeStore) load() (ResumeToken, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Log().Errorf("failed to load resume token: %v", err)
		}
		return nil, false
	}
	if len(data) == 0 {
		return nil, false
	}

	token := ResumeToken(data)
	if err := bson.Raw(token).Validate(); err != nil {
		logging.Log().Errorf("resume token file is corrupted, treating as absent: %v", err)
		return nil, false
	}

	return token, true
}
