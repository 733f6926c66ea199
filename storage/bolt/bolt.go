/* Copyright 2019 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package bolt is a storage.Storage backed by bbolt, with one bucket
// per host and one key per state.
package bolt

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Comcast/strata/storage"

	"github.com/hashicorp/go-hclog"
	bolt "go.etcd.io/bbolt"
)

// OpenTimeout bounds how long Open waits for the database file lock.
var OpenTimeout = time.Second

type Storage struct {
	Logger hclog.Logger

	filename string
	db       *bolt.DB
}

var _ storage.Storage = (*Storage)(nil)

func NewStorage(filename string) (*Storage, error) {
	return &Storage{
		Logger:   hclog.NewNullLogger(),
		filename: filename,
	}, nil
}

func (s *Storage) Open(ctx context.Context) error {
	opts := &bolt.Options{
		Timeout: OpenTimeout,
	}

	db, err := bolt.Open(s.filename, 0644, opts)
	if err != nil {
		return err
	}
	s.db = db
	return nil
}

func (s *Storage) Close(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Storage) MakeHost(ctx context.Context, hid string) error {
	s.Logger.Debug("make host", "host", hid)
	return s.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(hid))
		return err
	})
}

func (s *Storage) RemHost(ctx context.Context, hid string) error {
	s.Logger.Debug("remove host", "host", hid)
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.DeleteBucket([]byte(hid))
	})
}

func (s *Storage) GetStates(ctx context.Context, hid string) ([]*storage.StateValue, error) {
	svs := make([]*storage.StateValue, 0, 32)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(hid))
		if b == nil {
			return nil
		}
		return b.ForEach(func(name, bs []byte) error {
			var sv storage.StateValue
			if err := json.Unmarshal(bs, &sv); err != nil {
				return err
			}
			sv.Name = string(name)
			svs = append(svs, &sv)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Debug("got states", "host", hid, "count", len(svs))

	if len(svs) == 0 {
		return nil, nil
	}
	return svs, nil
}

func (s *Storage) WriteStates(ctx context.Context, hid string, svs []*storage.StateValue) error {
	if 0 == len(svs) {
		return nil
	}

	vals := make(map[string][]byte, len(svs))
	for _, sv := range svs {
		if sv.Deleted {
			vals[sv.Name] = nil
			continue
		}
		// The key is the name.
		js, err := json.Marshal(&storage.StateValue{Value: sv.Value})
		if err != nil {
			return err
		}
		vals[sv.Name] = js
	}

	s.Logger.Debug("writing states", "host", hid, "count", len(vals))

	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(hid))
		if err != nil {
			return err
		}
		for name, bs := range vals {
			key := []byte(name)
			if bs == nil {
				err = b.Delete(key)
			} else {
				err = b.Put(key, bs)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}
