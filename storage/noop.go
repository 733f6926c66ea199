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

package storage

import (
	"context"
)

// NoopStorage stores nothing.
type NoopStorage struct {
}

func NewNoopStorage() *NoopStorage {
	return &NoopStorage{}
}

func (s *NoopStorage) Open(ctx context.Context) error {
	return nil
}

func (s *NoopStorage) Close(ctx context.Context) error {
	return nil
}

func (s *NoopStorage) MakeHost(ctx context.Context, hid string) error {
	return nil
}

func (s *NoopStorage) RemHost(ctx context.Context, hid string) error {
	return nil
}

func (s *NoopStorage) GetStates(ctx context.Context, hid string) ([]*StateValue, error) {
	return nil, nil
}

func (s *NoopStorage) WriteStates(ctx context.Context, hid string, svs []*StateValue) error {
	return nil
}
