/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package events

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisStreamSink appends events to a Redis stream via XADD, giving
// downstream consumers (audit tooling, a future dashboard) an append-only,
// keyed log they can read with XRANGE/XREAD independently of this engine.
type RedisStreamSink struct {
	client *redis.Client
	stream string
}

// NewRedisStreamSink returns a sink that XADDs onto stream using client.
func NewRedisStreamSink(client *redis.Client, stream string) *RedisStreamSink {
	return &RedisStreamSink{client: client, stream: stream}
}

func (s *RedisStreamSink) Name() string { return "redis_stream" }

func (s *RedisStreamSink) Append(ctx context.Context, ev Event) error {
	body, err := marshalPayload(ev)
	if err != nil {
		return err
	}
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{"type": ev.Type, "body": string(body)},
	}).Err()
}
