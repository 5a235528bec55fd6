package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// existsField 文档存在标记；空文档（如没有任何反应）也需要能被识别为"已缓存"
const existsField = "$"

// Store JSON 文档缓存。文档以 redis hash 存储：每个顶层字段一个 hash field，
// 值为该字段的 JSON 编码。path 形如 "$.like" 或 "like"，只支持顶层字段，
// "$." 之后的部分原样作为字段名。
type Store interface {
	SetJSON(ctx context.Context, key string, value any) error
	SetJSONIfAbsent(ctx context.Context, key, path string, value any) (bool, error)
	// GetJSON 读取整个文档（path 为空）或单个字段；不存在时返回 (false, nil)
	GetJSON(ctx context.Context, key, path string, dst any) (bool, error)
	IncrementNumeric(ctx context.Context, key, path string) (int64, error)
	DecrementNumeric(ctx context.Context, key, path string) (int64, error)
	// MultiGetJSON 返回与 keys 等长的结果，缺失的文档为 nil
	MultiGetJSON(ctx context.Context, keys []string) ([]json.RawMessage, error)
	Delete(ctx context.Context, keys ...string) error
}

type redisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) Store {
	return &redisStore{client: client}
}

func fieldOf(path string) (string, error) {
	f := strings.TrimPrefix(path, "$.")
	if f == "" || f == existsField {
		return "", fmt.Errorf("unsupported json path %q", path)
	}
	return f, nil
}

func (s *redisStore) SetJSON(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("document %s must be a json object: %w", key, err)
	}

	fields := make([]any, 0, 2+2*len(doc))
	fields = append(fields, existsField, "1")
	for k, v := range doc {
		fields = append(fields, k, string(v))
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, fields...)
		return nil
	})
	return err
}

func (s *redisStore) SetJSONIfAbsent(ctx context.Context, key, path string, value any) (bool, error) {
	field, err := fieldOf(path)
	if err != nil {
		return false, err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return false, err
	}
	return s.client.HSetNX(ctx, key, field, string(raw)).Result()
}

func (s *redisStore) GetJSON(ctx context.Context, key, path string, dst any) (bool, error) {
	if path == "" || path == "$" {
		vals, err := s.client.HGetAll(ctx, key).Result()
		if err != nil {
			return false, err
		}
		raw := assemble(vals)
		if raw == nil {
			return false, nil
		}
		return true, unmarshalInto(raw, dst)
	}

	field, err := fieldOf(path)
	if err != nil {
		return false, err
	}
	v, err := s.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, unmarshalInto([]byte(v), dst)
}

func (s *redisStore) IncrementNumeric(ctx context.Context, key, path string) (int64, error) {
	return s.incrBy(ctx, key, path, 1)
}

func (s *redisStore) DecrementNumeric(ctx context.Context, key, path string) (int64, error) {
	return s.incrBy(ctx, key, path, -1)
}

func (s *redisStore) incrBy(ctx context.Context, key, path string, delta int64) (int64, error) {
	field, err := fieldOf(path)
	if err != nil {
		return 0, err
	}
	return s.client.HIncrBy(ctx, key, field, delta).Result()
}

func (s *redisStore) MultiGetJSON(ctx context.Context, keys []string) ([]json.RawMessage, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = pipe.HGetAll(ctx, k)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, len(keys))
	for i, cmd := range cmds {
		out[i] = assemble(cmd.Val())
	}
	return out, nil
}

func (s *redisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

// assemble 把 hash 字段还原为 JSON 对象；文档不存在时返回 nil
func assemble(vals map[string]string) json.RawMessage {
	if _, ok := vals[existsField]; !ok {
		return nil
	}
	doc := make(map[string]json.RawMessage, len(vals))
	for k, v := range vals {
		if k == existsField {
			continue
		}
		doc[k] = json.RawMessage(v)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil
	}
	return raw
}

func unmarshalInto(raw []byte, dst any) error {
	if dst == nil {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
