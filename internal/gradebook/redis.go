package gradebook

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const gradebookKeyTpl = "gradebook:%d" // gradebook:${exercise}

// RedisBook keeps the current grade of every student in one hash per exercise.
type RedisBook struct {
	redis *redis.Client
}

func NewRedisBook(client *redis.Client) *RedisBook {
	return &RedisBook{redis: client}
}

func ConnectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func (b *RedisBook) Push(ctx context.Context, grade Grade) error {
	key := fmt.Sprintf(gradebookKeyTpl, grade.ExerciseID)
	field := strconv.FormatInt(grade.StudentID, 10)

	if !grade.Present {
		if err := b.redis.HDel(ctx, key, field).Err(); err != nil {
			return fmt.Errorf("failed to clear grade: %w", err)
		}
		return nil
	}

	data, err := json.Marshal(grade)
	if err != nil {
		return fmt.Errorf("failed to encode grade: %w", err)
	}
	if err := b.redis.HSet(ctx, key, field, data).Err(); err != nil {
		return fmt.Errorf("failed to store grade: %w", err)
	}
	return nil
}

// Get returns the stored grade, or nil when the student has none.
func (b *RedisBook) Get(ctx context.Context, exerciseID, studentID int64) (*Grade, error) {
	key := fmt.Sprintf(gradebookKeyTpl, exerciseID)
	raw, err := b.redis.HGet(ctx, key, strconv.FormatInt(studentID, 10)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read grade: %w", err)
	}

	var grade Grade
	if err := json.Unmarshal([]byte(raw), &grade); err != nil {
		return nil, fmt.Errorf("failed to decode grade: %w", err)
	}
	return &grade, nil
}

// List returns all stored grades of an exercise keyed by student.
func (b *RedisBook) List(ctx context.Context, exerciseID int64) (map[int64]Grade, error) {
	values, err := b.redis.HGetAll(ctx, fmt.Sprintf(gradebookKeyTpl, exerciseID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list grades: %w", err)
	}

	grades := make(map[int64]Grade, len(values))
	for field, raw := range values {
		studentID, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			continue
		}
		var grade Grade
		if err := json.Unmarshal([]byte(raw), &grade); err != nil {
			continue
		}
		grades[studentID] = grade
	}
	return grades, nil
}

func (b *RedisBook) Close() error {
	if b.redis != nil {
		return b.redis.Close()
	}
	return nil
}
