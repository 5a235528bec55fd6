package repository

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const cursorVersionV1 = "v1"

// encodeTimeCursor 编码 (time, id) 游标，微秒精度
func encodeTimeCursor(t time.Time, id string) string {
	raw := fmt.Sprintf("%s:%d|%s", cursorVersionV1, t.UnixMicro(), id)
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

func decodeTimeCursor(cursor string) (time.Time, string, error) {
	decoded, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("invalid cursor: %w", err)
	}
	payload, ok := strings.CutPrefix(string(decoded), cursorVersionV1+":")
	if !ok {
		return time.Time{}, "", fmt.Errorf("invalid cursor version")
	}
	micros, id, ok := strings.Cut(payload, "|")
	if !ok || id == "" {
		return time.Time{}, "", fmt.Errorf("invalid cursor format: expected '<micros>|<id>'")
	}
	ts, err := strconv.ParseInt(micros, 10, 64)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("invalid cursor timestamp: %w", err)
	}
	return time.UnixMicro(ts).UTC(), id, nil
}

func encodeIDCursor(id string) string {
	return base64.URLEncoding.EncodeToString([]byte(cursorVersionV1 + ":" + id))
}

func decodeIDCursor(cursor string) (string, error) {
	decoded, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return "", fmt.Errorf("invalid cursor: %w", err)
	}
	id, ok := strings.CutPrefix(string(decoded), cursorVersionV1+":")
	if !ok || id == "" {
		return "", fmt.Errorf("invalid cursor format")
	}
	return id, nil
}
