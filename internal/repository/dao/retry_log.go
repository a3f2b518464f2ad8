package dao

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// RetryLogEntry 一条重试记录，结构固定
type RetryLogEntry struct {
	Attempt       int32  `json:"attempt"`
	Error         string `json:"error"`
	Timestamp     int64  `json:"timestamp"`
	NextRetryTime int64  `json:"nextRetryTime"`
}

// RetryLogs 追加式重试日志，整体以JSON落库，实现 Value() 和 Scan()
type RetryLogs []RetryLogEntry

// Value 实现 driver.Valuer 接口
func (r RetryLogs) Value() (driver.Value, error) {
	if len(r) == 0 {
		return "[]", nil
	}
	bs, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return string(bs), nil
}

// Scan 实现 sql.Scanner 接口
func (r *RetryLogs) Scan(value interface{}) error {
	if value == nil {
		*r = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("无法解析重试日志")
	}
	if len(bytes) == 0 {
		*r = nil
		return nil
	}
	return json.Unmarshal(bytes, r)
}
