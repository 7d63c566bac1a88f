package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ExamDefinitionKey returns the cache key for an exam's gradable definition
// (questions with correct answer indices). Never sent to students.
func (r *CacheKeyStruct) ExamDefinitionKey(examID string) string {
	return fmt.Sprintf("exam:%s:definition", examID)
}

// ExamMonitorChannel returns the Redis PubSub channel name for an exam monitor
func (r *CacheKeyStruct) ExamMonitorChannel(examID string) string {
	return fmt.Sprintf("exam:%s:monitor", examID)
}

// SweeperLockKey returns the key guarding the auto-submit sweep across instances.
func (r *CacheKeyStruct) SweeperLockKey() string {
	return "sweeper:auto_submit:lock"
}

var CacheKey = NewCacheKeyStruct()
