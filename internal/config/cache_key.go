package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ProgressSnapshotKey returns the store key for a student's in-progress exam snapshot
func (r *CacheKeyStruct) ProgressSnapshotKey(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s:progress", studentID, examID)
}

// OfflineQueueKey returns the store key of the global offline submission queue
func (r *CacheKeyStruct) OfflineQueueKey() string {
	return "offline:submissions"
}

// ExamDefinitionKey returns the cache key for an exam's definition
func (r *CacheKeyStruct) ExamDefinitionKey(examID string) string {
	return fmt.Sprintf("exam:%s:definition", examID)
}

// ExamAnswerKey returns the cache key for an exam's answer key
func (r *CacheKeyStruct) ExamAnswerKey(examID string) string {
	return fmt.Sprintf("exam:%s:key", examID)
}

var CacheKey = NewCacheKeyStruct()
