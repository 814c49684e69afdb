package models

import "errors"

// 定義常見錯誤
var (
	ErrSetFailed         = errors.New("failed to set cache entry")
	ErrKeyNotFound       = errors.New("key not found in cache")
	ErrEntryExpired      = errors.New("cache entry expired")
	ErrEmptyNamespace    = errors.New("namespace cannot be empty")
	ErrEmptyIdentifier   = errors.New("identifier cannot be empty")
	ErrInvalidKey        = errors.New("invalid cache key")
	ErrUnknownStrategy   = errors.New("unknown eviction strategy")
	ErrCleanupInProgress = errors.New("cleanup already running")
	ErrUnknownPolicy     = errors.New("unknown retention policy")
	ErrPolicyExists      = errors.New("retention policy already exists")
)
