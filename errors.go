package pixcache

import (
	"errors"

	"goflare.io/pixcache/internal/models"
)

var (
	ErrSetFailed         = models.ErrSetFailed
	ErrInvalidKey        = models.ErrInvalidKey
	ErrEmptyNamespace    = models.ErrEmptyNamespace
	ErrEmptyIdentifier   = models.ErrEmptyIdentifier
	ErrUnknownStrategy   = models.ErrUnknownStrategy
	ErrCleanupInProgress = models.ErrCleanupInProgress
	ErrUnknownPolicy     = models.ErrUnknownPolicy
	ErrPolicyExists      = models.ErrPolicyExists
	ErrStorageDisabled   = errors.New("file layer is disabled, storage management unavailable")
)
