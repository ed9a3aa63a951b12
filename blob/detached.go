package blob

import (
	"context"
	"fmt"

	"github.com/alwitt/custody/models"
)

// detachedStore a Store with no documents, for maintenance processes
type detachedStore struct{}

// NewDetachedStore define a Store which holds no documents and grants no access
func NewDetachedStore() Store {
	return detachedStore{}
}

func (detachedStore) GetCurrentCiphertext(
	_ context.Context, documentID string,
) (models.EncryptedPayload, error) {
	return models.EncryptedPayload{}, fmt.Errorf("%w: '%s'", models.ErrBlobMissing, documentID)
}

func (detachedStore) CanAccess(_ context.Context, _ string, _ string) (bool, error) {
	return false, nil
}

func (detachedStore) LogAccess(
	_ context.Context, _ string, _ string, _ string, _ map[string]interface{},
) error {
	return nil
}
