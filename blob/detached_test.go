package blob_test

import (
	"context"
	"testing"

	"github.com/alwitt/custody/blob"
	"github.com/alwitt/custody/models"
	"github.com/stretchr/testify/assert"
)

func TestDetachedStore(t *testing.T) {
	assert := assert.New(t)
	utCtx := context.Background()

	uut := blob.NewDetachedStore()

	_, err := uut.GetCurrentCiphertext(utCtx, "doc")
	assert.ErrorIs(err, models.ErrBlobMissing)
	assert.ErrorIs(err, models.ErrNotFound)

	allowed, err := uut.CanAccess(utCtx, "doc", "alice")
	assert.Nil(err)
	assert.False(allowed)

	assert.Nil(uut.LogAccess(utCtx, "doc", "alice", blob.ActionDecryptVersion, nil))
}
