package ledger_test

import (
	"context"
	"crypto/rand"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/alwitt/custody/blob"
	"github.com/alwitt/custody/db"
	"github.com/alwitt/custody/encryption"
	"github.com/alwitt/custody/ledger"
	mockBlob "github.com/alwitt/custody/mocks/blob"
	mockEncryption "github.com/alwitt/custody/mocks/encryption"
	"github.com/alwitt/custody/models"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) db.Client {
	utCtx := context.Background()

	testDB := fmt.Sprintf("/tmp/custody_ut_%s.db", ulid.Make().String())
	log.WithField("db", testDB).Debug("Test database")

	uut, err := db.NewConnection(db.GetSqliteDialector(testDB), logger.Error)
	assert.Nil(t, err)
	assert.Nil(t, uut.RunSQLInTransaction(utCtx, db.DefineTables))
	t.Cleanup(func() { _ = uut.Close() })
	return uut
}

func newTestProvider(t *testing.T) encryption.Provider {
	identity, err := encryption.GenerateIdentity(rand.Reader)
	assert.Nil(t, err)
	provider, err := encryption.NewProviderFromIdentity(context.Background(), identity)
	assert.Nil(t, err)
	return provider
}

func newTestLedger(
	t *testing.T, dbClient db.Client, provider encryption.Provider, blobs blob.Store,
) ledger.VersionLedger {
	uut, err := ledger.NewVersionLedger(ledger.VersionLedgerParams{
		Persistence: dbClient, Crypto: provider, Blobs: blobs,
	})
	assert.Nil(t, err)
	return uut
}

func appendVersion(
	t *testing.T,
	uut ledger.VersionLedger,
	documentID string,
	content string,
	status models.DocumentStatusENUMType,
) models.DocumentVersion {
	version, err := uut.AddVersion(context.Background(), ledger.AddVersionRequest{
		DocumentID: documentID,
		Payload:    []byte(content),
		Status:     status,
		Author:     "alice",
	}, nil)
	assert.Nil(t, err)
	return version
}

func TestLedgerHashChain(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	provider := newTestProvider(t)
	uut := newTestLedger(t, newTestDB(t), provider, mockBlob.NewStore(t))

	docID := uuid.NewString()

	hashA := encryption.HashHex([]byte("A"))
	hashB := encryption.HashHex([]byte("B"))

	// 1. First version
	v1, err := uut.AddVersion(utCtx, ledger.AddVersionRequest{
		DocumentID:   docID,
		Payload:      []byte("A"),
		Status:       models.DocumentStatusDraft,
		Author:       "alice",
		Comment:      "initial",
		ChangeReason: "new contract",
		Tags:         []string{"contract"},
	}, nil)
	assert.Nil(err)
	assert.Equal(1, v1.VersionNumber)
	assert.Equal(hashA, v1.ContentHash)
	assert.Nil(v1.PreviousVersionHash)
	assert.Equal(encryption.HashHex([]byte(hashA)), v1.ChainHash)
	assert.Equal(models.AlgorithmHash, v1.HashAlgorithm)
	assert.Equal(models.AlgorithmSignature, v1.Signature.Algorithm)
	assert.Equal(provider.SigningPublicKey(), v1.Signature.PublicKey)
	assert.Equal(models.AlgorithmEncapsulation, v1.Payload.Algorithm)
	assert.Nil(provider.Verify(utCtx, []byte(v1.ChainHash), v1.Signature))

	// 2. Second version
	v2 := appendVersion(t, uut, docID, "B", models.DocumentStatusDraft)
	assert.Equal(2, v2.VersionNumber)
	assert.Equal(hashB, v2.ContentHash)
	if assert.NotNil(v2.PreviousVersionHash) {
		assert.Equal(hashA, *v2.PreviousVersionHash)
	}
	assert.Equal(encryption.HashHex([]byte(hashB+hashA)), v2.ChainHash)
	assert.Equal(
		ledger.ComputeChainHash(encryption.HashHex, hashB, &hashA), v2.ChainHash,
	)

	// 3. Verify
	result, err := uut.VerifyChain(utCtx, docID, ledger.VerifyOptions{RecomputeContent: true}, nil)
	assert.Nil(err)
	assert.True(result.Valid)
	assert.Equal(2, result.VerifiedCount)
	assert.Equal(2, result.TotalCount)
	assert.Equal(2, result.IntactThrough)
	assert.Empty(result.BrokenLinks)
	assert.Empty(result.SignatureFailures)
	assert.Empty(result.ContentMismatches)
	assert.Nil(result.Err())

	// 4. History holds metadata only
	history, err := uut.GetVersionHistory(utCtx, docID, nil)
	assert.Nil(err)
	assert.Len(history, 2)
	assert.Equal(1, history[0].VersionNumber)
	assert.Equal("initial", history[0].Comment)
	assert.Equal("new contract", history[0].ChangeReason)
	assert.Equal([]string{"contract"}, history[0].Tags)
	assert.Equal(models.AlgorithmEncapsulation, history[1].EncryptionAlgorithm)

	// 5. Lookup
	fetched, err := uut.GetVersionByNumber(utCtx, docID, 2, nil)
	assert.Nil(err)
	assert.Equal(v2.ID, fetched.ID)
	latest, err := uut.GetLatestVersion(utCtx, docID, nil)
	assert.Nil(err)
	assert.Equal(v2.ID, latest.ID)
	byHash, err := uut.FindVersionByContentHash(utCtx, docID, hashA, nil)
	assert.Nil(err)
	assert.Equal(v1.ID, byHash.ID)

	_, err = uut.GetVersionByNumber(utCtx, docID, 3, nil)
	assert.ErrorIs(err, models.ErrVersionNotFound)
	_, err = uut.FindVersionByContentHash(utCtx, docID, "nope", nil)
	assert.ErrorIs(err, models.ErrVersionNotFound)

	// 6. Unknown document
	unknown := uuid.NewString()
	_, err = uut.GetVersionHistory(utCtx, unknown, nil)
	assert.ErrorIs(err, models.ErrDocumentNotFound)
	_, err = uut.VerifyChain(utCtx, unknown, ledger.VerifyOptions{}, nil)
	assert.ErrorIs(err, models.ErrDocumentNotFound)
	_, err = uut.GetStats(utCtx, unknown, nil)
	assert.ErrorIs(err, models.ErrDocumentNotFound)
	_, err = uut.GetLatestVersion(utCtx, unknown, nil)
	assert.ErrorIs(err, models.ErrDocumentNotFound)
}

func TestLedgerAddVersionValidation(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	uut := newTestLedger(t, newTestDB(t), newTestProvider(t), mockBlob.NewStore(t))

	docID := uuid.NewString()

	// Unknown status
	_, err := uut.AddVersion(utCtx, ledger.AddVersionRequest{
		DocumentID: docID, Payload: []byte("x"), Status: "ARCHIVED", Author: "alice",
	}, nil)
	assert.ErrorIs(err, models.ErrInvalidStatus)

	// Empty payload
	_, err = uut.AddVersion(utCtx, ledger.AddVersionRequest{
		DocumentID: docID, Payload: []byte{}, Status: models.DocumentStatusDraft, Author: "alice",
	}, nil)
	assert.Error(err)

	// Missing author
	_, err = uut.AddVersion(utCtx, ledger.AddVersionRequest{
		DocumentID: docID, Payload: []byte("x"), Status: models.DocumentStatusDraft,
	}, nil)
	assert.Error(err)

	// Nothing was written
	_, err = uut.GetLatestVersion(utCtx, docID, nil)
	assert.ErrorIs(err, models.ErrDocumentNotFound)
}

func TestLedgerBaseVersionConflict(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	uut := newTestLedger(t, newTestDB(t), newTestProvider(t), mockBlob.NewStore(t))

	docID := uuid.NewString()
	zero := 0
	one := 1
	two := 2

	// 1. Base version on an empty document
	_, err := uut.AddVersion(utCtx, ledger.AddVersionRequest{
		DocumentID: docID, Payload: []byte("A"), Status: models.DocumentStatusDraft,
		Author: "alice", BaseVersion: &one,
	}, nil)
	assert.ErrorIs(err, models.ErrDocumentNotFound)

	// 2. Base 0 on an empty document is fine
	_, err = uut.AddVersion(utCtx, ledger.AddVersionRequest{
		DocumentID: docID, Payload: []byte("A"), Status: models.DocumentStatusDraft,
		Author: "alice", BaseVersion: &zero,
	}, nil)
	assert.Nil(err)

	// 3. Two authors edit version 1, the second one loses
	_, err = uut.AddVersion(utCtx, ledger.AddVersionRequest{
		DocumentID: docID, Payload: []byte("B"), Status: models.DocumentStatusDraft,
		Author: "alice", BaseVersion: &one,
	}, nil)
	assert.Nil(err)
	_, err = uut.AddVersion(utCtx, ledger.AddVersionRequest{
		DocumentID: docID, Payload: []byte("C"), Status: models.DocumentStatusDraft,
		Author: "bob", BaseVersion: &one,
	}, nil)
	assert.ErrorIs(err, models.ErrVersionConflict)

	// 4. Rebased edit goes through
	v3, err := uut.AddVersion(utCtx, ledger.AddVersionRequest{
		DocumentID: docID, Payload: []byte("C"), Status: models.DocumentStatusDraft,
		Author: "bob", BaseVersion: &two,
	}, nil)
	assert.Nil(err)
	assert.Equal(3, v3.VersionNumber)
}

func TestLedgerConcurrentAppend(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.InfoLevel)

	utCtx := context.Background()

	dbClient := newTestDB(t)
	provider := newTestProvider(t)
	// Two ledger instances over the same database behave like two processes
	uutA := newTestLedger(t, dbClient, provider, mockBlob.NewStore(t))
	uutB := newTestLedger(t, dbClient, provider, mockBlob.NewStore(t))

	docID := uuid.NewString()
	otherDocID := uuid.NewString()

	workers := 12
	wg := sync.WaitGroup{}
	numbers := make(chan int, workers)
	for itr := 0; itr < workers; itr++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			uut := uutA
			if idx%2 == 1 {
				uut = uutB
			}
			version, err := uut.AddVersion(utCtx, ledger.AddVersionRequest{
				DocumentID: docID,
				Payload:    []byte(fmt.Sprintf("content-%d", idx)),
				Status:     models.DocumentStatusDraft,
				Author:     fmt.Sprintf("author-%d", idx),
			}, nil)
			if assert.Nil(err) {
				numbers <- version.VersionNumber
			}
			// Appends to another document do not interfere
			_, err = uut.AddVersion(utCtx, ledger.AddVersionRequest{
				DocumentID: otherDocID,
				Payload:    []byte(fmt.Sprintf("other-%d", idx)),
				Status:     models.DocumentStatusDraft,
				Author:     fmt.Sprintf("author-%d", idx),
			}, nil)
			assert.Nil(err)
		}(itr)
	}
	wg.Wait()
	close(numbers)

	// Numbering is contiguous, no gaps, no duplicates
	collected := []int{}
	for oneNumber := range numbers {
		collected = append(collected, oneNumber)
	}
	sort.Ints(collected)
	expected := []int{}
	for itr := 1; itr <= workers; itr++ {
		expected = append(expected, itr)
	}
	assert.Equal(expected, collected)

	for _, oneDoc := range []string{docID, otherDocID} {
		result, err := uutA.VerifyChain(utCtx, oneDoc, ledger.VerifyOptions{}, nil)
		assert.Nil(err)
		assert.True(result.Valid)
		assert.Equal(workers, result.VerifiedCount)
	}

	stats, err := uutA.GetStats(utCtx, docID, nil)
	assert.Nil(err)
	assert.Equal(workers, stats.TotalVersions)
	assert.Equal(workers, stats.LatestVersion)
	assert.Len(stats.Authors, workers)
	assert.Equal(workers, stats.StatusCounts[models.DocumentStatusDraft])
}

func TestLedgerTamperDetection(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	dbClient := newTestDB(t)
	uut := newTestLedger(t, dbClient, newTestProvider(t), mockBlob.NewStore(t))

	docID := uuid.NewString()
	for _, content := range []string{"A", "B", "C", "D"} {
		appendVersion(t, uut, docID, content, models.DocumentStatusDraft)
	}

	// 1. Rewrite the chain hash of version 2
	assert.Nil(dbClient.RunSQLInTransaction(utCtx, func(ctx context.Context, tx *gorm.DB) error {
		return tx.Exec(
			"UPDATE document_versions SET chain_hash = ? WHERE document_id = ? AND version_number = ?",
			encryption.HashHex([]byte("forged")),
			docID,
			2,
		).Error
	}))

	// 2. The break and everything after it is reported
	result, err := uut.VerifyChain(utCtx, docID, ledger.VerifyOptions{}, nil)
	assert.Nil(err)
	assert.False(result.Valid)
	assert.Equal(4, result.TotalCount)
	assert.Equal(1, result.VerifiedCount)
	assert.Equal(1, result.IntactThrough)
	assert.Equal([]int{2}, result.DirectBreaks)
	assert.Equal([]int{2, 3, 4}, result.BrokenLinks)
	assert.Equal([]int{2}, result.SignatureFailures)
	assert.ErrorIs(result.Err(), models.ErrChainIntegrity)

	// 3. Corrupt the payload of version 3, only visible when recomputing content
	assert.Nil(dbClient.RunSQLInTransaction(utCtx, func(ctx context.Context, tx *gorm.DB) error {
		return tx.Exec(
			"UPDATE document_versions SET payload_auth_tag = ? WHERE document_id = ? AND version_number = ?",
			make([]byte, 16),
			docID,
			3,
		).Error
	}))

	result, err = uut.VerifyChain(utCtx, docID, ledger.VerifyOptions{}, nil)
	assert.Nil(err)
	assert.Equal([]int{2}, result.DirectBreaks)
	assert.Nil(result.ContentMismatches)

	result, err = uut.VerifyChain(utCtx, docID, ledger.VerifyOptions{RecomputeContent: true}, nil)
	assert.Nil(err)
	assert.False(result.Valid)
	assert.Equal([]int{3}, result.ContentMismatches)
	assert.Equal([]int{2, 3}, result.DirectBreaks)
	assert.Equal([]int{2, 3, 4}, result.BrokenLinks)
}

func TestLedgerFirstVersionTamper(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	dbClient := newTestDB(t)
	uut := newTestLedger(t, dbClient, newTestProvider(t), mockBlob.NewStore(t))

	docID := uuid.NewString()
	appendVersion(t, uut, docID, "A", models.DocumentStatusDraft)
	appendVersion(t, uut, docID, "B", models.DocumentStatusDraft)

	// Swap the content hash of version 1
	assert.Nil(dbClient.RunSQLInTransaction(utCtx, func(ctx context.Context, tx *gorm.DB) error {
		return tx.Exec(
			"UPDATE document_versions SET content_hash = ? WHERE document_id = ? AND version_number = ?",
			encryption.HashHex([]byte("Z")),
			docID,
			1,
		).Error
	}))

	result, err := uut.VerifyChain(utCtx, docID, ledger.VerifyOptions{}, nil)
	assert.Nil(err)
	assert.False(result.Valid)
	assert.Equal(0, result.IntactThrough)
	assert.Equal(0, result.VerifiedCount)
	// Version 2 no longer links to version 1's content hash
	assert.Equal([]int{1, 2}, result.DirectBreaks)
	assert.Equal([]int{1, 2}, result.BrokenLinks)
	// Signatures are over the untouched chain hashes
	assert.Empty(result.SignatureFailures)
}

func TestLedgerUntrustedSigner(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	dbClient := newTestDB(t)
	oldProvider := newTestProvider(t)
	newProvider := newTestProvider(t)

	docID := uuid.NewString()
	appendVersion(
		t, newTestLedger(t, dbClient, oldProvider, mockBlob.NewStore(t)),
		docID, "A", models.DocumentStatusDraft,
	)

	// 1. A rotated vault identity does not trust the old signatures
	uut := newTestLedger(t, dbClient, newProvider, mockBlob.NewStore(t))
	result, err := uut.VerifyChain(utCtx, docID, ledger.VerifyOptions{}, nil)
	assert.Nil(err)
	assert.False(result.Valid)
	assert.Equal([]int{1}, result.SignatureFailures)
	assert.Empty(result.BrokenLinks)
	assert.Equal(1, result.IntactThrough)
	assert.Equal(0, result.VerifiedCount)

	// 2. Unless the old identity is listed as trusted
	uut, err = ledger.NewVersionLedger(ledger.VersionLedgerParams{
		Persistence:         dbClient,
		Crypto:              newProvider,
		Blobs:               mockBlob.NewStore(t),
		PreviousSigningKeys: [][]byte{oldProvider.SigningPublicKey()},
	})
	assert.Nil(err)
	appendVersion(t, uut, docID, "B", models.DocumentStatusDraft)
	result, err = uut.VerifyChain(utCtx, docID, ledger.VerifyOptions{}, nil)
	assert.Nil(err)
	assert.True(result.Valid)
	assert.Equal(2, result.VerifiedCount)
}

func TestLedgerFinalSupersede(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	dbClient := newTestDB(t)
	uut := newTestLedger(t, dbClient, newTestProvider(t), mockBlob.NewStore(t))

	docID := uuid.NewString()

	appendVersion(t, uut, docID, "A", models.DocumentStatusFinal)
	appendVersion(t, uut, docID, "B", models.DocumentStatusDraft)

	// 1. A draft does not supersede
	v1, err := uut.GetVersionByNumber(utCtx, docID, 1, nil)
	assert.Nil(err)
	assert.Equal(models.DocumentStatusFinal, v1.Status)

	// 2. Finalizing version 2 supersedes version 1
	v2, err := uut.UpdateVersionStatus(utCtx, docID, 2, models.DocumentStatusFinal, "carol", nil)
	assert.Nil(err)
	assert.Equal(models.DocumentStatusFinal, v2.Status)
	v1, err = uut.GetVersionByNumber(utCtx, docID, 1, nil)
	assert.Nil(err)
	assert.Equal(models.DocumentStatusSuperseded, v1.Status)

	// 3. Appending a FINAL version supersedes version 2
	appendVersion(t, uut, docID, "C", models.DocumentStatusFinal)
	v2, err = uut.GetVersionByNumber(utCtx, docID, 2, nil)
	assert.Nil(err)
	assert.Equal(models.DocumentStatusSuperseded, v2.Status)

	// 4. Superseded can't go back to FINAL
	_, err = uut.UpdateVersionStatus(utCtx, docID, 1, models.DocumentStatusFinal, "carol", nil)
	assert.ErrorIs(err, models.ErrInvalidStatus)

	// 5. Status changes leave the chain intact
	result, err := uut.VerifyChain(utCtx, docID, ledger.VerifyOptions{}, nil)
	assert.Nil(err)
	assert.True(result.Valid)

	stats, err := uut.GetStats(utCtx, docID, nil)
	assert.Nil(err)
	assert.Equal(3, stats.LatestVersion)
	assert.Equal(models.DocumentStatusFinal, stats.LatestStatus)
	assert.Equal(2, stats.StatusCounts[models.DocumentStatusSuperseded])
	assert.Equal(1, stats.StatusCounts[models.DocumentStatusFinal])
	assert.Equal([]string{"alice"}, stats.Authors)
	assert.NotNil(stats.FirstCreatedAt)
	assert.NotNil(stats.LastCreatedAt)
}

func TestLedgerDecryptVersion(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	blobs := mockBlob.NewStore(t)
	uut := newTestLedger(t, newTestDB(t), newTestProvider(t), blobs)

	docID := uuid.NewString()
	owner := uuid.NewString()
	stranger := uuid.NewString()

	v1 := appendVersion(t, uut, docID, "top secret", models.DocumentStatusDraft)

	blobs.On("CanAccess", mock.Anything, docID, owner).Return(true, nil)
	blobs.On("CanAccess", mock.Anything, docID, stranger).Return(false, nil)
	blobs.On(
		"LogAccess",
		mock.Anything,
		docID,
		owner,
		blob.ActionDecryptVersion,
		map[string]interface{}{"version_number": 1, "content_hash": v1.ContentHash},
	).Return(nil).Once()

	// 1. Owner reads
	content, err := uut.DecryptVersion(utCtx, docID, 1, owner)
	assert.Nil(err)
	assert.Equal([]byte("top secret"), content)

	// 2. Stranger is denied
	_, err = uut.DecryptVersion(utCtx, docID, 1, stranger)
	assert.ErrorIs(err, models.ErrAccessDenied)

	// 3. Missing version
	_, err = uut.DecryptVersion(utCtx, docID, 5, owner)
	assert.ErrorIs(err, models.ErrVersionNotFound)
}

func TestLedgerSignFailure(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	provider := mockEncryption.NewProvider(t)
	provider.On("SigningPublicKey").Return([]byte("vault-signer"))
	provider.On("Hash", mock.Anything).Return(encryption.HashHex([]byte("x")))
	provider.On("Sign", mock.Anything, mock.Anything).
		Return(models.Signature{}, models.ErrSignatureFailed).Once()

	uut := newTestLedger(t, newTestDB(t), provider, mockBlob.NewStore(t))

	docID := uuid.NewString()
	_, err := uut.AddVersion(utCtx, ledger.AddVersionRequest{
		DocumentID: docID, Payload: []byte("x"), Status: models.DocumentStatusDraft, Author: "alice",
	}, nil)
	assert.ErrorIs(err, models.ErrSignatureFailed)
	assert.ErrorIs(err, models.ErrCryptoFailure)

	// No partial version
	_, err = uut.GetLatestVersion(utCtx, docID, nil)
	assert.ErrorIs(err, models.ErrDocumentNotFound)
}
