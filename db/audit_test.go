package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/alwitt/custody/models"
	"github.com/apex/log"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm/logger"
)

func TestSystemEventMetadataEncodeFailure(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	testDB := fmt.Sprintf("/tmp/custody_ut_%s.db", ulid.Make().String())
	client, err := NewConnection(GetSqliteDialector(testDB), logger.Error)
	assert.Nil(err)
	assert.Nil(client.RunSQLInTransaction(utCtx, DefineTables))
	t.Cleanup(func() { _ = client.Close() })

	rawClient, ok := client.(*clientImpl)
	assert.True(ok)
	dbClient, err := newDatabase(utCtx, rawClient.db)
	assert.Nil(err)
	uut, ok := dbClient.(*databaseImpl)
	assert.True(ok)

	// Metadata which can't be encoded as JSON is an error, and nothing is recorded
	_, err = uut.defineNewSystemEvent(
		models.SystemEventTypeCreateShareLink, &struct{ Updates chan int }{Updates: make(chan int)},
	)
	assert.Error(err)

	events, err := uut.ListSystemEvents(utCtx, SystemEventQueryFilter{})
	assert.Nil(err)
	assert.Empty(events)
}
