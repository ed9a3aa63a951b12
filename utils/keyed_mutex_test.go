package utils_test

import (
	"sync"
	"testing"
	"time"

	"github.com/alwitt/custody/utils"
	"github.com/stretchr/testify/assert"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	assert := assert.New(t)

	uut := utils.NewKeyedMutex()

	counter := 0
	wg := sync.WaitGroup{}
	for itr := 0; itr < 64; itr++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := uut.Lock("doc-1")
			defer release()
			current := counter
			time.Sleep(time.Microsecond)
			counter = current + 1
		}()
	}
	wg.Wait()

	assert.Equal(64, counter)
	assert.Equal(0, uut.Size())
}

func TestKeyedMutexDifferentKeys(t *testing.T) {
	assert := assert.New(t)

	uut := utils.NewKeyedMutex()

	releaseA := uut.Lock("doc-a")
	assert.Equal(1, uut.Size())

	// Holding "doc-a" must not block "doc-b"
	acquired := make(chan bool, 1)
	go func() {
		release := uut.Lock("doc-b")
		release()
		acquired <- true
	}()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		assert.Fail("lock on a different key blocked")
	}

	// A second holder of "doc-a" must wait
	blocked := make(chan bool, 1)
	go func() {
		release := uut.Lock("doc-a")
		blocked <- true
		release()
	}()
	select {
	case <-blocked:
		assert.Fail("lock on the same key did not block")
	case <-time.After(50 * time.Millisecond):
	}

	releaseA()
	select {
	case <-blocked:
	case <-time.After(time.Second):
		assert.Fail("waiter never acquired the lock")
	}

	// Entry released once nobody holds it
	time.Sleep(10 * time.Millisecond)
	assert.Equal(0, uut.Size())
}
