package share

import (
	"testing"
	"time"

	"github.com/alwitt/custody/models"
	"github.com/stretchr/testify/assert"
)

func TestAllowListMatching(t *testing.T) {
	assert := assert.New(t)

	normalized, err := normalizeAllowList([]string{" 10.1.2.3/8", "::ffff:192.168.1.7", "2001:db8::/32"})
	assert.Nil(err)
	assert.Equal([]string{"10.0.0.0/8", "192.168.1.7", "2001:db8::/32"}, normalized)

	_, err = normalizeAllowList([]string{"10.0.0.0/33"})
	assert.Error(err)
	_, err = normalizeAllowList([]string{"example.com"})
	assert.Error(err)

	type testCase struct {
		source  string
		allowed bool
	}
	for idx, oneCase := range []testCase{
		{source: "10.200.0.1", allowed: true},
		{source: "::ffff:10.200.0.1", allowed: true},
		{source: "192.168.1.7", allowed: true},
		{source: "192.168.1.8", allowed: false},
		{source: "2001:db8:1::5", allowed: true},
		{source: "2001:db9::5", allowed: false},
		{source: "", allowed: false},
		{source: "garbage", allowed: false},
	} {
		assert.Equalf(oneCase.allowed, sourceAllowed(normalized, oneCase.source), "case %d", idx)
	}

	assert.True(sourceAllowed(nil, ""))
}

func TestPolicyEvaluationOrder(t *testing.T) {
	assert := assert.New(t)

	now := time.Now().UTC()
	link := models.SecureShareLink{
		ExpiresAt:   now.Add(-time.Minute),
		MaxAccesses: 1,
		AccessCount: 1,
		IsRevoked:   true,
		AllowedIPs:  []string{"10.0.0.0/8"},
	}

	assert.Equal(models.ReasonRevoked, evaluate(link, "8.8.8.8", now).Reason)
	link.IsRevoked = false
	assert.Equal(models.ReasonExpired, evaluate(link, "8.8.8.8", now).Reason)
	link.ExpiresAt = now.Add(time.Minute)
	assert.Equal(models.ReasonExhausted, evaluate(link, "8.8.8.8", now).Reason)
	link.AccessCount = 0
	assert.Equal(models.ReasonIPNotAllowed, evaluate(link, "8.8.8.8", now).Reason)
	assert.Equal(models.ShareValidity{Valid: true}, evaluate(link, "10.9.9.9", now))

	// Expiry is exclusive
	assert.Equal(models.ReasonExpired, evaluate(link, "10.9.9.9", link.ExpiresAt).Reason)
}
