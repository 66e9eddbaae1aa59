package credential

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNext_RoundRobin(t *testing.T) {
	pool := NewPool([]string{"tok-a", "tok-b", "tok-c"})

	var seen []string
	for i := 0; i < 3; i++ {
		seen = append(seen, pool.Next().Token)
	}
	assert.Equal(t, []string{"tok-a", "tok-b", "tok-c"}, seen)

	// Wraps back to the start in the same order.
	assert.Equal(t, "tok-a", pool.Next().Token)
	assert.Equal(t, "tok-b", pool.Next().Token)
}

func TestNext_EmptyPool(t *testing.T) {
	pool := NewPool(nil)
	c := pool.Next()
	assert.True(t, c.IsZero())
	assert.Equal(t, 0, pool.Len())
}

func TestBest_LowestFailureCount(t *testing.T) {
	pool := NewPool([]string{"tok-a", "tok-b", "tok-c"})

	pool.MarkFailed(Credential{Token: "tok-a"})
	pool.MarkFailed(Credential{Token: "tok-a"})
	pool.MarkFailed(Credential{Token: "tok-b"})

	assert.Equal(t, "tok-c", pool.Best().Token)
}

func TestBest_TiesBrokenByPoolOrder(t *testing.T) {
	pool := NewPool([]string{"tok-a", "tok-b"})
	assert.Equal(t, "tok-a", pool.Best().Token)

	pool.MarkFailed(Credential{Token: "tok-a"})
	pool.MarkFailed(Credential{Token: "tok-b"})
	assert.Equal(t, "tok-a", pool.Best().Token)
}

func TestMarkFailed_NeverRemoves(t *testing.T) {
	pool := NewPool([]string{"tok-a"})
	for i := 0; i < 10; i++ {
		pool.MarkFailed(Credential{Token: "tok-a"})
	}
	assert.Equal(t, 1, pool.Len())
	assert.Equal(t, "tok-a", pool.Next().Token)
}

func TestMarkFailed_ZeroCredentialIgnored(t *testing.T) {
	pool := NewPool([]string{"tok-a"})
	pool.MarkFailed(Credential{})
	assert.Equal(t, "tok-a", pool.Best().Token)
}

func TestNewPool_DropsEmptyTokens(t *testing.T) {
	pool := NewPool([]string{"", "tok-a", ""})
	assert.Equal(t, 1, pool.Len())
}

func TestRedact(t *testing.T) {
	tests := []struct {
		token    string
		expected string
	}{
		{"ghp_abcdef123456", "****3456"},
		{"abcde", "****bcde"},
		{"ab", "****"},
		{"", "****"},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.expected, Redact(tc.token))
	}

	// The token body must never leak into the redacted form.
	assert.NotContains(t, Redact("ghp_abcdef123456"), "ghp_abcdef")
}
