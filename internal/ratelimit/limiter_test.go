package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLimiter_BurstThenReject(t *testing.T) {
	l := New(5, 15)

	allowed := 0
	for i := 0; i < 20; i++ {
		if l.Allow("user-1") {
			allowed++
		}
	}

	// Мгновенно доступна ровно ёмкость ведра.
	require.Equal(t, 15, allowed)
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l := New(1, 2)

	for i := 0; i < 2; i++ {
		require.True(t, l.Allow("user-1"))
	}
	require.False(t, l.Allow("user-1"))

	// Исчерпание одного пользователя не трогает другого.
	require.True(t, l.Allow("user-2"))
}

func TestLimiter_RejectionDoesNotQueue(t *testing.T) {
	l := New(0.001, 1)

	require.True(t, l.Allow("user-1"))

	// Повторные вызовы возвращаются сразу и отказом.
	for i := 0; i < 100; i++ {
		require.False(t, l.Allow("user-1"))
	}
}
