package revocation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStore_Revoke(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisStore(client)

	mock.ExpectSet("revoked:jti:abc", "1", time.Hour).SetVal("OK")

	require.NoError(t, store.Revoke(context.Background(), "abc", time.Hour))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_RevokeSkipsExpired(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisStore(client)

	require.NoError(t, store.Revoke(context.Background(), "abc", 0))
	require.NoError(t, store.Revoke(context.Background(), "", time.Hour))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_IsRevoked(t *testing.T) {
	t.Run("revoked", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		mock.ExpectGet("revoked:jti:abc").SetVal("1")

		revoked, err := NewRedisStore(client).IsRevoked(context.Background(), "abc")
		require.NoError(t, err)
		assert.True(t, revoked)
	})

	t.Run("unknown token", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		mock.ExpectGet("revoked:jti:abc").RedisNil()

		revoked, err := NewRedisStore(client).IsRevoked(context.Background(), "abc")
		require.NoError(t, err)
		assert.False(t, revoked)
	})

	t.Run("redis error", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		mock.ExpectGet("revoked:jti:abc").SetErr(errors.New("connection refused"))

		_, err := NewRedisStore(client).IsRevoked(context.Background(), "abc")
		assert.Error(t, err)
	})
}
