package errx

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapRedis(t *testing.T) {
	assert.Nil(t, WrapRedis(nil))

	err := WrapRedis(redis.Nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, StatusOf(err))
	assert.ErrorIs(t, err, redis.Nil)

	boom := errors.New("connection reset")
	err = WrapRedis(boom)
	assert.Equal(t, http.StatusBadGateway, StatusOf(err))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "redis operation failed: connection reset", err.Error())
}

func TestInvalidConfigKeepsSentinel(t *testing.T) {
	err := InvalidConfig(ErrSessionIDRequired)
	assert.ErrorIs(t, err, ErrSessionIDRequired)
	assert.Equal(t, http.StatusBadRequest, StatusOf(err))

	var appErr *AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, ConfigErrorMessage, appErr.Message)
}

func TestWrapModelThroughFmtChain(t *testing.T) {
	err := fmt.Errorf("call llm: %w", WrapModel(fmt.Errorf("%w: %q", ErrUnknownProvider, "acme")))
	assert.ErrorIs(t, err, ErrUnknownProvider)
	assert.Equal(t, http.StatusBadGateway, StatusOf(err))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(errors.New("plain")))
}
