package utils

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-pipeline/types"
)

func TestMarshalHasNoTrailingNewline(t *testing.T) {
	body, err := Marshal(map[string]int{"status": 200})

	require.NoError(t, err)
	assert.Equal(t, `{"status":200}`, string(body))
}

func TestUnmarshalConfigFromMap(t *testing.T) {
	type target struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	var out target
	err := UnmarshalConfig(map[string]any{"name": "World", "count": 3}, &out)

	require.NoError(t, err)
	assert.Equal(t, target{Name: "World", Count: 3}, out)

	assert.ErrorIs(t, UnmarshalConfig(nil, &out), types.ErrConfigParseFailed)
}

func TestDecodeObject(t *testing.T) {
	obj, err := DecodeObject([]byte(`{"name":"World"}`))
	require.NoError(t, err)
	assert.Equal(t, "World", obj["name"])

	obj, err = DecodeObject([]byte(`not json`))
	assert.Error(t, err)
	assert.Empty(t, obj)

	obj, err = DecodeObject(nil)
	assert.NoError(t, err)
	assert.Empty(t, obj)
}

func TestEncodeResult(t *testing.T) {
	status, body := EncodeResult(types.Unauthorized("Invalid JWT token"), nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.JSONEq(t, `{"error":"Authentication required","message":"Invalid JWT token","status":401}`, string(body))

	status, body = EncodeResult(map[string]string{"message": "Hello"}, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"message":"Hello"}`, string(body))

	status, body = EncodeResult(nil, errors.New("dial tcp 10.0.0.1: secret detail"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.NotContains(t, string(body), "secret detail")

	status, _ = EncodeResult(nil, types.Errorf(types.ErrAuthorization, "nope"))
	assert.Equal(t, http.StatusForbidden, status)
}

func TestSanitizeHeaders(t *testing.T) {
	sanitized := SanitizeHeaders(map[string]string{
		"Authorization": "Bearer abc",
		"Cookie":        "sid=1",
		"Accept":        "application/json",
	})

	assert.Equal(t, "[REDACTED]", sanitized["Authorization"])
	assert.Equal(t, "[REDACTED]", sanitized["Cookie"])
	assert.Equal(t, "application/json", sanitized["Accept"])
	assert.True(t, IsSensitiveField("jwt_token"))
	assert.False(t, IsSensitiveField("username"))
}
