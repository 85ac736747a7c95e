package util

import (
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJsonWrite(t *testing.T) {
	rec := httptest.NewRecorder()
	JsonWrite(rec, map[string]int{"count": 2})
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"count":2}`, rec.Body.String())
}

func TestCheckPwd(t *testing.T) {
	h := CryptPwd("s3cret")
	assert.True(t, CheckPwd(h, "s3cret"))
	assert.False(t, CheckPwd(h, "secret"))
	assert.False(t, CheckPwd("not a hash", "s3cret"))
}

func TestGenUUID(t *testing.T) {
	a, b := GenUUID(), GenUUID()
	assert.NotEqual(t, a, b)
	_, err := uuid.Parse(a)
	require.NoError(t, err)
}
