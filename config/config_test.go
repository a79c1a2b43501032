package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("ENABLED_TFS", "")
	cfg := Load()
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)

	tfs, err := cfg.ParseTFs()
	require.NoError(t, err)
	assert.Equal(t, []int{60, 120, 180, 300}, tfs)
}

func TestParseTFs(t *testing.T) {
	tfs, err := ParseTFs(" 60, ,300 ")
	require.NoError(t, err)
	assert.Equal(t, []int{60, 300}, tfs)

	for _, bad := range []string{"", " , ", "60,x", "60,-5", "0"} {
		_, err := ParseTFs(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseTokenKeys(t *testing.T) {
	assert.Equal(t,
		[]string{"NSE:26000", "NFO:35001", "BSE:1", "MCX:42"},
		ParseTokenKeys("1:26000, 2:35001,3:1,mcx:42,bad,:7,NSE:"))
	assert.Nil(t, ParseTokenKeys(""))
}

func TestGetInt(t *testing.T) {
	t.Setenv("SOME_INT", "12")
	assert.Equal(t, 12, GetInt("SOME_INT", 3))
	t.Setenv("SOME_INT", "twelve")
	assert.Equal(t, 3, GetInt("SOME_INT", 3))
}
