package main

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DaveSkender/Stock.Indicators-sub014/internal/model"
)

func TestLoadConfigs_Flags(t *testing.T) {
	tfList, specList, configPath = "60,300", "SMA:5,EMA:3@SMA_5", ""
	t.Cleanup(func() { tfList, specList = "60,300", "" })

	configs, err := loadConfigs()
	require.NoError(t, err)
	require.Len(t, configs, 2)
	assert.Equal(t, 300, configs[1].TF)
	assert.Equal(t, "EMA_3_ON_SMA_5", configs[0].Indicators[1].Name())

	specList = "EMA:3@SMA_9"
	_, err = loadConfigs()
	assert.Error(t, err)

	tfList, specList = "60,abc", ""
	_, err = loadConfigs()
	assert.Error(t, err)
}

func TestCompare(t *testing.T) {
	nan := math.NaN()
	want := []float64{nan, 1, 2, 3}
	got := []model.IndicatorResult{{Value: nan}, {Value: 1}, {Value: 2.5}, {Value: 3}}

	first := -1
	assert.Equal(t, 1, compare(want, got, &first))
	assert.Equal(t, 2, first)

	first = -1
	assert.Equal(t, 2, compare(want, got[:2], &first))
	assert.Equal(t, 2, first)

	first = -1
	assert.Equal(t, 0, compare(want[:2], got[:2], &first))
	assert.Equal(t, -1, first)
}
