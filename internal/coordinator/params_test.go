package coordinator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/agathahq/configd/pkg/models"
)

func TestResolveParams_AscendingPriority(t *testing.T) {
	builtins := models.Document{
		ParamDimensions: 1536,
		ParamMetric:     "cosine",
		ParamLists:      100,
	}
	global := models.Document{
		ParamDimensions: 768,
		ParamMetric:     "l2",
	}
	settings := models.Document{
		ParamMetric: "ip",
	}

	params := resolveParams(builtins, global, settings)

	assert.Equal(t, "ip", params.String(ParamMetric, ""))
	assert.Equal(t, 768, params.Int(ParamDimensions, 0))
	assert.Equal(t, 100, params.Int(ParamLists, 0))
}

func TestResolveParams_StripsStatusBookkeeping(t *testing.T) {
	settings := models.Document{
		models.SettingStatus:         "installed",
		models.SettingLastError:      "old failure",
		models.SettingLastRunAt:      "2026-01-01T00:00:00Z",
		models.SettingResolvedParams: models.Document{ParamDimensions: 3},
		models.SettingShapeMismatch:  true,
		ParamLists:                   200,
	}

	params := resolveParams(models.Document{ParamLists: 100}, nil, settings)

	assert.Equal(t, 200, params.Int(ParamLists, 0))
	for _, k := range []string{
		models.SettingStatus, models.SettingLastError, models.SettingLastRunAt,
		models.SettingResolvedParams, models.SettingShapeMismatch,
	} {
		_, present := params[k]
		assert.False(t, present, k)
	}
}

func TestRecencyWindow(t *testing.T) {
	assert.Equal(t, 24*time.Hour, recencyWindow(models.Document{}))
	assert.Equal(t, 2*time.Hour,
		recencyWindow(models.Document{ParamRecencyWindowHours: 2}))
	assert.Equal(t, 30*time.Minute,
		recencyWindow(models.Document{ParamRecencyWindowHours: 0.5}))
	assert.Equal(t, 24*time.Hour,
		recencyWindow(models.Document{ParamRecencyWindowHours: -1}))
}
