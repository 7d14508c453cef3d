package coordinator

import (
	"time"

	"github.com/agathahq/configd/internal/config"
	"github.com/agathahq/configd/pkg/models"
)

// Recognized tunables resolved through the parameter chain. Every structural
// parameter a capability uses must be reachable by one of these keys; none
// is hardwired without a built-in fallback.
const (
	ParamTableName           = "table_name"
	ParamVectorColumn        = "vector_column"
	ParamDimensions          = "dimensions"
	ParamMetric              = "metric"
	ParamIndexType           = "index_type"
	ParamLists               = "lists"
	ParamM                   = "m"
	ParamEfConstruction      = "ef_construction"
	ParamIDColumnLimit       = "id_column_limit"
	ParamTextColumn          = "text_column"
	ParamSimilarityThreshold = "similarity_threshold"
	ParamRecencyWindowHours  = "rollback_recency_window_hours"
)

// resolveParams merges the parameter chain in ascending priority: capability
// built-ins, then the globally resolved document for the feature key (which
// already layers YAML defaults under the active config version), then the
// flag's own settings. Coordinator-maintained status keys in the settings
// are bookkeeping, not tunables, and are stripped first.
func resolveParams(builtins, global, settings models.Document) models.Document {
	return builtins.Merge(global).Merge(stripStatusKeys(settings))
}

func stripStatusKeys(settings models.Document) models.Document {
	if settings == nil {
		return nil
	}
	out := make(models.Document, len(settings))
	for k, v := range settings {
		switch k {
		case models.SettingStatus, models.SettingLastError, models.SettingLastRunAt,
			models.SettingResolvedParams, models.SettingShapeMismatch:
			continue
		}
		out[k] = v
	}
	return out
}

// recencyWindow returns the rollback safety window from the resolved
// parameters, defaulting to the service-wide fallback.
func recencyWindow(params models.Document) time.Duration {
	hours := params.Float(ParamRecencyWindowHours, config.DefaultRollbackRecencyWindow.Hours())
	if hours <= 0 {
		return config.DefaultRollbackRecencyWindow
	}
	return time.Duration(hours * float64(time.Hour))
}
