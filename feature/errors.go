package feature

import "fmt"

// MissingFeatureError means a consumer needs a feature the vector lacks,
// usually a policy/engine version mismatch.
type MissingFeatureError struct {
	Feature       string
	Consumer      string
	EngineVersion string
}

func (e *MissingFeatureError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("missing feature %q required by %s (engine=%s)", e.Feature, e.Consumer, e.EngineVersion)
}

// InputError reports an extraction request that cannot be processed at all.
type InputError struct {
	SessionID string
	Message   string
}

func (e *InputError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("feature input(session=%s): %s", e.SessionID, e.Message)
}
