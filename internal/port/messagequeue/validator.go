package messagequeue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects pass validation.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	switch {
	case strings.HasPrefix(subject, SubjectTelemetryPrefix+"."):
		var p TelemetryPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.DroneID == "" {
			return fmt.Errorf("schema validation failed for %s: %w", subject, errors.New("drone_id is required"))
		}
		if want := strings.TrimPrefix(subject, SubjectTelemetryPrefix+"."); p.DroneID != want {
			return fmt.Errorf("schema validation failed for %s: drone_id %q does not match subject", subject, p.DroneID)
		}
	case strings.HasPrefix(subject, SubjectDecisionPrefix+"."):
		var p DecisionEventPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.DecisionID == "" {
			return fmt.Errorf("schema validation failed for %s: %w", subject, errors.New("decision_id is required"))
		}
	}
	return nil
}
