package plan

import (
	"encoding/json"
	"fmt"
)

func phaseKey(phase int) string {
	return fmt.Sprintf("phase_%d", phase)
}

func decodePhases(raw string) ([]int, error) {
	if raw == "" {
		return nil, nil
	}
	var phases []int
	if err := json.Unmarshal([]byte(raw), &phases); err != nil {
		return nil, err
	}
	return phases, nil
}

func encodePhases(phases []int) string {
	if phases == nil {
		phases = []int{}
	}
	data, _ := json.Marshal(phases)
	return string(data)
}

func decodeOutputs(raw string) (map[string]json.RawMessage, error) {
	outputs := map[string]json.RawMessage{}
	if raw == "" {
		return outputs, nil
	}
	if err := json.Unmarshal([]byte(raw), &outputs); err != nil {
		return nil, err
	}
	return outputs, nil
}

func encodeOutputs(outputs map[string]json.RawMessage) string {
	data, _ := json.Marshal(outputs)
	return string(data)
}
