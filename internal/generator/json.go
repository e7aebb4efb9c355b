package generator

import (
	"encoding/json"
	"fmt"
	"strings"
)

// extractJSONBlock strips markdown fences and isolates the first JSON object
// or array in a model response. Models occasionally wrap their output in
// prose or ```json fences even when asked not to.
func extractJSONBlock(response string) string {
	response = strings.ReplaceAll(response, "```json", "")
	response = strings.ReplaceAll(response, "```", "")

	objStart := strings.Index(response, "{")
	arrStart := strings.Index(response, "[")

	start := objStart
	end := strings.LastIndex(response, "}")
	if objStart < 0 || (arrStart >= 0 && arrStart < objStart) {
		start = arrStart
		end = strings.LastIndex(response, "]")
	}

	if start >= 0 && end > start {
		response = response[start : end+1]
	}

	return strings.TrimSpace(response)
}

// parseJSONResponse parses a potentially messy model response into target.
func parseJSONResponse(response string, target any) error {
	cleaned := extractJSONBlock(response)
	if cleaned == "" {
		return fmt.Errorf("response contains no JSON block")
	}
	return json.Unmarshal([]byte(cleaned), target)
}
