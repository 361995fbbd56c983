package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrMalformedOutput = errors.New("model reply did not contain the expected JSON object")

// decodeReply pulls the outermost JSON object out of a model reply. Models
// often wrap it in a markdown fence or a sentence of prose.
func decodeReply(reply string, dst any) error {
	start := strings.IndexByte(reply, '{')
	end := strings.LastIndexByte(reply, '}')
	if start < 0 || end <= start {
		return fmt.Errorf("%w: no object found", ErrMalformedOutput)
	}
	if err := json.Unmarshal([]byte(reply[start:end+1]), dst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return nil
}

// requireFields fails when any named field came back blank.
func requireFields(fields map[string]string) error {
	var missing []string
	for name, value := range fields {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: missing %s", ErrMalformedOutput, strings.Join(missing, ", "))
	}
	return nil
}
