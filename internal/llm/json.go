package llm

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

var fencePattern = regexp.MustCompile("(?s)^\\s*```[a-zA-Z]*\\s*\\n?(.*?)\\n?\\s*```\\s*$")

// StripCodeFence removes a surrounding ``` or ```json fence, if any
func StripCodeFence(s string) string {
	if m := fencePattern.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(s)
}

// RepairJSON returns raw unchanged when it already parses, otherwise the
// jsonrepair rendition. The bool reports whether a repair happened.
func RepairJSON(raw string) (string, bool, error) {
	var probe any
	if json.Unmarshal([]byte(raw), &probe) == nil {
		return raw, false, nil
	}
	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return raw, false, err
	}
	return repaired, true, nil
}
