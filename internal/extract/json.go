package extract

import (
	"encoding/json"
	"strconv"
	"strings"
)

// JSONString reads a dotted path ("data.content") from a JSON document.
// Numbers are formatted without exponent, booleans as "true"/"false".
// Missing paths, non-scalar values and invalid JSON report ok=false.
func JSONString(content []byte, path string) (string, bool) {
	var root any
	if err := json.Unmarshal(content, &root); err != nil {
		return "", false
	}
	cur := root
	for _, key := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return "", false
		}
		if cur, ok = obj[key]; !ok {
			return "", false
		}
	}
	switch v := cur.(type) {
	case string:
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(v), true
	default:
		return "", false
	}
}
