package logsink

import (
	"encoding/json"
	"fmt"
)

// MergeTags flattens a sequence of tag objects into one label map.
// When a key appears more than once the later tag wins.
func MergeTags(tags []map[string]any) map[string]string {
	labels := make(map[string]string)
	for _, tag := range tags {
		for k, v := range tag {
			labels[k] = labelValue(v)
		}
	}
	return labels
}

// labelValue renders a tag value as a label string. Strings are kept as is,
// objects and arrays are rendered as JSON.
func labelValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	default:
		return fmt.Sprint(val)
	}
}
