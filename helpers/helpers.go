package helpers

import "encoding/json"

// JsonSize is the length of v's JSON encoding, 0 when v cannot be encoded.
func JsonSize(v interface{}) int {
	b, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return len(b)
}
