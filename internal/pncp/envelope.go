package pncp

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// envelopeKeys are, in priority order, the object fields the registry has been
// observed wrapping its result list in.
var envelopeKeys = []string{"data", "content", "items"}

// decodeEnvelope extracts the record list from a registry response body. The
// API answers with a bare array, or an object wrapping the array under one of
// envelopeKeys, or (rarely) an object whose first non-empty array field holds
// the payload. Anything else decodes to an empty list.
func decodeEnvelope(body []byte) []json.RawMessage {
	parsed := gjson.ParseBytes(body)

	if parsed.IsArray() {
		return rawElements(parsed)
	}
	if !parsed.IsObject() {
		return []json.RawMessage{}
	}

	for _, key := range envelopeKeys {
		if field := parsed.Get(key); field.IsArray() {
			return rawElements(field)
		}
	}

	records := []json.RawMessage{}
	parsed.ForEach(func(_, value gjson.Result) bool {
		if value.IsArray() && len(value.Array()) > 0 {
			records = rawElements(value)
			return false
		}
		return true
	})
	return records
}

func rawElements(list gjson.Result) []json.RawMessage {
	elements := list.Array()
	records := make([]json.RawMessage, 0, len(elements))
	for _, element := range elements {
		records = append(records, json.RawMessage(element.Raw))
	}
	return records
}
