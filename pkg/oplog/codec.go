package oplog

import "encoding/json"

// encodeEntry/decodeEntry are the wire encoding for one hot-tail indexed
// entry. JSON keeps the tagged-union Entry struct self-describing without
// a separate schema registry.
func encodeEntry(e Entry) ([]byte, error) {
	return json.Marshal(e)
}

func decodeEntry(raw []byte) (Entry, error) {
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, err
	}
	return e, nil
}
