package models

import "encoding/json"

// StringList decodes a JSON value that may be a single string, a list of
// strings, or null. It always marshals back as a list.
type StringList []string

// UnmarshalJSON accepts "x", ["x","y"] and null.
func (l *StringList) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*l = nil
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*l = StringList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*l = StringList(many)
	return nil
}
