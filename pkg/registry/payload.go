package registry

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// EncodePayload serializes config and command data for the registry.
// The result is the UTF-8 JSON carried in the binary_data field; on the
// registry's JSON wire form those bytes travel base64 encoded (see BinaryData).
func EncodePayload(data any) ([]byte, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode device payload: %w", err)
	}
	return b, nil
}

// BinaryData returns the wire form of a payload: base64(UTF-8(JSON(data))).
func BinaryData(data any) (string, error) {
	b, err := EncodePayload(data)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
