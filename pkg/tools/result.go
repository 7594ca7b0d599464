package tools

import (
	"encoding/json"
	"fmt"
)

type failure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// EncodeResult serializes the outcome of a tool call into the text stored in
// the transcript. A failed call becomes {"success":false,"error":...}.
func EncodeResult(result any, err error) (content string, isError bool) {
	if err != nil {
		return encodeFailure(err.Error()), true
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return encodeFailure(fmt.Sprintf("failed to encode the result: %v", err)), true
	}
	return string(encoded), false
}

func encodeFailure(msg string) string {
	encoded, err := json.Marshal(failure{Error: msg})
	if err != nil {
		// A struct of two plain fields always encodes.
		panic(err)
	}
	return string(encoded)
}
