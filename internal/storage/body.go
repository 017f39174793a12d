package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// DecodeBody decodes a stored document body. Numbers are kept as json.Number
// so integers beyond 2^53 survive a round trip unchanged.
func DecodeBody(raw []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var body map[string]interface{}
	if err := dec.Decode(&body); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after document body")
	}
	if body == nil {
		body = make(map[string]interface{})
	}
	return body, nil
}
