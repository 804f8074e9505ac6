// Package codec converts between raw response strings and typed values.
package codec

import (
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/lukasbauer/voxquery/internal/apperrors"
	"github.com/tidwall/gjson"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Converter decodes response payloads and encodes request entities.
type Converter struct{}

// New returns a Converter.
func New() *Converter {
	return &Converter{}
}

// Decode parses raw into v. Empty or malformed payloads, and payloads whose
// top level is not an object, fail with a DecodeFailure.
func (c *Converter) Decode(raw string, v any) error {
	if strings.TrimSpace(raw) == "" {
		return apperrors.New(apperrors.KindDecode, "empty response")
	}
	if !gjson.Valid(raw) {
		return apperrors.New(apperrors.KindDecode, "response is not valid JSON")
	}
	if !gjson.Parse(raw).IsObject() {
		return apperrors.New(apperrors.KindDecode, "response is not a JSON object")
	}
	if err := json.UnmarshalFromString(raw, v); err != nil {
		return apperrors.Wrap(apperrors.KindDecode, apperrors.ErrDecode.Msg, err)
	}
	return nil
}

// Encode renders v as JSON.
func (c *Converter) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Field returns the value at path in raw, or "" when absent. Objects and
// arrays are returned as raw JSON.
func (c *Converter) Field(raw, path string) string {
	return gjson.Get(raw, path).String()
}

// IntField returns the number at path in raw, or 0 when absent.
func (c *Converter) IntField(raw, path string) int {
	return int(gjson.Get(raw, path).Int())
}
