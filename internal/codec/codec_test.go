package codec

import (
	"testing"

	"github.com/lukasbauer/voxquery/internal/apperrors"
	"github.com/lukasbauer/voxquery/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const queryJSON = `{
  "id": "42",
  "locale": "en-US",
  "queryType": "audio",
  "audioQuery": {"mimeType": "audio/pcm;bits=16;rate=16000"},
  "_links": {"self": {"href": "/queries/42"}, "audio": {"href": "/queries/42/audio"}}
}`

func TestDecodeQueryResponse(t *testing.T) {
	var q model.QueryResponse
	require.NoError(t, New().Decode(queryJSON, &q))
	assert.Equal(t, "42", q.ID)
	assert.Equal(t, "/queries/42/audio", q.AudioHref())
	require.NotNil(t, q.AudioQuery)
	assert.Equal(t, model.DefaultMimeType, q.AudioQuery.MimeType)
}

func TestDecodeFailures(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: ""},
		{name: "whitespace", raw: "  \n"},
		{name: "not json", raw: "CLOSING?"},
		{name: "wrong shape", raw: `{"id": {"nested": true}}`},
		{name: "null", raw: "null"},
		{name: "array", raw: `[{"id":"42"}]`},
		{name: "string", raw: `"42"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var q model.QueryResponse
			err := New().Decode(tt.raw, &q)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrDecode)
		})
	}
}

func TestEncodeOmitsEmpty(t *testing.T) {
	b, err := New().Encode(model.Token{Token: "abc"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"token":"abc"}`, string(b))
}

func TestField(t *testing.T) {
	c := New()
	assert.Equal(t, "notification", c.Field(`{"type":"notification","notificationType":"vad_stop"}`, "type"))
	assert.Equal(t, "vad_stop", c.Field(`{"type":"notification","notificationType":"vad_stop"}`, "notificationType"))
	assert.Equal(t, "", c.Field(`{"type":"x"}`, "missing"))
	assert.JSONEq(t, `{"id":"1"}`, c.Field(`{"entity":{"id":"1"}}`, "entity"))
	assert.Equal(t, 201, c.IntField(`{"responseCode":201}`, "responseCode"))
	assert.Equal(t, 0, c.IntField(`{}`, "responseCode"))
}
