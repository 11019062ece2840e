package ledger

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePayload(t *testing.T) {
	t.Run("valid JSON is structured", func(t *testing.T) {
		p := DecodePayload([]byte(`{"wageId":"wage-1","amount":"100.50"}`))
		raw, ok := p.Structured()
		require.True(t, ok)
		var decoded map[string]string
		require.NoError(t, json.Unmarshal(raw, &decoded))
		assert.Equal(t, "wage-1", decoded["wageId"])
		_, opaque := p.Opaque()
		assert.False(t, opaque)
	})

	t.Run("bare JSON scalar is structured", func(t *testing.T) {
		p := DecodePayload([]byte(`true`))
		raw, ok := p.Structured()
		require.True(t, ok)
		assert.Equal(t, "true", string(raw))
	})

	t.Run("malformed output kept verbatim as opaque", func(t *testing.T) {
		p := DecodePayload([]byte(`committed{`))
		_, structured := p.Structured()
		assert.False(t, structured)
		s, ok := p.Opaque()
		require.True(t, ok)
		assert.Equal(t, "committed{", s)
	})

	t.Run("empty output is zero", func(t *testing.T) {
		assert.True(t, DecodePayload(nil).IsZero())
		assert.True(t, DecodePayload([]byte{}).IsZero())
	})
}

func TestPayloadJSONRoundTrip(t *testing.T) {
	t.Run("structured marshals as raw JSON", func(t *testing.T) {
		p := DecodePayload([]byte(`{"ok":true}`))
		out, err := json.Marshal(p)
		require.NoError(t, err)
		assert.JSONEq(t, `{"ok":true}`, string(out))
	})

	t.Run("opaque marshals as a JSON string", func(t *testing.T) {
		p := DecodePayload([]byte(`not json{`))
		out, err := json.Marshal(p)
		require.NoError(t, err)
		assert.Equal(t, `"not json{"`, string(out))

		var back Payload
		require.NoError(t, json.Unmarshal(out, &back))
		s, ok := back.Opaque()
		require.True(t, ok)
		assert.Equal(t, "not json{", s)
	})
}

// Mock and live responses must expose the same envelope, differing only in the
// mock flag, so consumers never branch on which client produced a response.
func TestResponseEnvelopeParity(t *testing.T) {
	live := &Response{
		Success:      true,
		FunctionName: "RecordWage",
		Args:         []string{"wage-1"},
		Timestamp:    time.Now().UTC(),
		TxID:         "abc123",
		Block:        42,
		Payload:      DecodePayload([]byte(`{}`)),
	}

	mock := NewMockClient()
	mocked, err := mock.Submit(context.Background(), "RecordWage", "wage-1")
	require.NoError(t, err)

	fieldSet := func(r *Response) map[string]struct{} {
		out, err := json.Marshal(r)
		require.NoError(t, err)
		var m map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(out, &m))
		keys := make(map[string]struct{}, len(m))
		for k := range m {
			keys[k] = struct{}{}
		}
		return keys
	}

	liveFields := fieldSet(live)
	mockFields := fieldSet(mocked)
	delete(mockFields, "mock")

	assert.Equal(t, liveFields, mockFields)
	assert.True(t, mocked.Mock)
	assert.False(t, live.Mock)
}

func TestMockClient(t *testing.T) {
	t.Run("transaction ids are monotonic within a client", func(t *testing.T) {
		c := NewMockClient()
		first, err := c.Submit(context.Background(), "RecordWage", "wage-1")
		require.NoError(t, err)
		second, err := c.Evaluate(context.Background(), "WageExists", "wage-1")
		require.NoError(t, err)

		assert.Equal(t, "mock-1", first.TxID)
		assert.Equal(t, "mock-2", second.TxID)
	})

	t.Run("nil args normalized to empty slice", func(t *testing.T) {
		c := NewMockClient()
		resp, err := c.Submit(context.Background(), "GetAllWages")
		require.NoError(t, err)
		require.NotNil(t, resp.Args)
		assert.Empty(t, resp.Args)

		out, err := json.Marshal(resp)
		require.NoError(t, err)
		assert.Contains(t, string(out), `"args":[]`)
	})

	t.Run("always healthy", func(t *testing.T) {
		c := NewMockClient()
		health := c.Health(context.Background())
		assert.True(t, health.Healthy)
		assert.Equal(t, "mock mode active", health.Detail)
	})

	t.Run("identifies as mock and closes cleanly", func(t *testing.T) {
		c := NewMockClient()
		assert.True(t, c.Mock())
		assert.NoError(t, c.Close())
		assert.NoError(t, c.Close())
	})
}
