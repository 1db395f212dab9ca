package tick

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTick() Tick {
	return Tick{
		Symbol:    "BTCUSDT",
		BidPrice:  "67012.01000000",
		BidQty:    "0.41200000",
		AskPrice:  "67012.02000000",
		AskQty:    "1.00010000",
		Timestamp: 123456789,
	}
}

func TestRoundTrip(t *testing.T) {
	cases := []Tick{
		sampleTick(),
		{Symbol: "ETHUSDT", Timestamp: 0},
		{Symbol: "BNBUSDT", BidPrice: "0.00000001", AskQty: "9999999999.99999999", Timestamp: -5},
	}
	for _, want := range cases {
		data, err := Encode(want)
		require.NoError(t, err)

		got, err := Decode(data)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestEncodeUsesShortTags(t *testing.T) {
	data, err := Encode(sampleTick())
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"s":"BTCUSDT","b":"67012.01000000","B":"0.41200000","a":"67012.02000000","A":"1.00010000","timestamp":123456789}`,
		string(data))
}

func TestEncodeRejectsEmptySymbol(t *testing.T) {
	_, err := Encode(Tick{Timestamp: 1})

	var encErr *EncodeError
	require.ErrorAs(t, err, &encErr)
	assert.True(t, errors.Is(err, ErrMissingField))
}

func TestDecodeIgnoresUnknownFields(t *testing.T) {
	got, err := Decode([]byte(`{"u":400900217,"s":"BNBUSDT","b":"25.35","B":"31.21","a":"25.36","A":"40.66","timestamp":42,"extra":{"x":1}}`))
	require.NoError(t, err)
	assert.Equal(t, Tick{
		Symbol: "BNBUSDT", BidPrice: "25.35", BidQty: "31.21",
		AskPrice: "25.36", AskQty: "40.66", Timestamp: 42,
	}, got)
}

func TestDecodeErrors(t *testing.T) {
	cases := map[string]string{
		"malformed":         `{"s":"BTCUSDT",`,
		"not an object":     `[1,2,3]`,
		"missing symbol":    `{"b":"1","timestamp":1}`,
		"empty symbol":      `{"s":"","timestamp":1}`,
		"missing timestamp": `{"s":"BTCUSDT"}`,
		"wrong type":        `{"s":"BTCUSDT","timestamp":"soon"}`,
	}
	for name, payload := range cases {
		_, err := Decode([]byte(payload))
		var decErr *DecodeError
		assert.ErrorAs(t, err, &decErr, name)
	}
}

func TestDecodeFeed(t *testing.T) {
	got, err := DecodeFeed([]byte(`{"u":1,"s":"ETHUSDT","b":"3000.1","B":"2","a":"3000.2","A":"3"}`))
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", got.Symbol)
	assert.Zero(t, got.Timestamp)

	_, err = DecodeFeed([]byte(`{"result":null,"id":1}`))
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestValidateAndSpread(t *testing.T) {
	tk := sampleTick()
	require.NoError(t, tk.Validate())

	spread, err := tk.Spread()
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("0.01").Equal(spread))

	tk.AskQty = "lots"
	assert.Error(t, tk.Validate())

	_, err = Tick{Symbol: "X", BidPrice: "1"}.Spread()
	assert.Error(t, err)
}
