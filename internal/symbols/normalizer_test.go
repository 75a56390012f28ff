package symbols

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"BTCUSDT", "BTC_USDT"},
		{"btc_usdt", "BTC_USDT"},
		{"ETH/USDC", "ETH_USDC"},
		{"SOL-USD", "SOL_USD"},
		{"ETHBTC", "ETH_BTC"},
		{"DOGEFDUSD", "DOGE_FDUSD"},
		{" ada_usd ", "ADA_USD"},
		{"nonsense", "NONSENSE"},
		{"USDT", "USDT"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{"BTCUSDT", "ETH_USD", "sol/usdc", "XRP-EUR", "garbage", "LINKETH", "BTC_USDT"}
	for _, s := range inputs {
		once := Normalize(s)
		assert.Equal(t, once, Normalize(once), "normalize must be idempotent for %q", s)
		assert.True(t, Equal(s, once), "symbol %q must equal its normal form", s)
	}
}

func TestToCryptoCom(t *testing.T) {
	assert.Equal(t, "BTC_USD", ToCryptoCom("BTC_USDT"))
	assert.Equal(t, "ETH_USD", ToCryptoCom("ETHUSDT"))
	assert.Equal(t, "ETH_USD", ToCryptoCom("ETH/USDC"))
	assert.Equal(t, "ETH_BTC", ToCryptoCom("ETHBTC"))
	assert.Equal(t, "WEIRD", ToCryptoCom("weird"))
}

func TestToBinance(t *testing.T) {
	assert.Equal(t, "BTCUSDT", ToBinance("BTC_USDT"))
	assert.Equal(t, "ETHUSDT", ToBinance("ETH_USD"))
	assert.Equal(t, "ETHUSDC", ToBinance("eth-usdc"))
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal("ETHUSDT", "ETH_USDT"))
	assert.True(t, Equal("ETH_USD", "ETHUSDC"))
	assert.True(t, Equal("btc/usd", "BTCUSDT"))
	assert.False(t, Equal("ETH_BTC", "ETH_USDT"))
	assert.False(t, Equal("ETHUSDT", "SOLUSDT"))
	assert.True(t, Equal("garbage", "GARBAGE"))
}

func TestBaseAndQuote(t *testing.T) {
	assert.Equal(t, "BTC", Base("BTCUSDT"))
	assert.Equal(t, "USDT", Quote("BTCUSDT"))
	assert.Equal(t, "JUNK", Base("junk"))
	assert.Equal(t, "", Quote("junk"))
	assert.True(t, IsUSDQuote("SOL_USDC"))
	assert.False(t, IsUSDQuote("SOL_ETH"))
}
