package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCoin = "0xAbCd000000000000000000000000000000000001"

func TestParsePayload_Funding(t *testing.T) {
	p, err := ParsePayload(OpFundingRequest, `{"clusterId":1,"amountWei":"100000000000000"}`)
	require.NoError(t, err)
	require.NotNil(t, p.Funding)
	assert.Nil(t, p.Trade)
	assert.Equal(t, int64(1), p.Funding.ClusterID)
	assert.Equal(t, "100000000000000", p.Funding.AmountWei)
}

func TestParsePayload_FundingRejections(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"zero amount", `{"clusterId":1,"amountWei":"0"}`},
		{"negative amount", `{"clusterId":1,"amountWei":"-5"}`},
		{"non-numeric amount", `{"clusterId":1,"amountWei":"lots"}`},
		{"missing cluster", `{"amountWei":"100"}`},
		{"unknown field", `{"clusterId":1,"amountWei":"100","note":"hi"}`},
		{"empty body", `{}`},
		{"not json", `fund everything`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePayload(OpFundingRequest, tt.raw)
			assert.Error(t, err)
		})
	}
}

func TestParsePayload_Trade(t *testing.T) {
	raw := `{"clusterId":2,"coinAddress":"` + testCoin + `","totalAmountWei":"1000000000000000000","slippageBps":100,"strategyMode":"sync"}`
	p, err := ParsePayload(OpSupportCoin, raw)
	require.NoError(t, err)
	require.NotNil(t, p.Trade)
	// Addresses are normalized to lowercase for stable keys
	assert.Equal(t, NormalizeAddress(testCoin), p.Trade.CoinAddress)

	// EXIT_COIN shares the same payload shape
	p, err = ParsePayload(OpExitCoin, raw)
	require.NoError(t, err)
	require.NotNil(t, p.Trade)
}

func TestParsePayload_TradeRejections(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"bad coin address", `{"clusterId":1,"coinAddress":"not-an-address","totalAmountWei":"100","slippageBps":100,"strategyMode":"sync"}`},
		{"zero total", `{"clusterId":1,"coinAddress":"` + testCoin + `","totalAmountWei":"0","slippageBps":100,"strategyMode":"sync"}`},
		{"slippage zero", `{"clusterId":1,"coinAddress":"` + testCoin + `","totalAmountWei":"100","slippageBps":0,"strategyMode":"sync"}`},
		{"slippage over full", `{"clusterId":1,"coinAddress":"` + testCoin + `","totalAmountWei":"100","slippageBps":10001,"strategyMode":"sync"}`},
		{"unknown strategy", `{"clusterId":1,"coinAddress":"` + testCoin + `","totalAmountWei":"100","slippageBps":100,"strategyMode":"yolo"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePayload(OpSupportCoin, tt.raw)
			assert.Error(t, err)
		})
	}
}

func TestParsePayload_UnknownType(t *testing.T) {
	_, err := ParsePayload("SWEEP", `{}`)
	assert.Error(t, err)
}

func TestParseWeiFormatWei(t *testing.T) {
	v, err := ParseWei("123456789012345678901234567890")
	require.NoError(t, err)
	assert.Equal(t, "123456789012345678901234567890", FormatWei(v))

	_, err = ParseWei("")
	assert.Error(t, err)
	_, err = ParseWei("0x10")
	assert.Error(t, err)

	assert.Equal(t, "0", FormatWei(nil))
}
