package proxy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractSlot_ContextBearing(t *testing.T) {
	body := []byte(`{"jsonrpc":"2.0","result":{"context":{"slot":331557891,"apiVersion":"1.18.22"},"value":12345},"id":1}`)

	slot, ok := ExtractSlot("getBalance", body)
	assert.True(t, ok)
	assert.Equal(t, uint64(331557891), slot)
}

func TestExtractSlot_GetSlotNumericResult(t *testing.T) {
	body := []byte(`{"jsonrpc":"2.0","result":331557900,"id":1}`)

	slot, ok := ExtractSlot("getSlot", body)
	assert.True(t, ok)
	assert.Equal(t, uint64(331557900), slot)
}

func TestExtractSlot_NumericResultOnNonSlotMethod(t *testing.T) {
	// getBlockHeight returns a bare number too, but it is a height, not a slot
	body := []byte(`{"jsonrpc":"2.0","result":305000000,"id":1}`)

	_, ok := ExtractSlot("getBlockHeight", body)
	assert.False(t, ok)
}

func TestExtractSlot_NoSlotInResult(t *testing.T) {
	body := []byte(`{"jsonrpc":"2.0","result":{"solana-core":"1.18.22"},"id":1}`)

	_, ok := ExtractSlot("getVersion", body)
	assert.False(t, ok)
}

func TestExtractSlot_JSONRPCError(t *testing.T) {
	body := []byte(`{"jsonrpc":"2.0","error":{"code":-32601,"message":"Method not found"},"id":1}`)

	_, ok := ExtractSlot("getSlot", body)
	assert.False(t, ok)
}

func TestExtractSlot_MalformedBody(t *testing.T) {
	_, ok := ExtractSlot("getSlot", []byte("not json at all"))
	assert.False(t, ok)

	_, ok = ExtractSlot("getSlot", nil)
	assert.False(t, ok)
}

func TestExtractSlot_ContextWithoutSlot(t *testing.T) {
	body := []byte(`{"jsonrpc":"2.0","result":{"context":{"apiVersion":"1.18.22"}},"id":1}`)

	_, ok := ExtractSlot("getBalance", body)
	assert.False(t, ok)
}
