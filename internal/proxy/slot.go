package proxy

import "encoding/json"

// slotBearingMethods lists JSON-RPC methods whose result is the slot itself
// (a bare number). Everything else must carry result.context.slot to count.
var slotBearingMethods = map[string]bool{
	"getSlot": true,
}

// ExtractSlot determines the slot a raw JSON-RPC response implies, if any.
// Pure and method-aware: most Solana methods wrap their payload as
// {"result":{"context":{"slot":N},...}}; getSlot returns the number directly.
// Responses without a recognizable slot (including JSON-RPC errors) yield
// ok=false; they are liveness evidence only.
func ExtractSlot(method string, body []byte) (uint64, bool) {
	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Result) == 0 {
		return 0, false
	}

	var wrapped struct {
		Context struct {
			Slot *uint64 `json:"slot"`
		} `json:"context"`
	}
	if err := json.Unmarshal(envelope.Result, &wrapped); err == nil && wrapped.Context.Slot != nil {
		return *wrapped.Context.Slot, true
	}

	if slotBearingMethods[method] {
		var slot uint64
		if err := json.Unmarshal(envelope.Result, &slot); err == nil {
			return slot, true
		}
	}

	return 0, false
}
