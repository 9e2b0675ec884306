package snapshot

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/serroba/collab-engine/internal/room"
)

// formatPrefix tags encoded payloads with an explicit format version so
// decode failures can be diagnosed rather than guessed at.
const formatPrefix = "csnap1:"

// encodeState serializes state into the versioned storage encoding:
// the format tag followed by base64 of the JSON document.
func encodeState(state *room.State) (string, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("encode snapshot state: %w", err)
	}

	return formatPrefix + base64.StdEncoding.EncodeToString(raw), nil
}

// decodeState parses a stored payload. It first tries the versioned format,
// then falls back to treating the payload as raw JSON (pre-format rows).
// Errors are returned for observability; callers degrade to an empty state
// rather than failing the room.
func decodeState(payload string) (*room.State, error) {
	if encoded, ok := strings.CutPrefix(payload, formatPrefix); ok {
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("decode snapshot base64: %w", err)
		}

		var state room.State
		if err := json.Unmarshal(raw, &state); err != nil {
			return nil, fmt.Errorf("decode snapshot json: %w", err)
		}

		return &state, nil
	}

	var state room.State
	if err := json.Unmarshal([]byte(payload), &state); err != nil {
		return nil, fmt.Errorf("decode raw snapshot json: %w", err)
	}

	return &state, nil
}

// emptyState is the graceful-degradation fallback for corrupt payloads.
func emptyState(roomID string, now time.Time) *room.State {
	return room.NewState(roomID, now)
}
