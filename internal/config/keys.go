package config

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/beachside/beach/internal/framed"
)

// ParseMacKeys parses the "id:hex,id:hex,..." format BEACH_FRAMED_MAC_KEYS
// and the config file's framed_mac_keys both use, returning a KeySet keyed
// by the numeric id each chunk's MacKeyID field selects.
func ParseMacKeys(raw string) (framed.KeySet, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	keys := make(framed.KeySet)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("config: mac key entry %q missing id:hex separator", entry)
		}
		id, err := strconv.ParseUint(parts[0], 10, 8)
		if err != nil {
			return nil, fmt.Errorf("config: mac key id %q: %w", parts[0], err)
		}
		key, err := hex.DecodeString(parts[1])
		if err != nil {
			return nil, fmt.Errorf("config: mac key hex for id %d: %w", id, err)
		}
		keys[byte(id)] = key
	}
	return keys, nil
}
