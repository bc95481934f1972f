package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

func parseTOML(content string, base Config) (Config, []Warning, error) {
	var payload filePayload
	meta, err := toml.Decode(content, &payload)
	if err != nil {
		var parseErr toml.ParseError
		if errors.As(err, &parseErr) {
			return Config{}, nil, fmt.Errorf("line %d column %d: %s", parseErr.Position.Line, parseErr.Position.Col, parseErr.Message)
		}
		return Config{}, nil, err
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		sort.Strings(keys)
		return Config{}, nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}

	cfg := base
	warnings := payload.applyTo(&cfg)
	return cfg, warnings, nil
}
