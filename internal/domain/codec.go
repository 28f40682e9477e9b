package domain

import (
	"encoding/json"
	"fmt"
)

// MarshalVariant encodes a RequestVariant as a kind tag plus JSON body for
// wire and storage use. Fails on nil or foreign values so malformed unions
// never leave the process silently.
func MarshalVariant(v RequestVariant) (VariantKind, []byte, error) {
	kind := KindOf(v)
	if kind == "" {
		return "", nil, fmt.Errorf("request variant is empty or unrecognized")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", nil, fmt.Errorf("marshal %s variant: %w", kind, err)
	}
	return kind, data, nil
}

// UnmarshalVariant decodes a kind-tagged variant body.
func UnmarshalVariant(kind VariantKind, data []byte) (RequestVariant, error) {
	switch kind {
	case KindPassthrough:
		var v Passthrough
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("unmarshal passthrough variant: %w", err)
		}
		return v, nil
	case KindCipher:
		var v Cipher
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("unmarshal cipher variant: %w", err)
		}
		return v, nil
	case KindInformation:
		var v Information
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("unmarshal information variant: %w", err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown variant kind %q", kind)
	}
}
