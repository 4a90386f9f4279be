package credentials

import (
	"log/slog"

	"github.com/tidwall/gjson"
)

// decodeKeys reads a vendor to secret object. Stored bundles and bundles
// sent by clients are untrusted: anything that is not a string value for a
// known vendor is skipped, and a document that is not an object yields an
// empty map.
func decodeKeys(raw []byte, source string) map[Vendor]string {
	keys := make(map[Vendor]string)
	if len(raw) == 0 {
		return keys
	}
	doc := gjson.ParseBytes(raw)
	if !gjson.ValidBytes(raw) || !doc.IsObject() {
		if doc.Type != gjson.Null {
			slog.Warn("ignoring malformed credential bundle", "source", source)
		}
		return keys
	}
	doc.ForEach(func(name, value gjson.Result) bool {
		v, ok := ParseVendor(name.String())
		switch {
		case !ok:
			slog.Debug("ignoring key for unknown vendor", "source", source, "vendor", name.String())
		case value.Type != gjson.String:
			slog.Warn("ignoring non-string key", "source", source, "vendor", v)
		default:
			keys[v] = value.String()
		}
		return true
	})
	return keys
}

// decodeTheme returns the theme for raw, or "" when it is not a known theme.
func decodeTheme(raw, source string) Theme {
	if raw == "" {
		return ""
	}
	t, err := ParseTheme(raw)
	if err != nil {
		slog.Warn("ignoring malformed theme", "source", source, "error", err)
		return ""
	}
	return t
}

// decodeSnapshot reads a whole persisted document. A corrupt document is
// logged and treated as empty.
func decodeSnapshot(data []byte, source string) *Snapshot {
	if !gjson.ValidBytes(data) || !gjson.ParseBytes(data).IsObject() {
		slog.Warn("credential store is corrupt, starting empty", "source", source)
		return &Snapshot{Keys: map[Vendor]string{}}
	}
	snap := &Snapshot{Keys: decodeKeys([]byte(gjson.GetBytes(data, KeysEntry).Raw), source)}
	if theme := gjson.GetBytes(data, ThemeEntry); theme.Type == gjson.String {
		snap.Theme = decodeTheme(theme.String(), source)
	}
	return snap
}

// BundleFromJSON builds a Bundle from a client-supplied apiKeys object.
// Malformed input degrades to an empty bundle so process defaults apply.
func BundleFromJSON(raw []byte) Bundle {
	return Bundle(decodeKeys(raw, "request"))
}
