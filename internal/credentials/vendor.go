// Package credentials holds per-vendor API keys: the client-held bundle that
// overrides process defaults, its durable store and the process-wide
// environment defaults.
package credentials

import "strings"

// Vendor identifies an upstream LLM vendor.
type Vendor string

const (
	SiliconFlow Vendor = "siliconflow"
	OpenAI      Vendor = "openai"
	DeepSeek    Vendor = "deepseek"
	Zhipu       Vendor = "zhipu"
	Google      Vendor = "google"
	OpenRouter  Vendor = "openrouter"
)

type vendorInfo struct {
	displayName string
	envVar      string
	// callerKeyable vendors accept a key from the client-held bundle.
	// The others are reachable with the process-wide key only.
	callerKeyable bool
}

var vendors = map[Vendor]vendorInfo{
	SiliconFlow: {displayName: "SiliconFlow", envVar: "SILICONFLOW_API_KEY", callerKeyable: true},
	OpenAI:      {displayName: "OpenAI", envVar: "OPENAI_API_KEY", callerKeyable: true},
	DeepSeek:    {displayName: "DeepSeek", envVar: "DEEPSEEK_API_KEY", callerKeyable: true},
	Zhipu:       {displayName: "Zhipu", envVar: "ZHIPU_API_KEY"},
	Google:      {displayName: "Google", envVar: "GOOGLE_GENERATIVE_AI_API_KEY"},
	OpenRouter:  {displayName: "OpenRouter", envVar: "OPENROUTER_API_KEY"},
}

// vendorOrder is the presentation order of Vendors and CallerVendors.
var vendorOrder = []Vendor{SiliconFlow, OpenAI, DeepSeek, Zhipu, Google, OpenRouter}

// Vendors returns every known vendor.
func Vendors() []Vendor {
	return append([]Vendor(nil), vendorOrder...)
}

// CallerVendors returns the vendors whose key may come from the client.
func CallerVendors() []Vendor {
	out := make([]Vendor, 0, 3)
	for _, v := range vendorOrder {
		if vendors[v].callerKeyable {
			out = append(out, v)
		}
	}
	return out
}

// ParseVendor resolves a vendor name case-insensitively.
func ParseVendor(s string) (Vendor, bool) {
	v := Vendor(strings.ToLower(strings.TrimSpace(s)))
	_, ok := vendors[v]
	return v, ok
}

// Known reports whether v is a known vendor.
func (v Vendor) Known() bool {
	_, ok := vendors[v]
	return ok
}

// CallerKeyable reports whether a client-held key is honored for v.
func (v Vendor) CallerKeyable() bool {
	return vendors[v].callerKeyable
}

// DisplayName returns the vendor's product name.
func (v Vendor) DisplayName() string {
	if info, ok := vendors[v]; ok {
		return info.displayName
	}
	return string(v)
}

// EnvVar returns the default environment variable holding the process key.
func (v Vendor) EnvVar() string {
	return vendors[v].envVar
}

func (v Vendor) String() string {
	return string(v)
}
