package providers

import "chatrelay/internal/credentials"

// Default vendor base endpoints. Google is reached through its SDK's own
// default and has none here.
var defaultEndpoints = map[credentials.Vendor]string{
	credentials.SiliconFlow: "https://api.siliconflow.cn/v1",
	credentials.OpenAI:      "https://api.openai.com/v1",
	credentials.DeepSeek:    "https://api.deepseek.com/v1",
	credentials.Zhipu:       "https://open.bigmodel.cn/api/paas/v4",
	credentials.OpenRouter:  "https://openrouter.ai/api/v1",
}

// builtinCatalog is the model catalog offered to users. The first
// domestic-free entry is the fallback for unknown model ids.
var builtinCatalog = []ModelDescriptor{
	{
		ID:            "siliconflow-qwen",
		Name:          "Qwen2.5 7B",
		Description:   "Alibaba Qwen 2.5 served by SiliconFlow, free tier",
		Category:      CategoryDomesticFree,
		Status:        StatusOnline,
		Vendor:        credentials.SiliconFlow,
		UpstreamModel: "Qwen/Qwen2.5-7B-Instruct",
		RequiresKey:   true,
		Transport:     TransportOpenAI,
	},
	{
		ID:            "siliconflow-llama",
		Name:          "Llama 3.1 8B",
		Description:   "Meta Llama 3.1 served by SiliconFlow, free tier",
		Category:      CategoryDomesticFree,
		Status:        StatusOnline,
		Vendor:        credentials.SiliconFlow,
		UpstreamModel: "meta-llama/Meta-Llama-3.1-8B-Instruct",
		RequiresKey:   true,
		Transport:     TransportOpenAI,
	},
	{
		ID:            "siliconflow-deepseek",
		Name:          "DeepSeek V2.5",
		Description:   "DeepSeek V2.5 served by SiliconFlow",
		Category:      CategoryDomesticFree,
		Status:        StatusOnline,
		Vendor:        credentials.SiliconFlow,
		UpstreamModel: "deepseek-ai/DeepSeek-V2.5",
		RequiresKey:   true,
		Transport:     TransportOpenAI,
	},
	{
		ID:            "zhipu-glm4",
		Name:          "GLM-4 Flash",
		Description:   "Zhipu GLM-4 Flash, free tier",
		Category:      CategoryDomesticFree,
		Status:        StatusOnline,
		Vendor:        credentials.Zhipu,
		UpstreamModel: "glm-4-flash",
		Transport:     TransportOpenAI,
	},
	{
		ID:            "deepseek-chat",
		Name:          "DeepSeek Chat",
		Description:   "DeepSeek's own chat model",
		Category:      CategoryDomesticFree,
		Status:        StatusOnline,
		Vendor:        credentials.DeepSeek,
		UpstreamModel: "deepseek-chat",
		RequiresKey:   true,
		Transport:     TransportOpenAI,
	},
	{
		ID:            "gemini-flash",
		Name:          "Gemini 1.5 Flash",
		Description:   "Google Gemini 1.5 Flash",
		Category:      CategoryOverseasFree,
		Status:        StatusOffline,
		Vendor:        credentials.Google,
		UpstreamModel: "gemini-1.5-flash-latest",
		Transport:     TransportGemini,
	},
	{
		ID:            "gemini-pro",
		Name:          "Gemini 1.5 Pro",
		Description:   "Google Gemini 1.5 Pro",
		Category:      CategoryOverseasFree,
		Status:        StatusOffline,
		Vendor:        credentials.Google,
		UpstreamModel: "gemini-1.5-pro-latest",
		Transport:     TransportGemini,
	},
	{
		ID:            "openrouter-gemini",
		Name:          "Gemini 2.5 Pro (OpenRouter)",
		Description:   "Gemini 2.5 Pro experimental through OpenRouter's free route",
		Category:      CategoryOverseasFree,
		Status:        StatusOffline,
		Vendor:        credentials.OpenRouter,
		UpstreamModel: "google/gemini-2.5-pro-exp-03-25:free",
		Transport:     TransportOpenAI,
	},
	{
		ID:            "gpt-3.5-turbo",
		Name:          "GPT-3.5 Turbo",
		Description:   "OpenAI GPT-3.5 Turbo, paid",
		Category:      CategoryPaid,
		Status:        StatusOffline,
		Vendor:        credentials.OpenAI,
		UpstreamModel: "gpt-3.5-turbo",
		RequiresKey:   true,
		Transport:     TransportOpenAI,
	},
}
