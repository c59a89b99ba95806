package report

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ent0n29/dingbot/internal/brain"
)

const defaultReportMaxTokens = 4000

const reportTitlePrefix = "AI报告 - "

const reportPrompt = `请针对以下主题生成一份详细的专业报告：

主题：%s

要求：
1. 报告应包含以下部分：标题、摘要、引言、主体内容（分多个章节）、结论
2. 内容要专业、准确、有深度
3. 使用Markdown格式组织内容
4. 每个章节要有清晰的标题和结构
5. 适当引用相关技术、案例或数据
6. 总字数控制在2000-3000字

请开始生成报告：`

// DocumentRenderer renders markdown content into a PDF on disk and
// returns the file path.
type DocumentRenderer interface {
	Render(content, title string) (string, error)
}

// Publisher stores a rendered report and returns a download link.
type Publisher interface {
	Upload(ctx context.Context, path string) (string, error)
}

// PipelineConfig tunes report generation.
type PipelineConfig struct {
	// SystemPrompt is prepended to the generation request when set.
	SystemPrompt string

	// MaxTokens caps the generated report length. Defaults to 4000,
	// well above the chat default so reports do not get cut short.
	MaxTokens int
}

// Pipeline generates report content, renders it to PDF and builds the
// chat reply describing the result.
type Pipeline struct {
	provider  brain.Provider
	renderer  DocumentRenderer
	publisher Publisher
	cfg       PipelineConfig
	log       *zap.Logger
}

// NewPipeline wires the report stages together. publisher may be nil,
// in which case the PDF stays on local disk and the reply says so.
func NewPipeline(provider brain.Provider, renderer DocumentRenderer, publisher Publisher, cfg PipelineConfig, log *zap.Logger) (*Pipeline, error) {
	if provider == nil {
		return nil, errors.New("report pipeline requires a provider")
	}
	if renderer == nil {
		return nil, errors.New("report pipeline requires a renderer")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultReportMaxTokens
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		provider:  provider,
		renderer:  renderer,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
	}, nil
}

// Run produces a report on topic for requester and returns the reply to
// send back to the chat.
func (p *Pipeline) Run(ctx context.Context, topic, requester string) (string, error) {
	content, err := p.generate(ctx, topic)
	if err != nil {
		return "", err
	}
	path, err := p.renderer.Render(content, reportTitle(topic))
	if err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	p.log.Info("report rendered",
		zap.String("topic", topic),
		zap.String("path", path))

	link := ""
	if p.publisher != nil {
		link, err = p.publisher.Upload(ctx, path)
		if err != nil {
			p.log.Warn("report upload failed, keeping local copy", zap.Error(err))
			link = ""
		}
	}
	return buildReply(topic, requester, link, content), nil
}

func (p *Pipeline) generate(ctx context.Context, topic string) (string, error) {
	msgs := make([]brain.Message, 0, 2)
	if p.cfg.SystemPrompt != "" {
		msgs = append(msgs, brain.Message{Role: brain.RoleSystem, Content: p.cfg.SystemPrompt})
	}
	msgs = append(msgs, brain.Message{
		Role:    brain.RoleUser,
		Content: fmt.Sprintf(reportPrompt, topic),
	})
	content, err := p.provider.Complete(ctx, brain.CompletionRequest{
		Messages:  msgs,
		MaxTokens: p.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("generate report content: %w", err)
	}
	if strings.TrimSpace(content) == "" {
		return "", errors.New("empty report content")
	}
	return content, nil
}

func reportTitle(topic string) string {
	return reportTitlePrefix + truncateRunes(topic, 30)
}

func buildReply(topic, requester, link, content string) string {
	preview := truncateRunes(content, 200)
	if link != "" {
		return fmt.Sprintf(`报告已生成完成！

📊 报告主题：%s
👤 请求人：%s
📄 下载链接：%s（24小时内有效）

报告摘要：
%s...

完整内容请下载PDF文件查看。`, topic, requester, link, preview)
	}
	return fmt.Sprintf(`报告已生成完成！

📊 报告主题：%s
👤 请求人：%s
📄 文件已保存到服务器

由于当前环境限制，PDF文件已保存在服务器本地。
在生产环境中，文件将上传到云存储并提供下载链接。

报告摘要：
%s...

完整内容请查看PDF文件。`, topic, requester, preview)
}

// truncateRunes shortens s to at most n characters, not bytes, so CJK
// text is never cut mid-rune.
func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
