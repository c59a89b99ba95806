package brain

import (
	"context"
	"fmt"
	"strings"
)

// MockProvider provides deterministic local replies when no real backend is
// reachable.
type MockProvider struct{}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) Name() string { return "mock" }

func (p *MockProvider) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	return buildMockReply(req), nil
}

func buildMockReply(req CompletionRequest) string {
	last := strings.TrimSpace(lastUserContent(req.Messages))
	if topic := reportTopic(last); topic != "" {
		return mockReport(topic)
	}
	if last == "" {
		return "我在听。"
	}
	return fmt.Sprintf("我收到了：%s", last)
}

func lastUserContent(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

// reportTopic extracts the topic line from a report prompt, empty for
// ordinary chat turns.
func reportTopic(prompt string) string {
	if !strings.Contains(prompt, "专业报告") {
		return ""
	}
	_, rest, ok := strings.Cut(prompt, "主题：")
	if !ok {
		return ""
	}
	topic, _, _ := strings.Cut(rest, "\n")
	return strings.TrimSpace(topic)
}

func mockReport(topic string) string {
	return fmt.Sprintf(`# %s

## 摘要

本报告围绕“%s”做简要梳理。内容在离线模式下生成，用于联调与演示。

## 引言

该主题近年来发展迅速，本节概述其背景与现状。

## 主要内容

- 核心概念与术语
- 关键技术路线
- 典型应用场景

## 结论

“%s”值得持续关注，建议结合实际业务进一步评估。
`, topic, topic, topic)
}
