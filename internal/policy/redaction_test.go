package policy

import (
	"strings"
	"testing"
)

func TestRedactPII(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "mobile number",
			in:   "我的手机号是13812345678，有空联系",
			want: "我的手机号是[REDACTED_PHONE]，有空联系",
		},
		{
			name: "email",
			in:   "报告发到 zhangsan@example.com 谢谢",
			want: "报告发到 [REDACTED_EMAIL] 谢谢",
		},
		{
			name: "email and mobile together",
			in:   "联系方式：13912345678 或 lisi@corp.cn",
			want: "联系方式：[REDACTED_PHONE] 或 [REDACTED_EMAIL]",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, changed := RedactPII(tc.in)
			if !changed {
				t.Fatalf("RedactPII(%q) reported no change", tc.in)
			}
			if got != tc.want {
				t.Fatalf("RedactPII(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestRedactPIIMasksCardAsWhole(t *testing.T) {
	got, changed := RedactPII("银行卡号 6222 0201 2345 6789 请核对")
	if !changed {
		t.Fatal("card number should be redacted")
	}
	if !strings.Contains(got, "[REDACTED_CARD]") {
		t.Fatalf("got %q, want a card mask", got)
	}
	if strings.Contains(got, "[REDACTED_PHONE]") {
		t.Fatalf("got %q, card digits must not be split into a phone match", got)
	}
}

func TestRedactPIILeavesCleanTextAlone(t *testing.T) {
	in := "今天天气怎么样？顺便讲讲Transformer的注意力机制"
	got, changed := RedactPII(in)
	if changed || got != in {
		t.Fatalf("RedactPII(%q) = %q (changed=%v), want unchanged", in, got, changed)
	}
}
