package bot

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ent0n29/dingbot/internal/archive"
	"github.com/ent0n29/dingbot/internal/brain"
	"github.com/ent0n29/dingbot/internal/convo"
	"github.com/ent0n29/dingbot/internal/dingtalk"
)

type fakeProvider struct {
	reply       string
	err         error
	got         []brain.Message
	calls       int
	hadDeadline bool
}

func (f *fakeProvider) Complete(ctx context.Context, req brain.CompletionRequest) (string, error) {
	f.calls++
	f.got = req.Messages
	_, f.hadDeadline = ctx.Deadline()
	if f.err != nil {
		return "", f.err
	}
	if f.reply != "" {
		return f.reply, nil
	}
	last := req.Messages[len(req.Messages)-1]
	return "回答：" + last.Content, nil
}

func (f *fakeProvider) Name() string { return "fake" }

type fakeReporter struct {
	reply        string
	err          error
	gotTopic     string
	gotRequester string
	calls        int
}

func (f *fakeReporter) Run(ctx context.Context, topic, requester string) (string, error) {
	f.calls++
	f.gotTopic = topic
	f.gotRequester = requester
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

type fakeVoice struct {
	text    string
	err     error
	gotCode string
	calls   int
}

func (f *fakeVoice) Process(ctx context.Context, downloadCode string) (string, error) {
	f.calls++
	f.gotCode = downloadCode
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

type fakeArchive struct {
	saved   []archive.TurnRecord
	saveErr error
}

func (f *fakeArchive) SaveTurn(ctx context.Context, rec archive.TurnRecord) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, rec)
	return nil
}

func (f *fakeArchive) Recent(ctx context.Context, userID string, limit int) ([]archive.TurnRecord, error) {
	var out []archive.TurnRecord
	for _, rec := range f.saved {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeArchive) Close() error { return nil }

func newTestRouter(t *testing.T, deps Deps, opts Options) *Router {
	t.Helper()
	if deps.Store == nil {
		deps.Store = convo.NewStore(21, "你是一个乐于助人的AI助手")
	}
	if deps.Provider == nil {
		deps.Provider = &fakeProvider{}
	}
	if deps.Reporter == nil {
		deps.Reporter = &fakeReporter{reply: "报告已生成完成！"}
	}
	r, err := New(deps, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func textMessage(userID, content string) dingtalk.InboundMessage {
	return dingtalk.InboundMessage{
		MsgType:        "text",
		ConversationID: "cid-1",
		SenderID:       userID,
		SenderNick:     "张三",
		Text:           &dingtalk.TextBody{Content: content},
	}
}

func audioMessage(userID, downloadCode string) dingtalk.InboundMessage {
	return dingtalk.InboundMessage{
		MsgType:        "audio",
		ConversationID: "cid-1",
		SenderID:       userID,
		SenderNick:     "张三",
		Media:          &dingtalk.MediaBody{DownloadCode: downloadCode, Duration: 2300},
	}
}

func TestHandleChatAppendsBothTurns(t *testing.T) {
	provider := &fakeProvider{}
	store := convo.NewStore(21, "系统提示")
	r := newTestRouter(t, Deps{Store: store, Provider: provider}, Options{})

	reply := r.Handle(context.Background(), textMessage("u1", "你好"))
	if got, want := reply, "回答：你好"; got != want {
		t.Fatalf("reply = %q, want %q", got, want)
	}
	if !provider.hadDeadline {
		t.Error("chat completion should run under a deadline")
	}

	// The provider saw system + user; the store now also holds the
	// assistant turn.
	if len(provider.got) != 2 {
		t.Fatalf("provider saw %d messages, want 2", len(provider.got))
	}
	if provider.got[0].Role != "system" || provider.got[0].Content != "系统提示" {
		t.Errorf("message 0 = %+v, want seeded system turn", provider.got[0])
	}
	if provider.got[1].Role != "user" || provider.got[1].Content != "你好" {
		t.Errorf("message 1 = %+v, want user turn", provider.got[1])
	}
	if got := store.Len("u1"); got != 3 {
		t.Errorf("transcript length = %d, want 3", got)
	}

	r.Handle(context.Background(), textMessage("u1", "再见"))
	if len(provider.got) != 4 {
		t.Fatalf("second call: provider saw %d messages, want 4", len(provider.got))
	}
	if provider.got[2].Role != "assistant" {
		t.Errorf("message 2 role = %q, want assistant", provider.got[2].Role)
	}
}

func TestHandleChatCompletionFailure(t *testing.T) {
	provider := &fakeProvider{err: errors.New("model offline")}
	store := convo.NewStore(21, "系统提示")
	r := newTestRouter(t, Deps{Store: store, Provider: provider}, Options{})

	reply := r.Handle(context.Background(), textMessage("u1", "你好"))
	if got, want := reply, "抱歉，处理您的请求时出现错误：model offline"; got != want {
		t.Fatalf("reply = %q, want %q", got, want)
	}
	// The user turn stays; no assistant turn was appended.
	if got := store.Len("u1"); got != 2 {
		t.Errorf("transcript length = %d, want 2", got)
	}
}

func TestHandleReportRouteLeavesStoreUntouched(t *testing.T) {
	reporter := &fakeReporter{reply: "报告已生成完成！"}
	provider := &fakeProvider{}
	store := convo.NewStore(21, "系统提示")
	r := newTestRouter(t, Deps{Store: store, Provider: provider, Reporter: reporter},
		Options{TriggerKeywords: []string{"报告", "分析"}})

	reply := r.Handle(context.Background(), textMessage("u1", "请生成一份AI安全报告"))
	if reply != "报告已生成完成！" {
		t.Fatalf("reply = %q", reply)
	}
	if got, want := reporter.gotTopic, "请生成一份AI安全报告"; got != want {
		t.Errorf("topic = %q, want full message %q", got, want)
	}
	if got, want := reporter.gotRequester, "张三"; got != want {
		t.Errorf("requester = %q, want %q", got, want)
	}
	if provider.calls != 0 {
		t.Errorf("chat provider called %d times, want 0", provider.calls)
	}
	if got := store.Len("u1"); got != 0 {
		t.Errorf("transcript length = %d, want 0 (report path must not touch the store)", got)
	}
}

func TestHandleReportFailure(t *testing.T) {
	reporter := &fakeReporter{err: errors.New("渲染失败")}
	r := newTestRouter(t, Deps{Reporter: reporter}, Options{TriggerKeywords: []string{"报告"}})

	reply := r.Handle(context.Background(), textMessage("u1", "写个报告"))
	if got, want := reply, "抱歉，生成报告时出现错误：渲染失败"; got != want {
		t.Fatalf("reply = %q, want %q", got, want)
	}
}

func TestHandleAudioEmptyDownloadCode(t *testing.T) {
	voice := &fakeVoice{text: "不应被调用"}
	r := newTestRouter(t, Deps{Voice: voice}, Options{})

	reply := r.Handle(context.Background(), audioMessage("u1", ""))
	if reply != "抱歉，无法获取语音文件。" {
		t.Fatalf("reply = %q", reply)
	}
	if voice.calls != 0 {
		t.Errorf("voice pipeline called %d times, want 0", voice.calls)
	}
}

func TestHandleAudioWithoutVoicePipeline(t *testing.T) {
	r := newTestRouter(t, Deps{}, Options{})

	reply := r.Handle(context.Background(), audioMessage("u1", "dl-1"))
	if !strings.HasPrefix(reply, "收到您的语音消息！") {
		t.Fatalf("reply = %q, want credential explanation", reply)
	}
	if !strings.Contains(reply, "DINGTALK_APP_KEY 和 DINGTALK_APP_SECRET") {
		t.Errorf("reply should name the missing credentials: %q", reply)
	}
}

func TestHandleAudioChatReplyCarriesEcho(t *testing.T) {
	voice := &fakeVoice{text: "今天天气怎么样"}
	provider := &fakeProvider{}
	store := convo.NewStore(21, "系统提示")
	r := newTestRouter(t, Deps{Store: store, Provider: provider, Voice: voice}, Options{})

	reply := r.Handle(context.Background(), audioMessage("u1", "dl-7"))
	want := "🎤 您说：今天天气怎么样\n\n回答：今天天气怎么样"
	if reply != want {
		t.Fatalf("reply = %q, want %q", reply, want)
	}
	if got, want := voice.gotCode, "dl-7"; got != want {
		t.Errorf("download code = %q, want %q", got, want)
	}
	// Transcribed text entered the transcript like any text message.
	if got := store.Len("u1"); got != 3 {
		t.Errorf("transcript length = %d, want 3", got)
	}
}

func TestHandleAudioReportRouteSkipsEcho(t *testing.T) {
	voice := &fakeVoice{text: "帮我生成一份年度报告"}
	reporter := &fakeReporter{reply: "报告已生成完成！"}
	r := newTestRouter(t, Deps{Voice: voice, Reporter: reporter},
		Options{TriggerKeywords: []string{"报告"}})

	reply := r.Handle(context.Background(), audioMessage("u1", "dl-8"))
	if reply != "报告已生成完成！" {
		t.Fatalf("reply = %q", reply)
	}
	if strings.Contains(reply, "🎤") {
		t.Errorf("report reply should not carry the voice echo: %q", reply)
	}
	if got, want := reporter.gotTopic, "帮我生成一份年度报告"; got != want {
		t.Errorf("topic = %q, want %q", got, want)
	}
}

func TestHandleAudioFailureSentinelReturnsVerbatim(t *testing.T) {
	cases := []string{
		"抱歉，我没有听清您说的话。",
		"语音识别失败：上游超时",
		"",
	}
	for _, text := range cases {
		voice := &fakeVoice{text: text}
		provider := &fakeProvider{}
		r := newTestRouter(t, Deps{Provider: provider, Voice: voice}, Options{})

		reply := r.Handle(context.Background(), audioMessage("u1", "dl-9"))
		if reply != text {
			t.Errorf("reply = %q, want verbatim %q", reply, text)
		}
		if provider.calls != 0 {
			t.Errorf("text %q: provider called %d times, want 0", text, provider.calls)
		}
	}
}

func TestHandleAudioProcessError(t *testing.T) {
	voice := &fakeVoice{err: errors.New("download failed")}
	r := newTestRouter(t, Deps{Voice: voice}, Options{})

	reply := r.Handle(context.Background(), audioMessage("u1", "dl-10"))
	if reply != "抱歉，处理语音消息时出现错误。" {
		t.Fatalf("reply = %q", reply)
	}
}

func TestHandleUnsupportedType(t *testing.T) {
	r := newTestRouter(t, Deps{}, Options{})

	msg := dingtalk.InboundMessage{MsgType: "picture", SenderID: "u1"}
	reply := r.Handle(context.Background(), msg)
	if got, want := reply, "抱歉，暂不支持picture类型的消息。请发送文字或语音消息。"; got != want {
		t.Fatalf("reply = %q, want %q", got, want)
	}
}

func TestHandleArchivesChatExchange(t *testing.T) {
	arch := &fakeArchive{}
	r := newTestRouter(t, Deps{Archive: arch}, Options{})

	r.Handle(context.Background(), textMessage("u1", "你好"))
	if len(arch.saved) != 2 {
		t.Fatalf("archived %d records, want 2", len(arch.saved))
	}
	if arch.saved[0].Role != "user" || arch.saved[0].Content != "你好" {
		t.Errorf("record 0 = %+v, want user turn", arch.saved[0])
	}
	if arch.saved[1].Role != "assistant" {
		t.Errorf("record 1 role = %q, want assistant", arch.saved[1].Role)
	}
	if arch.saved[0].ConversationID != "cid-1" {
		t.Errorf("conversation id = %q, want cid-1", arch.saved[0].ConversationID)
	}
}

func TestHandleArchivesMaskedCopy(t *testing.T) {
	arch := &fakeArchive{}
	provider := &fakeProvider{}
	store := convo.NewStore(21, "系统提示")
	r := newTestRouter(t, Deps{Store: store, Provider: provider, Archive: arch}, Options{})

	reply := r.Handle(context.Background(), textMessage("u1", "我的手机号是13812345678"))

	// Reply and live transcript carry the original text.
	if !strings.Contains(reply, "13812345678") {
		t.Errorf("reply = %q, should keep the original number", reply)
	}
	if got := provider.got[1].Content; got != "我的手机号是13812345678" {
		t.Errorf("provider saw %q, want the unmasked message", got)
	}

	// The archive only ever sees the masked copy.
	if len(arch.saved) != 2 {
		t.Fatalf("archived %d records, want 2", len(arch.saved))
	}
	for _, rec := range arch.saved {
		if strings.Contains(rec.Content, "13812345678") {
			t.Errorf("%s record leaked the number: %q", rec.Role, rec.Content)
		}
		if !strings.Contains(rec.Content, "[REDACTED_PHONE]") {
			t.Errorf("%s record = %q, want phone mask", rec.Role, rec.Content)
		}
		if !rec.Redacted {
			t.Errorf("%s record should be flagged as redacted", rec.Role)
		}
	}
}

func TestHandleArchiveFailureDoesNotBreakReply(t *testing.T) {
	arch := &fakeArchive{saveErr: errors.New("db down")}
	r := newTestRouter(t, Deps{Archive: arch}, Options{})

	reply := r.Handle(context.Background(), textMessage("u1", "你好"))
	if reply != "回答：你好" {
		t.Fatalf("reply = %q, archive failure must stay invisible", reply)
	}
}

func TestClearHistory(t *testing.T) {
	store := convo.NewStore(21, "系统提示")
	r := newTestRouter(t, Deps{Store: store}, Options{})

	r.Handle(context.Background(), textMessage("u1", "你好"))
	if store.Len("u1") == 0 {
		t.Fatal("expected live transcript before clear")
	}
	r.ClearHistory("u1")
	if got := store.Len("u1"); got != 0 {
		t.Errorf("transcript length after clear = %d, want 0", got)
	}
}

func TestHistory(t *testing.T) {
	arch := &fakeArchive{}
	r := newTestRouter(t, Deps{Archive: arch}, Options{})

	r.Handle(context.Background(), textMessage("u1", "第一句"))
	records, err := r.History(context.Background(), "u1", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}

	none, err := r.History(context.Background(), "u2", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("u2 records = %d, want 0", len(none))
	}
}

func TestHistoryWithoutArchive(t *testing.T) {
	r := newTestRouter(t, Deps{}, Options{})

	records, err := r.History(context.Background(), "u1", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if records != nil {
		t.Errorf("records = %v, want nil", records)
	}
}

func TestNewRequiresCoreCollaborators(t *testing.T) {
	valid := Deps{
		Store:    convo.NewStore(21, ""),
		Provider: &fakeProvider{},
		Reporter: &fakeReporter{},
	}

	missingStore := valid
	missingStore.Store = nil
	if _, err := New(missingStore, Options{}); err == nil {
		t.Error("expected error for nil store")
	}

	missingProvider := valid
	missingProvider.Provider = nil
	if _, err := New(missingProvider, Options{}); err == nil {
		t.Error("expected error for nil provider")
	}

	missingReporter := valid
	missingReporter.Reporter = nil
	if _, err := New(missingReporter, Options{}); err == nil {
		t.Error("expected error for nil reporter")
	}
}
