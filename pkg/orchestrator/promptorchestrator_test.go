package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeAppender struct {
	mu       sync.Mutex
	messages []ChatMessage
	failOn   Role
}

func (a *fakeAppender) Append(msg ChatMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failOn != "" && msg.Role == a.failOn {
		return errors.New("append failed")
	}
	a.messages = append(a.messages, msg)
	return nil
}

func (a *fakeAppender) snapshot() []ChatMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]ChatMessage(nil), a.messages...)
}

type fakeContextProvider struct {
	history []ChatMessage
	err     error
}

func (c *fakeContextProvider) GetContext(ctx context.Context, prompt string, n int) ([]ChatMessage, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.history, nil
}

type fakeLanguageModel struct {
	reply string
	err   error
}

func (m *fakeLanguageModel) GetResponse(ctx context.Context, prompt StructuredPrompt) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.reply, nil
}

func (m *fakeLanguageModel) Name() string { return "fake-llm" }

type fakeTextToSpeech struct {
	mu     sync.Mutex
	spoken []string
	err    error
}

func (s *fakeTextToSpeech) SpeakDefault(ctx context.Context, text string) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	s.spoken = append(s.spoken, text)
	s.mu.Unlock()
	return nil
}

func (s *fakeTextToSpeech) Name() string { return "fake-tts" }

func waitForMode(t *testing.T, fsm *ConversationFSM, mode Mode) {
	t.Helper()
	deadline := time.After(time.Second)
	for fsm.Mode() != mode {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for mode %s, currently %s", mode, fsm.Mode())
		case <-time.After(time.Millisecond):
		}
	}
}

func TestPromptOrchestratorEndToEndWithoutTTS(t *testing.T) {
	fsm := NewConversationFSM("", 0, time.Hour, nil, nil)
	appender := &fakeAppender{}
	ctxProvider := &fakeContextProvider{}
	llm := &fakeLanguageModel{reply: "  the answer is four  "}

	_, err := NewPromptOrchestrator(fsm, appender, ctxProvider, llm, nil, PromptOrchestratorConfig{
		SystemPrompt: "be helpful",
		LastN:        4,
	}, nil, nil)
	if err != nil {
		t.Fatalf("NewPromptOrchestrator: %v", err)
	}

	now := time.Now()
	fsm.HandleTranscription(meaningfulItem(now, "what is two plus two"))
	fsm.Tick(now)
	waitForMode(t, fsm, ModeListening)

	msgs := appender.snapshot()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 persisted messages, got %d: %+v", len(msgs), msgs)
	}
	if msgs[0].Role != RoleUser || msgs[0].Content != "what is two plus two" {
		t.Fatalf("unexpected user message: %+v", msgs[0])
	}
	if msgs[1].Role != RoleAssistant || msgs[1].Content != "the answer is four" {
		t.Fatalf("unexpected assistant message: %+v", msgs[1])
	}
}

func TestPromptOrchestratorSpeaksWhenTTSConfigured(t *testing.T) {
	fsm := NewConversationFSM("", 0, time.Hour, nil, nil)
	appender := &fakeAppender{}
	ctxProvider := &fakeContextProvider{}
	llm := &fakeLanguageModel{reply: "it is sunny"}
	tts := &fakeTextToSpeech{}

	_, err := NewPromptOrchestrator(fsm, appender, ctxProvider, llm, tts, PromptOrchestratorConfig{}, nil, nil)
	if err != nil {
		t.Fatalf("NewPromptOrchestrator: %v", err)
	}

	now := time.Now()
	fsm.HandleTranscription(meaningfulItem(now, "what is the weather"))
	fsm.Tick(now)
	waitForMode(t, fsm, ModeListening)

	tts.mu.Lock()
	defer tts.mu.Unlock()
	if len(tts.spoken) != 1 || tts.spoken[0] != "it is sunny" {
		t.Fatalf("expected TTS to speak the reply, got %+v", tts.spoken)
	}
}

func TestPromptOrchestratorRecoversToListeningOnLLMFailure(t *testing.T) {
	fsm := NewConversationFSM("", 0, time.Hour, nil, nil)
	appender := &fakeAppender{}
	ctxProvider := &fakeContextProvider{}
	llm := &fakeLanguageModel{err: errors.New("model unavailable")}

	_, err := NewPromptOrchestrator(fsm, appender, ctxProvider, llm, nil, PromptOrchestratorConfig{}, nil, nil)
	if err != nil {
		t.Fatalf("NewPromptOrchestrator: %v", err)
	}

	now := time.Now()
	fsm.HandleTranscription(meaningfulItem(now, "tell me something"))
	fsm.Tick(now)
	waitForMode(t, fsm, ModeListening)

	msgs := appender.snapshot()
	if len(msgs) != 1 {
		t.Fatalf("expected only the user message persisted, got %+v", msgs)
	}
}

func TestPromptOrchestratorRecoversToListeningOnStoreWriteFailure(t *testing.T) {
	fsm := NewConversationFSM("", 0, time.Hour, nil, nil)
	appender := &fakeAppender{failOn: RoleUser}
	ctxProvider := &fakeContextProvider{}
	llm := &fakeLanguageModel{reply: "unreachable"}

	_, err := NewPromptOrchestrator(fsm, appender, ctxProvider, llm, nil, PromptOrchestratorConfig{}, nil, nil)
	if err != nil {
		t.Fatalf("NewPromptOrchestrator: %v", err)
	}

	now := time.Now()
	fsm.HandleTranscription(meaningfulItem(now, "hello there"))
	fsm.Tick(now)
	waitForMode(t, fsm, ModeListening)
}

func TestPromptOrchestratorRecoversViaEndSpeakingWhenTTSFails(t *testing.T) {
	fsm := NewConversationFSM("", 0, time.Hour, nil, nil)
	appender := &fakeAppender{}
	ctxProvider := &fakeContextProvider{}
	llm := &fakeLanguageModel{reply: "here goes"}
	tts := &fakeTextToSpeech{err: errors.New("device busy")}

	_, err := NewPromptOrchestrator(fsm, appender, ctxProvider, llm, tts, PromptOrchestratorConfig{}, nil, nil)
	if err != nil {
		t.Fatalf("NewPromptOrchestrator: %v", err)
	}

	now := time.Now()
	fsm.HandleTranscription(meaningfulItem(now, "say something"))
	fsm.Tick(now)
	// Speaking begins even though playback then fails; the FSM still must
	// land back in Listening rather than being stuck in Speaking.
	waitForMode(t, fsm, ModeListening)
}

func TestPromptOrchestratorAppliesReplyFilters(t *testing.T) {
	fsm := NewConversationFSM("", 0, time.Hour, nil, nil)
	appender := &fakeAppender{}
	ctxProvider := &fakeContextProvider{}
	llm := &fakeLanguageModel{reply: "Sure! [disclaimer: I am an AI] here you go"}

	_, err := NewPromptOrchestrator(fsm, appender, ctxProvider, llm, nil, PromptOrchestratorConfig{
		ReplyFilters: []string{`\[disclaimer:[^\]]*\]`},
	}, nil, nil)
	if err != nil {
		t.Fatalf("NewPromptOrchestrator: %v", err)
	}

	now := time.Now()
	fsm.HandleTranscription(meaningfulItem(now, "can you help"))
	fsm.Tick(now)
	waitForMode(t, fsm, ModeListening)

	msgs := appender.snapshot()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %+v", msgs)
	}
	if msgs[1].Content != "Sure!  here you go" {
		t.Fatalf("expected disclaimer stripped, got %q", msgs[1].Content)
	}
}

func TestNewPromptOrchestratorRejectsInvalidReplyFilter(t *testing.T) {
	fsm := NewConversationFSM("", 0, time.Hour, nil, nil)
	_, err := NewPromptOrchestrator(fsm, &fakeAppender{}, &fakeContextProvider{}, &fakeLanguageModel{}, nil, PromptOrchestratorConfig{
		ReplyFilters: []string{"(unclosed"},
	}, nil, nil)
	if err == nil {
		t.Fatal("expected an error for an invalid regex filter")
	}
}
