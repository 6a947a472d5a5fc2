package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// MessageAppender is the narrow persistence capability PromptOrchestrator
// needs from ConversationStore. Declared here rather than imported to avoid
// a package cycle (pkg/store imports pkg/orchestrator for ChatMessage).
type MessageAppender interface {
	Append(msg ChatMessage) error
}

// PromptOrchestratorConfig is the host-facing subset of Config the
// orchestrator needs: the system prompt, how much context to pull per
// turn, and reply-cleanup regexes run over the LLM's raw output.
type PromptOrchestratorConfig struct {
	SystemPrompt string
	LastN        int
	ReplyFilters []string
}

// PromptOrchestrator drives one turn per spec.md §4.7: persist the user
// message, fetch context, call the language model, persist the reply, then
// optionally speak it, driving the FSM back to Listening throughout.
// Grounded on the teacher's Orchestrator.ProcessAudioStream and
// ManagedStream.runLLMAndTTS transcribe→append→context→LLM→append→TTS
// sequencing, adapted to this spec's explicit step list and
// error-recovery-to-Listening rule. The FSM has no back-pointer to this
// type (design note in spec.md §9): it only subscribes to prompt_ready and
// calls the FSM's own methods.
type PromptOrchestrator struct {
	fsm             *ConversationFSM
	store           MessageAppender
	contextProvider ContextProvider
	llm             LanguageModel
	tts             TextToSpeech
	clock           Clock
	logger          Logger

	systemPrompt string
	lastN        int
	replyFilters []*regexp.Regexp
}

// NewPromptOrchestrator builds a PromptOrchestrator and subscribes it to
// fsm's prompt_ready event. Each prompt is handled on a detached goroutine
// so the FSM's synchronous consumer loop is never blocked by a model call
// (spec.md §5).
func NewPromptOrchestrator(
	fsm *ConversationFSM,
	store MessageAppender,
	contextProvider ContextProvider,
	llm LanguageModel,
	tts TextToSpeech,
	cfg PromptOrchestratorConfig,
	clock Clock,
	logger Logger,
) (*PromptOrchestrator, error) {
	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = &NoOpLogger{}
	}

	filters := make([]*regexp.Regexp, 0, len(cfg.ReplyFilters))
	for _, pattern := range cfg.ReplyFilters {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile reply filter %q: %w", pattern, err)
		}
		filters = append(filters, re)
	}

	lastN := cfg.LastN
	if lastN <= 0 {
		lastN = 6
	}

	po := &PromptOrchestrator{
		fsm:             fsm,
		store:           store,
		contextProvider: contextProvider,
		llm:             llm,
		tts:             tts,
		clock:           clock,
		logger:          logger,
		systemPrompt:    cfg.SystemPrompt,
		lastN:           lastN,
		replyFilters:    filters,
	}

	fsm.OnPromptReady(func(prompt string) {
		go po.HandlePromptReady(context.Background(), prompt)
	})

	return po, nil
}

// HandlePromptReady runs the full turn sequence of spec.md §4.7. It is
// exported so a host can also invoke it directly (e.g. from a test harness
// bypassing the FSM event bus).
func (p *PromptOrchestrator) HandlePromptReady(ctx context.Context, prompt string) {
	now := p.clock.NowUTC()
	userMsg := ChatMessage{Role: RoleUser, Content: prompt, TimestampUtc: now}
	if err := p.store.Append(userMsg); err != nil {
		p.logger.Error("failed to persist user message", "error", err)
		p.recoverToListening()
		return
	}

	history, err := p.contextProvider.GetContext(ctx, prompt, p.lastN)
	if err != nil {
		p.logger.Error("failed to fetch conversation context", "error", err)
		p.recoverToListening()
		return
	}

	structured := StructuredPrompt{
		SystemPrompt: p.systemPrompt,
		Context:      toPromptMessages(history),
		User:         PromptMessage{Role: RoleUser, Content: prompt},
		NowUtc:       now,
	}

	reply, err := p.llm.GetResponse(ctx, structured)
	if err != nil {
		p.logger.Error("language model request failed", "error", err)
		p.recoverToListening()
		return
	}
	reply = p.filterReply(reply)

	assistantMsg := ChatMessage{Role: RoleAssistant, Content: reply, TimestampUtc: p.clock.NowUTC()}
	if err := p.store.Append(assistantMsg); err != nil {
		p.logger.Error("failed to persist assistant message", "error", err)
		p.recoverToListening()
		return
	}

	if p.tts != nil {
		p.fsm.BeginSpeaking()
		if err := p.tts.SpeakDefault(ctx, reply); err != nil {
			p.logger.Error("text-to-speech failed", "error", err)
		}
		p.fsm.EndSpeaking()
		return
	}
	p.fsm.EndProcessing()
}

// recoverToListening implements spec.md §4.7 step 7 and §7's LLM/store
// failure policy: the FSM always returns to Listening, via end_speaking if
// Speaking was already entered, otherwise via end_processing.
func (p *PromptOrchestrator) recoverToListening() {
	if p.fsm.Mode() == ModeSpeaking {
		p.fsm.EndSpeaking()
		return
	}
	p.fsm.EndProcessing()
}

func (p *PromptOrchestrator) filterReply(reply string) string {
	for _, re := range p.replyFilters {
		reply = re.ReplaceAllString(reply, "")
	}
	return strings.TrimSpace(reply)
}

func toPromptMessages(msgs []ChatMessage) []PromptMessage {
	out := make([]PromptMessage, len(msgs))
	for i, m := range msgs {
		out[i] = PromptMessage{Role: m.Role, Content: m.Content}
	}
	return out
}
