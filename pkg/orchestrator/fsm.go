package orchestrator

import (
	"strings"
	"sync"
	"time"
	"unicode"
)

// Mode is the ConversationFSM's tagged state enumeration (spec.md §4.6).
// Exactly one Mode is active at any time.
type Mode string

const (
	ModeQuiescent  Mode = "Quiescent"
	ModeListening  Mode = "Listening"
	ModeProcessing Mode = "Processing"
	ModeSpeaking   Mode = "Speaking"
)

// PromptReadyHandler is invoked exactly once per Listening→Processing
// transition with a non-empty buffer, carrying the composed prompt.
type PromptReadyHandler func(prompt string)

// StateChangedHandler is invoked on every ConversationFSM transition.
type StateChangedHandler func(from, to Mode, reason string, at time.Time)

type stateChangeEvent struct {
	from, to Mode
	reason   string
	at       time.Time
}

// ConversationFSM is the wake-word-gated state machine of spec.md §4.6. It
// buffers meaningful TranscriptionItems while Listening and composes a
// single space-joined prompt per turn. Modeled on the mutex-guarded
// isSpeaking/isThinking bookkeeping of the teacher's ManagedStream,
// generalized from VAD-barge-in semantics to the four-mode machine this
// spec requires. All mutations happen under a single mutex; handlers are
// invoked outside it so a slow or misbehaving subscriber never blocks a
// state transition.
type ConversationFSM struct {
	mu sync.Mutex

	wakeWord          string
	processingSilence time.Duration
	endSilence        time.Duration
	clock             Clock
	logger            Logger

	mode Mode

	buffer               []TranscriptionItem
	listeningSince       time.Time
	lastHeard            time.Time
	processingConsidered bool

	promptHandlers []PromptReadyHandler
	stateHandlers  []StateChangedHandler
}

// NewConversationFSM builds a ConversationFSM in the Quiescent state. A nil
// clock defaults to RealClock; a nil logger defaults to NoOpLogger.
func NewConversationFSM(wakeWord string, processingSilence, endSilence time.Duration, clock Clock, logger Logger) *ConversationFSM {
	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &ConversationFSM{
		wakeWord:          wakeWord,
		processingSilence: processingSilence,
		endSilence:        endSilence,
		clock:             clock,
		logger:            logger,
		mode:              ModeQuiescent,
	}
}

// Mode returns the current mode under the same mutual-exclusion discipline
// that protects every other externally observable field.
func (f *ConversationFSM) Mode() Mode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode
}

// OnPromptReady registers a handler for the prompt_ready event.
func (f *ConversationFSM) OnPromptReady(h PromptReadyHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.promptHandlers = append(f.promptHandlers, h)
}

// OnStateChanged registers a handler for the state_changed event.
func (f *ConversationFSM) OnStateChanged(h StateChangedHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stateHandlers = append(f.stateHandlers, h)
}

func (f *ConversationFSM) matchesWakeWord(text string) bool {
	if f.wakeWord == "" {
		return true
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(f.wakeWord))
}

// hasExtraContent reports whether text carries meaningful content beyond a
// bare wake-word utterance. Resolves Open Question 1 of spec.md §9 in favor
// of the preserving variant: a wake-word-bearing utterance that also poses
// a question is buffered verbatim; a bare wake word (e.g. "Margaret!" with
// wake word "margaret") is consumed as the wake trigger only and never
// enters the buffer. Any other word left after removing the wake word,
// such as the "hey" in "hey margaret", counts as extra content.
func hasExtraContent(text, wakeWord string) bool {
	if wakeWord == "" {
		return true
	}
	lower := strings.ToLower(text)
	lw := strings.ToLower(wakeWord)
	idx := strings.Index(lower, lw)
	remainder := text
	if idx >= 0 {
		remainder = text[:idx] + text[idx+len(lw):]
	}
	trimmed := strings.TrimFunc(remainder, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
	return trimmed != ""
}

func joinBuffer(buffer []TranscriptionItem) string {
	parts := make([]string, len(buffer))
	for i, item := range buffer {
		parts[i] = item.Text
	}
	return strings.Join(parts, " ")
}

// HandleTranscription feeds one admitted TranscriptionItem into the FSM.
// Items already filtered by SuppressionGate still pass through the
// Processing/Speaking drop rule here as defense in depth (invariant 4 of
// spec.md §8).
func (f *ConversationFSM) HandleTranscription(item TranscriptionItem) {
	f.mu.Lock()
	var changes []stateChangeEvent

	switch f.mode {
	case ModeQuiescent:
		if item.IsMeaningful && f.matchesWakeWord(item.Text) {
			changes = append(changes, stateChangeEvent{f.mode, ModeListening, "wake_word", item.TimestampUtc})
			f.mode = ModeListening
			f.listeningSince = item.TimestampUtc
			f.processingConsidered = false
			if hasExtraContent(item.Text, f.wakeWord) {
				f.buffer = []TranscriptionItem{item}
				f.lastHeard = item.TimestampUtc
			} else {
				f.buffer = nil
				f.lastHeard = time.Time{}
			}
		}
	case ModeListening:
		if item.IsMeaningful {
			f.buffer = append(f.buffer, item)
			f.lastHeard = item.TimestampUtc
			f.processingConsidered = false
		}
	case ModeProcessing, ModeSpeaking:
		// Dropped: spec.md §4.6's transition table and invariant 4.
	}

	f.mu.Unlock()
	f.dispatchStateChanges(changes)
}

// Tick advances silence timers. Repeated calls with the same now are
// idempotent (spec.md §8): if no threshold has newly crossed, nothing
// observable changes.
func (f *ConversationFSM) Tick(now time.Time) {
	f.mu.Lock()
	var changes []stateChangeEvent
	var prompt string
	havePrompt := false

	if f.mode == ModeListening {
		if !f.lastHeard.IsZero() && !f.processingConsidered && now.Sub(f.lastHeard) >= f.processingSilence {
			if len(f.buffer) > 0 {
				prompt = joinBuffer(f.buffer)
				havePrompt = true
				changes = append(changes, stateChangeEvent{f.mode, ModeProcessing, "processing_silence", now})
				f.mode = ModeProcessing
				f.buffer = nil
			} else {
				f.processingConsidered = true
			}
		}

		if f.mode == ModeListening && !f.listeningSince.IsZero() && now.Sub(f.listeningSince) >= f.endSilence {
			changes = append(changes, stateChangeEvent{f.mode, ModeQuiescent, "end_silence", now})
			f.mode = ModeQuiescent
			f.buffer = nil
			f.listeningSince = time.Time{}
			f.lastHeard = time.Time{}
			f.processingConsidered = false
		}
	}

	f.mu.Unlock()
	f.dispatchStateChanges(changes)
	if havePrompt {
		f.dispatchPromptReady(prompt)
	}
}

// BeginSpeaking transitions to Speaking, clearing the buffer. Valid from
// Listening (spec.md §8 scenario iv exercises the FSM directly, skipping
// Processing) and from Processing (the real PromptOrchestrator call site:
// §4.7 step 6 runs while PromptReady's Listening→Processing transition is
// still current, and calls begin_speaking() without an intervening
// end_processing()). A no-op from any other mode.
func (f *ConversationFSM) BeginSpeaking() {
	f.mu.Lock()
	var changes []stateChangeEvent
	if f.mode == ModeListening || f.mode == ModeProcessing {
		changes = append(changes, stateChangeEvent{f.mode, ModeSpeaking, "begin_speaking", f.clock.NowUTC()})
		f.mode = ModeSpeaking
		f.buffer = nil
	}
	f.mu.Unlock()
	f.dispatchStateChanges(changes)
}

// EndSpeaking transitions Speaking→Listening and resets the silence anchors
// so a fresh listening episode begins. A no-op outside Speaking.
func (f *ConversationFSM) EndSpeaking() {
	f.mu.Lock()
	var changes []stateChangeEvent
	if f.mode == ModeSpeaking {
		now := f.clock.NowUTC()
		changes = append(changes, stateChangeEvent{f.mode, ModeListening, "end_speaking", now})
		f.mode = ModeListening
		f.listeningSince = now
		f.lastHeard = time.Time{}
		f.processingConsidered = false
	}
	f.mu.Unlock()
	f.dispatchStateChanges(changes)
}

// EndProcessing transitions Processing→Listening and resets the silence
// anchors. A no-op outside Processing.
func (f *ConversationFSM) EndProcessing() {
	f.mu.Lock()
	var changes []stateChangeEvent
	if f.mode == ModeProcessing {
		now := f.clock.NowUTC()
		changes = append(changes, stateChangeEvent{f.mode, ModeListening, "end_processing", now})
		f.mode = ModeListening
		f.listeningSince = now
		f.lastHeard = time.Time{}
		f.processingConsidered = false
	}
	f.mu.Unlock()
	f.dispatchStateChanges(changes)
}

func (f *ConversationFSM) dispatchStateChanges(changes []stateChangeEvent) {
	if len(changes) == 0 {
		return
	}
	f.mu.Lock()
	handlers := append([]StateChangedHandler(nil), f.stateHandlers...)
	f.mu.Unlock()

	for _, c := range changes {
		for _, h := range handlers {
			f.safeCall(func() { h(c.from, c.to, c.reason, c.at) })
		}
	}
}

func (f *ConversationFSM) dispatchPromptReady(prompt string) {
	f.mu.Lock()
	handlers := append([]PromptReadyHandler(nil), f.promptHandlers...)
	f.mu.Unlock()

	for _, h := range handlers {
		f.safeCall(func() { h(prompt) })
	}
}

// safeCall swallows and logs a panicking subscriber so it never destabilizes
// the FSM (spec.md §4.6's failure semantics).
func (f *ConversationFSM) safeCall(call func()) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("conversation fsm subscriber panicked", "recover", r)
		}
	}()
	call()
}
