package orchestrator

import (
	"strings"
	"testing"
	"time"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) NowUTC() time.Time { return c.now }

func meaningfulItem(ts time.Time, text string) TranscriptionItem {
	wc := len(strings.Fields(text))
	return TranscriptionItem{
		TimestampUtc: ts,
		Text:         text,
		IsMeaningful: wc >= 1,
		WordCount:    wc,
	}
}

// TestWakeAndQuestionInSingleUtterance covers spec.md §8 scenario (i).
func TestWakeAndQuestionInSingleUtterance(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	fsm := NewConversationFSM("margaret", 50*time.Millisecond, 500*time.Millisecond, clock, nil)

	var prompts []string
	fsm.OnPromptReady(func(p string) { prompts = append(prompts, p) })

	t0 := clock.now
	fsm.HandleTranscription(meaningfulItem(t0, "Hey Margaret, tell me about Greek cuisine"))
	if fsm.Mode() != ModeListening {
		t.Fatalf("expected Listening after wake+question, got %s", fsm.Mode())
	}

	fsm.Tick(t0.Add(80 * time.Millisecond))
	if fsm.Mode() != ModeProcessing {
		t.Fatalf("expected Processing after silence, got %s", fsm.Mode())
	}
	if len(prompts) != 1 || prompts[0] != "Hey Margaret, tell me about Greek cuisine" {
		t.Fatalf("unexpected prompts: %#v", prompts)
	}
}

// TestTwoUtteranceQuestion covers spec.md §8 scenario (ii).
func TestTwoUtteranceQuestion(t *testing.T) {
	clock := &fakeClock{now: time.Unix(2000, 0)}
	fsm := NewConversationFSM("hey", 50*time.Millisecond, 500*time.Millisecond, clock, nil)

	var prompts []string
	fsm.OnPromptReady(func(p string) { prompts = append(prompts, p) })

	t0 := clock.now
	fsm.HandleTranscription(meaningfulItem(t0, "hey there"))
	if fsm.Mode() != ModeListening {
		t.Fatalf("expected Listening, got %s", fsm.Mode())
	}

	fsm.HandleTranscription(meaningfulItem(t0.Add(10*time.Millisecond), "how are"))
	fsm.HandleTranscription(meaningfulItem(t0.Add(20*time.Millisecond), "you?"))
	fsm.Tick(t0.Add(70 * time.Millisecond))

	if fsm.Mode() != ModeProcessing {
		t.Fatalf("expected Processing, got %s", fsm.Mode())
	}
	if len(prompts) != 1 || prompts[0] != "hey there how are you?" {
		t.Fatalf("unexpected prompts: %#v", prompts)
	}

	fsm.EndProcessing()
	if fsm.Mode() != ModeListening {
		t.Fatalf("expected Listening after end_processing, got %s", fsm.Mode())
	}
}

// TestExtendedSilenceTimesOut covers spec.md §8 scenario (iii): a bare wake
// word with no trailing content must not be buffered, so the FSM times out
// to Quiescent via end_silence rather than firing processing_silence first.
func TestExtendedSilenceTimesOut(t *testing.T) {
	clock := &fakeClock{now: time.Unix(3000, 0)}
	fsm := NewConversationFSM("elara", 50*time.Millisecond, 120*time.Millisecond, clock, nil)

	var prompts []string
	fsm.OnPromptReady(func(p string) { prompts = append(prompts, p) })

	t0 := clock.now
	fsm.HandleTranscription(meaningfulItem(t0, "elara"))
	if fsm.Mode() != ModeListening {
		t.Fatalf("expected Listening, got %s", fsm.Mode())
	}

	fsm.Tick(t0.Add(130 * time.Millisecond))
	if fsm.Mode() != ModeQuiescent {
		t.Fatalf("expected Quiescent after end_silence, got %s", fsm.Mode())
	}
	if len(prompts) != 0 {
		t.Fatalf("expected no prompt_ready, got %#v", prompts)
	}
}

// TestSpeakingLifecycle covers spec.md §8 scenario (iv).
func TestSpeakingLifecycle(t *testing.T) {
	clock := &fakeClock{now: time.Unix(4000, 0)}
	fsm := NewConversationFSM("elara", 50*time.Millisecond, 500*time.Millisecond, clock, nil)

	fsm.HandleTranscription(meaningfulItem(clock.now, "elara tell me a joke"))
	if fsm.Mode() != ModeListening {
		t.Fatalf("expected Listening, got %s", fsm.Mode())
	}

	fsm.BeginSpeaking()
	if fsm.Mode() != ModeSpeaking {
		t.Fatalf("expected Speaking, got %s", fsm.Mode())
	}

	// Transcriptions arriving while Speaking are ignored.
	fsm.HandleTranscription(meaningfulItem(clock.now.Add(time.Second), "ignored"))
	if fsm.Mode() != ModeSpeaking {
		t.Fatalf("expected still Speaking, got %s", fsm.Mode())
	}

	fsm.EndSpeaking()
	if fsm.Mode() != ModeListening {
		t.Fatalf("expected Listening after end_speaking, got %s", fsm.Mode())
	}
}

// TestBeginSpeakingFromProcessing covers the real PromptOrchestrator call
// site: begin_speaking() is invoked while the FSM is still in Processing
// (the PromptReady handler runs after the Listening→Processing transition,
// with no intervening end_processing()).
func TestBeginSpeakingFromProcessing(t *testing.T) {
	clock := &fakeClock{now: time.Unix(4500, 0)}
	fsm := NewConversationFSM("elara", 50*time.Millisecond, 500*time.Millisecond, clock, nil)

	fsm.HandleTranscription(meaningfulItem(clock.now, "elara what time is it"))
	fsm.Tick(clock.now.Add(80 * time.Millisecond))
	if fsm.Mode() != ModeProcessing {
		t.Fatalf("expected Processing, got %s", fsm.Mode())
	}

	fsm.BeginSpeaking()
	if fsm.Mode() != ModeSpeaking {
		t.Fatalf("expected Speaking after begin_speaking from Processing, got %s", fsm.Mode())
	}

	fsm.EndSpeaking()
	if fsm.Mode() != ModeListening {
		t.Fatalf("expected Listening after end_speaking, got %s", fsm.Mode())
	}
}

// TestEndProcessingAndEndSpeakingAreIdempotent covers spec.md §8's
// round-trip/idempotence laws.
func TestEndProcessingAndEndSpeakingAreIdempotent(t *testing.T) {
	clock := &fakeClock{now: time.Unix(5000, 0)}
	fsm := NewConversationFSM("", 50*time.Millisecond, 500*time.Millisecond, clock, nil)

	var changes int
	fsm.OnStateChanged(func(from, to Mode, reason string, at time.Time) { changes++ })

	fsm.EndProcessing()
	fsm.EndSpeaking()
	if fsm.Mode() != ModeQuiescent {
		t.Fatalf("expected Quiescent (no-op calls), got %s", fsm.Mode())
	}
	if changes != 0 {
		t.Fatalf("expected no state changes from no-op calls, got %d", changes)
	}
}

// TestRepeatedTickIsIdempotent covers spec.md §8's tick idempotence law.
func TestRepeatedTickIsIdempotent(t *testing.T) {
	clock := &fakeClock{now: time.Unix(6000, 0)}
	fsm := NewConversationFSM("", 50*time.Millisecond, 500*time.Millisecond, clock, nil)

	fsm.HandleTranscription(meaningfulItem(clock.now, "hello there"))
	now := clock.now.Add(10 * time.Millisecond)

	var changes int
	fsm.OnStateChanged(func(from, to Mode, reason string, at time.Time) { changes++ })

	fsm.Tick(now)
	fsm.Tick(now)
	fsm.Tick(now)
	if changes != 0 {
		t.Fatalf("expected repeated tick(now) to be a no-op, got %d changes", changes)
	}
}

// TestNoWakeWordDisablesGating exercises the empty-wake_word path: any
// meaningful utterance transitions Quiescent→Listening directly.
func TestNoWakeWordDisablesGating(t *testing.T) {
	clock := &fakeClock{now: time.Unix(7000, 0)}
	fsm := NewConversationFSM("", 50*time.Millisecond, 500*time.Millisecond, clock, nil)

	fsm.HandleTranscription(meaningfulItem(clock.now, "turn on the lights"))
	if fsm.Mode() != ModeListening {
		t.Fatalf("expected Listening with wake word disabled, got %s", fsm.Mode())
	}
}

// TestNonMeaningfulItemsAreIgnoredInQuiescent ensures empty/non-meaningful
// transcriptions never move the FSM out of Quiescent.
func TestNonMeaningfulItemsAreIgnoredInQuiescent(t *testing.T) {
	clock := &fakeClock{now: time.Unix(8000, 0)}
	fsm := NewConversationFSM("elara", 50*time.Millisecond, 500*time.Millisecond, clock, nil)

	fsm.HandleTranscription(TranscriptionItem{TimestampUtc: clock.now, Text: "", IsMeaningful: false})
	if fsm.Mode() != ModeQuiescent {
		t.Fatalf("expected Quiescent, got %s", fsm.Mode())
	}
}

// TestPanickingSubscriberDoesNotDestabilizeFSM covers the failure semantics
// of spec.md §4.6: subscriber exceptions are swallowed and logged.
func TestPanickingSubscriberDoesNotDestabilizeFSM(t *testing.T) {
	clock := &fakeClock{now: time.Unix(9000, 0)}
	fsm := NewConversationFSM("", 50*time.Millisecond, 500*time.Millisecond, clock, nil)

	fsm.OnStateChanged(func(from, to Mode, reason string, at time.Time) {
		panic("subscriber exploded")
	})

	fsm.HandleTranscription(meaningfulItem(clock.now, "hello"))
	if fsm.Mode() != ModeListening {
		t.Fatalf("expected Listening despite panicking subscriber, got %s", fsm.Mode())
	}
}
