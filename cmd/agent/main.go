package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/elara-ai/elara-core/pkg/audio"
	"github.com/elara-ai/elara-core/pkg/config"
	"github.com/elara-ai/elara-core/pkg/elog"
	"github.com/elara-ai/elara-core/pkg/orchestrator"
	llmProvider "github.com/elara-ai/elara-core/pkg/providers/llm"
	sttProvider "github.com/elara-ai/elara-core/pkg/providers/stt"
	ttsProvider "github.com/elara-ai/elara-core/pkg/providers/tts"
	"github.com/elara-ai/elara-core/pkg/segmenter"
	"github.com/elara-ai/elara-core/pkg/store"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "Path to the YAML configuration file. Empty uses built-in defaults.")
	logLevel := pflag.StringP("log-level", "l", "info", "Log level: debug, info, warn, error.")
	dryRun := pflag.BoolP("dry-run", "n", false, "Load configuration and providers, then exit without opening an audio device.")
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, using system environment variables")
	}

	level, err := elog.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	logger := elog.New(level)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	groqKey := os.Getenv("GROQ_API_KEY")
	openaiKey := os.Getenv("OPENAI_API_KEY")
	anthropicKey := os.Getenv("ANTHROPIC_API_KEY")
	googleKey := os.Getenv("GOOGLE_API_KEY")
	deepgramKey := os.Getenv("DEEPGRAM_API_KEY")
	assemblyKey := os.Getenv("ASSEMBLYAI_API_KEY")
	lokutorKey := os.Getenv("LOKUTOR_API_KEY")

	sttProviderName := os.Getenv("STT_PROVIDER")
	if sttProviderName == "" {
		sttProviderName = "groq"
	}
	llmProviderName := os.Getenv("LLM_PROVIDER")
	if llmProviderName == "" {
		llmProviderName = "groq"
	}

	var stt orchestrator.SpeechToText
	switch sttProviderName {
	case "openai":
		if openaiKey == "" {
			log.Fatal("Error: OPENAI_API_KEY must be set for openai STT")
		}
		stt = sttProvider.NewOpenAISTT(openaiKey, "whisper-1")
	case "deepgram":
		if deepgramKey == "" {
			log.Fatal("Error: DEEPGRAM_API_KEY must be set for deepgram STT")
		}
		stt = sttProvider.NewDeepgramSTT(deepgramKey)
	case "assemblyai":
		if assemblyKey == "" {
			log.Fatal("Error: ASSEMBLYAI_API_KEY must be set for assemblyai STT")
		}
		stt = sttProvider.NewAssemblyAISTT(assemblyKey)
	case "groq":
		fallthrough
	default:
		if groqKey == "" {
			log.Fatal("Error: GROQ_API_KEY must be set for groq STT")
		}
		groqModel := os.Getenv("GROQ_STT_MODEL")
		if groqModel == "" {
			groqModel = "whisper-large-v3-turbo"
		}
		stt = sttProvider.NewGroqSTT(groqKey, groqModel)
	}

	var llm orchestrator.LanguageModel
	switch llmProviderName {
	case "openai":
		if openaiKey == "" {
			log.Fatal("Error: OPENAI_API_KEY must be set for openai LLM")
		}
		llm = llmProvider.NewOpenAILLM(openaiKey, "gpt-4o")
	case "anthropic":
		if anthropicKey == "" {
			log.Fatal("Error: ANTHROPIC_API_KEY must be set for anthropic LLM")
		}
		llm = llmProvider.NewAnthropicLLM(anthropicKey, "claude-3-5-sonnet-20241022")
	case "google":
		if googleKey == "" {
			log.Fatal("Error: GOOGLE_API_KEY must be set for google LLM")
		}
		llm = llmProvider.NewGoogleLLM(googleKey, "gemini-1.5-flash")
	case "groq":
		fallthrough
	default:
		if groqKey == "" {
			log.Fatal("Error: GROQ_API_KEY must be set for groq LLM")
		}
		llm = llmProvider.NewGroqLLM(groqKey, "llama-3.3-70b-versatile")
	}

	conversationStore, err := store.New(cfg.StorageRoot, cfg.EncryptionKey)
	if err != nil {
		log.Fatalf("Error opening conversation store: %v", err)
	}

	fmt.Printf("Configured: STT=%s | LLM=%s | TTS=Lokutor | wake word=%q\n", sttProviderName, llmProviderName, cfg.WakeWord)
	if *dryRun {
		fmt.Println("Dry run requested; configuration and providers loaded successfully.")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	device := newDuplexDevice(cfg)
	defer device.Close()

	var tts *ttsProvider.LokutorTTS
	if lokutorKey != "" {
		tts = ttsProvider.NewLokutorTTS(lokutorKey, device)
	} else {
		logger.Warn("LOKUTOR_API_KEY not set; replies will be generated but not spoken")
	}

	clock := orchestrator.RealClock{}
	fsm := orchestrator.NewConversationFSM(
		cfg.WakeWord,
		time.Duration(cfg.ProcessingSilenceSeconds*float64(time.Second)),
		time.Duration(cfg.EndSilenceSeconds*float64(time.Second)),
		clock,
		logger,
	)

	gate := orchestrator.NewSuppressionGate(time.Duration(cfg.TailGraceMs) * time.Millisecond)
	orchestrator.WireSuppressionGate(fsm, gate)

	fsm.OnStateChanged(func(from, to orchestrator.Mode, reason string, at time.Time) {
		fmt.Printf("\r\033[K[%s] %s -> %s (%s)\n", at.Format(time.RFC3339), from, to, reason)
	})

	poCfg := orchestrator.PromptOrchestratorConfig{
		SystemPrompt: "You are a helpful and concise voice assistant. Use short sentences suitable for speech.",
		LastN:        cfg.LastN,
	}
	var ttsCollaborator orchestrator.TextToSpeech
	if tts != nil {
		ttsCollaborator = tts
	}
	if _, err := orchestrator.NewPromptOrchestrator(fsm, conversationStore, conversationStore, llm, ttsCollaborator, poCfg, clock, logger); err != nil {
		log.Fatalf("Error building prompt orchestrator: %v", err)
	}

	transcriber := orchestrator.NewTranscriber(stt, cfg.SilenceRMSThreshold, cfg.MinWords, logger)
	assembler := audio.NewFrameAssembler(cfg.FrameBytes())

	var metricsSink segmenter.MetricsSink
	if cfg.EnableMetrics {
		metricsSink = elog.NewSegmenterMetricsSink(logger)
	}
	seg := segmenter.New(cfg.SegmenterConfig(), segmenterClock{clock}, metricsSink)

	audioChunks := orchestrator.NewDropOldestQueue[*segmenter.AudioChunk](cfg.AudioQueueCapacity)
	transcriptions := orchestrator.NewDropOldestQueue[*orchestrator.TranscriptionItem](cfg.TranscriptionQueueCapacity)

	frames, err := device.Frames(ctx)
	if err != nil {
		log.Fatalf("Error starting capture: %v", err)
	}

	// T1: capture frames -> FrameAssembler -> Segmenter -> audio_chunks queue.
	go func() {
		for buf := range frames {
			for _, frame := range assembler.Push(buf) {
				if chunk := seg.ProcessFrame(frame.Data); chunk != nil {
					audioChunks.Push(chunk)
				}
			}
		}
	}()

	// T2: transcriber drains audio_chunks into transcriptions.
	go transcriber.Run(ctx, audioChunks.Chan(), transcriptionSink(ctx, transcriptions))

	// T3: FSM consumer drains transcriptions through the suppression gate.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case item, ok := <-transcriptions.Chan():
				if !ok {
					return
				}
				if gate.Admit(item.TimestampUtc) {
					fsm.HandleTranscription(*item)
				}
			}
		}
	}()

	// T4: ticker advances silence timers even when nothing new arrives.
	go orchestrator.RunTicker(ctx, time.Duration(cfg.TickerIntervalMs)*time.Millisecond, fsm, clock)

	fmt.Println("Voice agent started. Listening to microphone...")
	fmt.Println("Press Ctrl+C to exit")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	cancel()
	fmt.Printf("\nShutting down...\n")
}

// segmenterClock adapts orchestrator.Clock to segmenter.Clock. The two
// packages declare identical-shaped but distinct Clock interfaces so
// pkg/segmenter never imports pkg/orchestrator; a host wiring both together
// needs this one-line bridge.
type segmenterClock struct {
	orchestrator.Clock
}

func (c segmenterClock) NowUTC() time.Time { return c.Clock.NowUTC() }

// transcriptionSink returns a send-only channel backed by a forwarding
// goroutine, so Transcriber.Run (which writes to a plain chan<- T) can feed a
// DropOldestQueue without the queue exposing its internal channel for writes.
// The goroutine exits once ctx is cancelled and Run stops sending.
func transcriptionSink(ctx context.Context, q *orchestrator.DropOldestQueue[*orchestrator.TranscriptionItem]) chan<- *orchestrator.TranscriptionItem {
	ch := make(chan *orchestrator.TranscriptionItem)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case item, ok := <-ch:
				if !ok {
					return
				}
				q.Push(item)
			}
		}
	}()
	return ch
}

// duplexDevice wraps a malgo duplex audio device, implementing both
// orchestrator.AudioSource (the capture half) and tts.Player (the playback
// half) over the single device the host opens. Grounded on the teacher's
// onSamples callback and shared playbackBytes buffer in the original
// cmd/agent/main.go, split across the two narrow interfaces the new
// architecture asks a host to satisfy.
type duplexDevice struct {
	cfg    orchestrator.Config
	mctx   *malgo.AllocatedContext
	device *malgo.Device

	captureOnce sync.Once
	frames      chan []byte

	playbackMu   sync.Mutex
	playbackBuf  []byte
	playbackDone chan struct{}

	botPlayingMu sync.Mutex
	lastPlayedAt time.Time
}

func newDuplexDevice(cfg orchestrator.Config) *duplexDevice {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		log.Fatal(err)
	}

	d := &duplexDevice{
		cfg:    cfg,
		mctx:   mctx,
		frames: make(chan []byte, cfg.AudioQueueCapacity),
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Duplex)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(cfg.Channels)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: d.onSamples,
	})
	if err != nil {
		log.Fatal(err)
	}
	d.device = device

	if err := device.Start(); err != nil {
		log.Fatal(err)
	}

	return d
}

// Frames implements orchestrator.AudioSource. Only one consumer may call it;
// the returned channel is closed when ctx is cancelled.
func (d *duplexDevice) Frames(ctx context.Context) (<-chan []byte, error) {
	d.captureOnce.Do(func() {
		go func() {
			<-ctx.Done()
			close(d.frames)
		}()
	})
	return d.frames, nil
}

// Play implements tts.Player, blocking until the device has drained pcm
// through the playback callback.
func (d *duplexDevice) Play(ctx context.Context, pcm []byte) error {
	d.playbackMu.Lock()
	d.playbackBuf = append(d.playbackBuf, pcm...)
	done := make(chan struct{})
	d.playbackDone = done
	d.playbackMu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *duplexDevice) Close() {
	d.device.Uninit()
	d.mctx.Uninit()
}

// onSamples is the malgo duplex callback. On the capture side it applies the
// teacher's self-interruption heuristic (raising the effective silence
// threshold briefly after playback) before forwarding to Frames' channel; on
// the playback side it drains playbackBuf into pOutput, padding with
// silence.
func (d *duplexDevice) onSamples(pOutput, pInput []byte, frameCount uint32) {
	if pInput != nil {
		rms := rmsOf(pInput)
		effectiveThreshold := d.cfg.SilenceRMSThreshold
		d.botPlayingMu.Lock()
		if time.Since(d.lastPlayedAt) < 200*time.Millisecond {
			effectiveThreshold *= 10
		}
		d.botPlayingMu.Unlock()

		frame := pInput
		if rms < effectiveThreshold {
			frame = make([]byte, len(pInput))
		}
		buf := make([]byte, len(frame))
		copy(buf, frame)
		select {
		case d.frames <- buf:
		default:
		}
	}
	if pOutput != nil {
		d.playbackMu.Lock()
		n := copy(pOutput, d.playbackBuf)
		d.playbackBuf = d.playbackBuf[n:]
		for i := n; i < len(pOutput); i++ {
			pOutput[i] = 0
		}
		if len(d.playbackBuf) == 0 && d.playbackDone != nil {
			close(d.playbackDone)
			d.playbackDone = nil
		}
		d.playbackMu.Unlock()
		if n > 0 {
			d.botPlayingMu.Lock()
			d.lastPlayedAt = time.Now()
			d.botPlayingMu.Unlock()
		}
	}
}

func rmsOf(pcm []byte) float64 {
	var sum float64
	count := 0
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(pcm[i]) | (int16(pcm[i+1]) << 8)
		f := float64(sample) / 32768.0
		sum += f * f
		count++
	}
	if count == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(count))
}
