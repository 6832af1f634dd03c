package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/antoniostano/nyx/internal/audio"
	"github.com/antoniostano/nyx/internal/observability"
	"github.com/antoniostano/nyx/internal/protocol"
	"github.com/antoniostano/nyx/internal/things"
	"github.com/antoniostano/nyx/internal/transport"
	"github.com/antoniostano/nyx/internal/wake"
)

// verificationCodePattern matches a spoken-out-loud run of six or
// more single digits, spec §4.1's tts.sentence_start rule.
var verificationCodePattern = regexp.MustCompile(`\d(\s*\d){5,}`)

const (
	helloReconnectBackoff = 2 * time.Second
	wakeReentryDelay      = 150 * time.Millisecond
	ttsDrainPollInterval  = 100 * time.Millisecond
	ttsDrainPollMax       = 30 // 30 * 100ms = 3s
	ttsDrainTail          = 500 * time.Millisecond
	abortSendTimeout      = 1 * time.Second
	closeSendTimeout      = 3 * time.Second
)

// UISink is the display/UI collaborator spec §1/§7 keeps out of scope,
// reached only through this narrow interface. The orchestrator never
// blocks on it.
type UISink interface {
	UpdateStatus(text string)
	Alert(title, message string)
	SetChatMessage(role, text string)
	SetEmotion(name string)
}

// VerificationCodeSink receives a verification code extracted from a
// spoken tts.sentence_start utterance, spec §4.1/§8 property 6 (S6).
type VerificationCodeSink interface {
	ShowCode(code string)
}

// Config bundles what the orchestrator needs to open a transport
// session: the dial endpoint and the capture-side audio parameters
// advertised on hello.
type Config struct {
	Endpoint    transport.Endpoint
	AudioParams protocol.AudioParams
}

// Orchestrator is the session state machine. One value per device
// process; collaborators reach it only through Schedule-backed public
// operations and Dispatch(Command), never through a global lookup
// (spec §9: break the cyclic back-reference).
type Orchestrator struct {
	cfg Config

	newSession func() transport.Session
	codec      *audio.Codec
	wakeDet    *wake.Detector
	registry   *things.Registry
	ui         UISink
	verify     VerificationCodeSink
	metrics    *observability.Metrics

	mu            sync.Mutex
	state         DeviceState
	listenMode    ListeningMode
	keepListening bool
	aborted       bool

	transport       transport.Session
	sessionID       string
	descriptorsSent bool

	tasksMu sync.Mutex
	tasks   []task
	signal  chan struct{}

	readyOnce sync.Once
	ready     chan struct{}
}

// New constructs an Orchestrator. newSession is called each time a
// fresh transport.Session is needed (spec §3: "reconnect yields a new
// session") — normally transport.NewWebSocketSession, injected so
// tests can substitute a fake.
func New(cfg Config, newSession func() transport.Session, codec *audio.Codec, wakeDet *wake.Detector, registry *things.Registry, ui UISink, verify VerificationCodeSink, metrics *observability.Metrics) *Orchestrator {
	o := &Orchestrator{
		cfg:        cfg,
		newSession: newSession,
		codec:      codec,
		wakeDet:    wakeDet,
		registry:   registry,
		ui:         ui,
		verify:     verify,
		metrics:    metrics,
		listenMode: ModeManual,
		signal:     make(chan struct{}, 1),
		ready:      make(chan struct{}),
	}
	if o.wakeDet != nil {
		o.wakeDet.OnDetected(func(wakeWord, utterance string) {
			o.schedule(func() { o.onWakeDetected(wakeWord, utterance) })
		})
		o.wakeDet.OnError(func(err error) {
			o.schedule(func() { o.onWakeError(err) })
		})
	}
	return o
}

// State reports the current device state. Safe for concurrent use.
func (o *Orchestrator) State() DeviceState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Ready is closed once the orchestrator has completed at least one
// successful transport bring-up, for internal/localapi's /healthz.
func (o *Orchestrator) Ready() <-chan struct{} { return o.ready }

// schedule appends a task to the FIFO queue and wakes the Run loop,
// per spec §4.1/§5's mutex-guarded task queue.
func (o *Orchestrator) schedule(t task) {
	o.tasksMu.Lock()
	o.tasks = append(o.tasks, t)
	o.tasksMu.Unlock()
	select {
	case o.signal <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) drainTasks() {
	for {
		o.tasksMu.Lock()
		if len(o.tasks) == 0 {
			o.tasksMu.Unlock()
			return
		}
		t := o.tasks[0]
		o.tasks = o.tasks[1:]
		o.tasksMu.Unlock()
		t()
	}
}

// Run drives the orchestrator's single task queue until ctx is
// canceled, at which point it performs Shutdown's cleanup and returns.
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			o.doShutdown()
			return nil
		case <-o.signal:
			o.drainTasks()
		}
	}
}

// Dispatch routes a Command onto the task queue, the narrow interface
// spec §9 asks the UI and CLI shells to use instead of holding the
// whole Orchestrator.
func (o *Orchestrator) Dispatch(cmd Command) {
	switch cmd.Kind {
	case CommandStartListening:
		o.StartListening()
	case CommandStopListening:
		o.StopListening()
	case CommandToggleChatState:
		o.ToggleChatState()
	case CommandAbortSpeaking:
		o.AbortSpeaking(cmd.AbortReason)
	case CommandSetChatMessage:
		o.SetChatMessage(cmd.ChatRole, cmd.ChatText)
	case CommandSetEmotion:
		o.SetEmotion(cmd.EmotionName)
	case CommandShutdown:
		o.schedule(o.doShutdown)
	}
}

// StartListening implements spec §4.1's start_listening().
func (o *Orchestrator) StartListening() {
	o.schedule(func() { o.doStartListening(ModeManual) })
}

// StopListening implements spec §4.1's stop_listening().
func (o *Orchestrator) StopListening() {
	o.schedule(o.doStopListening)
}

// ToggleChatState implements spec §4.1's toggle_chat_state().
func (o *Orchestrator) ToggleChatState() {
	o.schedule(o.doToggleChatState)
}

// AbortSpeaking implements spec §4.1's abort_speaking(reason),
// idempotent per spec §8 property 3.
func (o *Orchestrator) AbortSpeaking(reason AbortReason) {
	o.schedule(func() { o.doAbortSpeaking(reason) })
}

// SetChatMessage implements spec §4.1's set_chat_message(role, text).
func (o *Orchestrator) SetChatMessage(role, text string) {
	o.schedule(func() {
		if o.ui != nil {
			o.ui.SetChatMessage(role, text)
		}
	})
}

// SetEmotion implements spec §4.1's set_emotion(name).
func (o *Orchestrator) SetEmotion(name string) {
	o.schedule(func() {
		if o.ui != nil {
			o.ui.SetEmotion(name)
		}
	})
}

// Shutdown schedules the same cleanup a canceled Run context performs:
// close the transport, close the codec, pause the wake detector, and
// drain queued tasks. It does not end Run's loop; Run returns only when
// its context is canceled. Dispatch(CommandShutdown) does the same.
func (o *Orchestrator) Shutdown() {
	o.schedule(o.doShutdown)
}

func (o *Orchestrator) doShutdown() {
	o.mu.Lock()
	t := o.transport
	o.transport = nil
	o.mu.Unlock()

	if t != nil {
		// spec §5: "Transport close: 3s soft timeout; the orchestrator
		// transitions to Idle regardless." Close() itself is not
		// context-aware on transport.Session, so the bound is enforced
		// here instead of blocking shutdown indefinitely.
		done := make(chan struct{})
		go func() {
			_ = t.Close()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(closeSendTimeout):
		}
	}
	if o.codec != nil {
		_ = o.codec.Close()
	}
	if o.wakeDet != nil {
		o.wakeDet.Pause()
	}
	o.drainTasks()
}

// --- state transitions -----------------------------------------------

func (o *Orchestrator) setState(to DeviceState) {
	o.mu.Lock()
	from := o.state
	o.state = to
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.ObserveStateTransition(from.String(), to.String())
	}

	if o.wakeDet != nil {
		switch to {
		case StateListening:
			o.wakeDet.Pause()
		case StateIdle, StateSpeaking:
			o.wakeDet.Resume()
		}
	}
}

func (o *Orchestrator) doStartListening(mode ListeningMode) {
	o.mu.Lock()
	state := o.state
	o.mu.Unlock()

	switch state {
	case StateIdle:
		o.enterListening(mode, false)
	case StateSpeaking:
		o.doAbortSpeaking(AbortWakeWordDetected)
	default:
		// Connecting or already Listening: no-op.
	}
}

// enterListening opens the transport if needed, sends listen{start},
// and transitions to Listening — shared by start_listening(),
// toggle_chat_state(), wake-word re-entry, and post-TTS-drain.
func (o *Orchestrator) enterListening(mode ListeningMode, keepListening bool) {
	o.setState(StateConnecting)

	if err := o.ensureConnected(); err != nil {
		if o.ui != nil {
			o.ui.Alert("Connection failed", err.Error())
		}
		if o.metrics != nil {
			o.metrics.ObserveTransportError("connect")
		}
		o.setState(StateIdle)
		return
	}

	if o.codec != nil {
		if err := o.codec.Reinitialize(audio.DirectionCapture); err != nil && o.ui != nil {
			o.ui.Alert("Audio warning", err.Error())
		}
	}

	o.mu.Lock()
	o.listenMode = mode
	o.keepListening = keepListening
	o.aborted = false
	sessionID := o.sessionID
	o.mu.Unlock()

	o.sendJSON(protocol.Listen{
		Type:      protocol.TypeListen,
		SessionID: sessionID,
		State:     "start",
		Mode:      mode.wireMode(),
	})

	o.setState(StateListening)
}

func (o *Orchestrator) doStopListening() {
	o.mu.Lock()
	state := o.state
	sessionID := o.sessionID
	o.mu.Unlock()

	if state != StateListening {
		return
	}

	o.sendJSON(protocol.Listen{
		Type:      protocol.TypeListen,
		SessionID: sessionID,
		State:     "stop",
	})
	o.setState(StateIdle)
}

func (o *Orchestrator) doToggleChatState() {
	o.mu.Lock()
	state := o.state
	o.mu.Unlock()

	switch state {
	case StateIdle:
		o.enterListening(ModeAutoStop, true)
	case StateSpeaking:
		o.doAbortSpeaking(AbortNone)
	case StateListening:
		o.closeAudioChannel()
		o.setState(StateIdle)
	}
}

func (o *Orchestrator) doAbortSpeaking(reason AbortReason) {
	o.mu.Lock()
	if o.aborted {
		o.mu.Unlock()
		return
	}
	o.aborted = true
	keepListening := o.keepListening
	sessionID := o.sessionID
	o.mu.Unlock()

	if o.codec != nil {
		o.codec.ClearDecodeQueue()
	}

	o.sendJSONWithTimeout(protocol.Abort{
		Type:      protocol.TypeAbort,
		SessionID: sessionID,
		Reason:    reason.wireReason(),
	}, abortSendTimeout)

	if o.metrics != nil {
		o.metrics.ObserveWakeEvent("abort_" + reason.wireReason())
	}

	o.setState(StateIdle)

	if reason == AbortWakeWordDetected && keepListening {
		time.AfterFunc(wakeReentryDelay, func() {
			o.schedule(o.doWakeReentry)
		})
	}
}

func (o *Orchestrator) doWakeReentry() {
	o.mu.Lock()
	state := o.state
	mode := o.listenMode
	keep := o.keepListening
	o.mu.Unlock()
	if state != StateIdle || !keep {
		return
	}
	o.enterListening(mode, keep)
}

func (o *Orchestrator) closeAudioChannel() {
	o.mu.Lock()
	t := o.transport
	o.transport = nil
	o.sessionID = ""
	o.descriptorsSent = false
	o.mu.Unlock()

	if t != nil {
		_ = t.Close()
	}
}

// --- transport bring-up ------------------------------------------------

func (o *Orchestrator) ensureConnected() error {
	o.mu.Lock()
	existing := o.transport
	o.mu.Unlock()
	if existing != nil {
		return nil
	}

	sess := o.newSession()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sessionID, err := sess.Connect(ctx, o.cfg.Endpoint, o.cfg.AudioParams)
	if err != nil {
		return fmt.Errorf("orchestrator: connect: %w", err)
	}

	o.mu.Lock()
	o.transport = sess
	o.sessionID = sessionID
	o.descriptorsSent = false
	o.mu.Unlock()

	o.readyOnce.Do(func() { close(o.ready) })

	go o.pumpInbound(sess)
	go o.pumpAudio(sess)
	go o.pumpClosed(sess)
	if o.codec != nil {
		go o.pumpCapture(o.codec, sess)
	}

	o.sendDescriptorsOnce()
	return nil
}

// sendDescriptorsOnce implements spec §5's ordering guarantee:
// "The IoT descriptor message is always sent exactly once, before the
// first IoT state message of a session."
func (o *Orchestrator) sendDescriptorsOnce() {
	o.mu.Lock()
	if o.descriptorsSent || o.registry == nil {
		o.mu.Unlock()
		return
	}
	o.descriptorsSent = true
	sessionID := o.sessionID
	o.mu.Unlock()

	raw, err := o.registry.DescriptorsJSON()
	if err != nil {
		return
	}
	var descs []json.RawMessage
	if err := json.Unmarshal(raw, &descs); err != nil {
		return
	}
	o.sendJSON(protocol.IoTDescriptors{
		Type:        protocol.TypeIoT,
		SessionID:   sessionID,
		Descriptors: descs,
	})
}

// PublishStates sends the thing registry's current state, delta or
// full, per spec §4.5. Exposed for external callers; the orchestrator
// itself never polls on a timer and publishes a delta only after
// handling inbound IoT commands.
func (o *Orchestrator) PublishStates(delta bool) {
	o.schedule(func() { o.doPublishStates(delta) })
}

func (o *Orchestrator) doPublishStates(delta bool) {
	if o.registry == nil {
		return
	}
	o.mu.Lock()
	sessionID := o.sessionID
	connected := o.transport != nil
	o.mu.Unlock()
	if !connected {
		return
	}

	changed, raw, err := o.registry.States(delta)
	if err != nil || (delta && !changed) {
		return
	}
	var states []json.RawMessage
	if err := json.Unmarshal(raw, &states); err != nil {
		return
	}
	o.sendJSON(protocol.IoTStates{
		Type:      protocol.TypeIoT,
		SessionID: sessionID,
		States:    states,
	})
}

func (o *Orchestrator) sendJSON(v any) {
	o.mu.Lock()
	t := o.transport
	o.mu.Unlock()
	if t == nil {
		return
	}
	if err := t.SendJSON(v); err != nil && o.metrics != nil {
		o.metrics.ObserveTransportError("send")
	}
}

// sendJSONWithTimeout fires the send on its own goroutine so a slow
// write never blocks the state transition, per spec §5's "abort: 1s
// soft timeout; missing ack does not block the state transition."
func (o *Orchestrator) sendJSONWithTimeout(v any, timeout time.Duration) {
	o.mu.Lock()
	t := o.transport
	o.mu.Unlock()
	if t == nil {
		return
	}
	done := make(chan error, 1)
	go func() { done <- t.SendJSON(v) }()
	select {
	case err := <-done:
		if err != nil && o.metrics != nil {
			o.metrics.ObserveTransportError("send")
		}
	case <-time.After(timeout):
	}
}

// --- collaborator pumps -------------------------------------------------

func (o *Orchestrator) pumpInbound(sess transport.Session) {
	for in := range sess.Inbound() {
		msg := in.Message
		o.schedule(func() { o.handleInbound(msg) })
	}
}

func (o *Orchestrator) pumpAudio(sess transport.Session) {
	for frame := range sess.Audio() {
		frame := frame
		o.schedule(func() { o.handlePlaybackFrame(frame) })
	}
}

func (o *Orchestrator) pumpClosed(sess transport.Session) {
	err, ok := <-sess.Closed()
	if !ok {
		return
	}
	o.schedule(func() { o.handleNetworkError(sess, err) })
}

// pumpCapture polls the codec's bounded encode queue and ships frames
// to the transport, gated by Listening. Models spec §5's
// AudioInputReady event as a lightweight poll rather than a dedicated
// channel, since Codec.ReadEncodedFrame() is itself non-blocking.
func (o *Orchestrator) pumpCapture(c *audio.Codec, sess transport.Session) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		o.mu.Lock()
		stillCurrent := o.transport == sess
		o.mu.Unlock()
		if !stillCurrent {
			return
		}
		for {
			frame, ok := c.ReadEncodedFrame()
			if !ok {
				break
			}
			frame := frame
			o.schedule(func() { o.handleCaptureFrame(frame) })
		}
	}
}

func (o *Orchestrator) handleCaptureFrame(frame []byte) {
	o.mu.Lock()
	listening := o.state == StateListening
	t := o.transport
	o.mu.Unlock()
	if !listening || t == nil {
		return
	}
	_ = t.SendAudio(frame)
}

func (o *Orchestrator) handlePlaybackFrame(frame []byte) {
	o.mu.Lock()
	speaking := o.state == StateSpeaking
	o.mu.Unlock()
	if !speaking || o.codec == nil {
		// Invariant (spec §4.1): decoded playback frames are only
		// dequeued/played in Speaking. Outside Speaking, drop.
		return
	}
	_ = o.codec.WriteEncodedFrame(frame)
}

func (o *Orchestrator) handleNetworkError(sess transport.Session, err error) {
	o.mu.Lock()
	if o.transport != sess {
		o.mu.Unlock()
		return
	}
	o.transport = nil
	o.sessionID = ""
	o.descriptorsSent = false
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.ObserveTransportError("network")
	}
	if o.ui != nil {
		msg := "connection lost"
		if err != nil {
			msg = err.Error()
		}
		o.ui.Alert("Network error", msg)
	}
	o.setState(StateIdle)
}

func (o *Orchestrator) onWakeDetected(wakeWord, utterance string) {
	if o.metrics != nil {
		o.metrics.ObserveWakeEvent("detected")
	}
	o.mu.Lock()
	state := o.state
	o.mu.Unlock()

	switch state {
	case StateIdle:
		o.enterListening(ModeAutoStop, true)
	case StateSpeaking:
		o.doAbortSpeaking(AbortWakeWordDetected)
	default:
		// Connecting/Listening: wake detector is paused in Listening by
		// invariant, so this should not normally fire; ignore.
	}
}

func (o *Orchestrator) onWakeError(err error) {
	if o.metrics != nil {
		o.metrics.ObserveWakeEvent("error")
	}
	o.mu.Lock()
	state := o.state
	o.mu.Unlock()
	if state == StateIdle && o.wakeDet != nil {
		o.wakeDet.Start()
	}
}

// --- inbound JSON dispatch (spec §4.1) ----------------------------------

func (o *Orchestrator) handleInbound(msg any) {
	switch m := msg.(type) {
	case protocol.TTSMessage:
		o.handleTTS(m)
	case protocol.STTMessage:
		if o.ui != nil {
			o.ui.SetChatMessage("user", m.Text)
		}
	case protocol.LLMMessage:
		if o.ui != nil {
			o.ui.SetEmotion(m.Emotion)
		}
	case protocol.IoTCommands:
		o.handleIoTCommands(m)
	default:
		// Unknown/malformed message: log at warning, discard, keep
		// session, per spec §7's Protocol error handling. The
		// orchestrator has no logger dependency of its own (kept at the
		// cmd/nyx wiring layer); silently discarding is the documented
		// behavior here since nothing else is observable.
	}
}

func (o *Orchestrator) handleTTS(m protocol.TTSMessage) {
	switch m.State {
	case "start":
		o.mu.Lock()
		state := o.state
		o.aborted = false
		o.mu.Unlock()
		if state != StateIdle && state != StateListening {
			return
		}
		if o.codec != nil {
			o.codec.ClearDecodeQueue()
		}
		o.setState(StateSpeaking)
	case "sentence_start":
		if o.ui != nil {
			o.ui.SetChatMessage("assistant", m.Text)
		}
		if code, ok := extractVerificationCode(m.Text); ok && o.verify != nil {
			o.verify.ShowCode(code)
		}
	case "stop":
		go o.waitForDrainThenSchedule()
	}
}

// waitForDrainThenSchedule implements spec §4.1's bounded poll: "wait
// for decode queue to drain (bounded poll: up to 3s in 100ms steps; if
// still playing, add 500ms tail)".
func (o *Orchestrator) waitForDrainThenSchedule() {
	if o.codec != nil {
		drained := false
		for i := 0; i < ttsDrainPollMax; i++ {
			if o.codec.IsDecodeQueueEmpty() {
				drained = true
				break
			}
			time.Sleep(ttsDrainPollInterval)
		}
		if !drained {
			time.Sleep(ttsDrainTail)
		}
	}
	o.schedule(o.doTTSStopComplete)
}

func (o *Orchestrator) doTTSStopComplete() {
	o.mu.Lock()
	state := o.state
	keepListening := o.keepListening
	mode := o.listenMode
	o.mu.Unlock()
	if state != StateSpeaking {
		return
	}
	if keepListening {
		o.enterListening(mode, true)
		return
	}
	o.setState(StateIdle)
}

func (o *Orchestrator) handleIoTCommands(m protocol.IoTCommands) {
	if o.registry == nil {
		return
	}
	for _, cmd := range m.Commands {
		params := make(map[string]things.Value, len(cmd.Parameters))
		for k, v := range cmd.Parameters {
			params[k] = toThingValue(v)
		}
		_, err := o.registry.Invoke(cmd.Name, cmd.Method, params)
		result := "ok"
		if err != nil {
			result = "error"
		}
		if o.metrics != nil {
			o.metrics.ObserveThingInvocation(cmd.Name, result)
		}
	}
	o.doPublishStates(true)
}

func toThingValue(v any) things.Value {
	switch x := v.(type) {
	case bool:
		return things.BoolValue(x)
	case string:
		return things.StringValue(x)
	case float64:
		if x == float64(int64(x)) {
			return things.IntValue(int64(x))
		}
		return things.FloatValue(x)
	default:
		return things.StringValue(fmt.Sprintf("%v", x))
	}
}

func extractVerificationCode(text string) (string, bool) {
	loc := verificationCodePattern.FindString(text)
	if loc == "" {
		return "", false
	}
	var digits strings.Builder
	for _, r := range loc {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	return digits.String(), true
}
