package audio

import (
	"fmt"
	"sync"

	"gopkg.in/hraban/opus.v2"
)

// FrameSize derives sample count per frame independently for a given
// sample rate and frame duration, per spec §4.2's frame-duration
// contract: frame_size = sample_rate * frame_duration_ms / 1000.
func FrameSize(sampleRate, frameDurationMS int) int {
	return sampleRate * frameDurationMS / 1000
}

// AudioProcessor is the narrow WebRTC-APM collaborator spec §4.2/§9
// describes: optional acoustic echo cancellation/noise suppression/
// gain, operating on 10ms sub-frames at 16kHz with the most recent
// playback frame as reference. The APM library itself is out of scope
// (spec §1); this interface and a no-op default are what's in scope.
type AudioProcessor interface {
	ProcessCapture(input []int16, reference []int16) []int16
}

type passthroughProcessor struct{}

func (passthroughProcessor) ProcessCapture(input []int16, _ []int16) []int16 { return input }

// NoopAudioProcessor is the default AudioProcessor when no APM is linked in.
func NoopAudioProcessor() AudioProcessor { return passthroughProcessor{} }

const (
	captureQueueCapacity = 8
	referenceRingSeconds = 1
)

// Codec owns the duplex capture/playback streams: Opus-encodes
// captured frames onto a bounded, drop-oldest channel and Opus-decodes
// inbound frames onto an unbounded-soft-cap queue, per spec §4.2.
type Codec struct {
	driver Driver
	proc   AudioProcessor

	captureSampleRate  int
	captureFrameMS     int
	playbackSampleRate int
	playbackFrameMS    int

	encoder *opus.Encoder
	mu      sync.Mutex

	encodedOut  chan []byte
	stopCapture func() error

	decodeMu    sync.Mutex
	decodeQueue [][]byte
	decoder     *opus.Decoder
	playback    PlaybackWriter

	inputPaused bool

	referenceRing [][]int16

	captureTap func(pcm []int16)
}

// OnCapturePCM registers a tap that receives a copy of every captured
// PCM frame after AEC/noise-suppression but before Opus encoding, spec
// §2's "microphone → codec capture → {wake detector, transport.send_audio}"
// fan-out and §5's "the wake detector must never open their own capture
// stream; they share the codec's." Only one tap is supported, matching
// the single wake detector spec §4.3 describes.
func (c *Codec) OnCapturePCM(tap func(pcm []int16)) {
	c.mu.Lock()
	c.captureTap = tap
	c.mu.Unlock()
}

// PCM16ToFloat32 normalizes signed 16-bit PCM samples to [-1, 1], the
// sample format internal/wake.Detector.ProcessFrame expects.
func PCM16ToFloat32(pcm []int16) []float32 {
	out := make([]float32, len(pcm))
	for i, s := range pcm {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// New constructs a Codec for the given capture/playback sample rates
// and per-platform frame durations (spec §4.2: 20ms on Windows/macOS,
// 60ms on Linux / non-official servers).
func New(driver Driver, proc AudioProcessor, captureSampleRate, captureFrameMS, playbackSampleRate, playbackFrameMS int) (*Codec, error) {
	if proc == nil {
		proc = NoopAudioProcessor()
	}
	enc, err := opus.NewEncoder(captureSampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("audio: new encoder: %w", err)
	}
	dec, err := opus.NewDecoder(playbackSampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("audio: new decoder: %w", err)
	}
	return &Codec{
		driver:             driver,
		proc:               proc,
		captureSampleRate:  captureSampleRate,
		captureFrameMS:     captureFrameMS,
		playbackSampleRate: playbackSampleRate,
		playbackFrameMS:    playbackFrameMS,
		encoder:            enc,
		decoder:            dec,
		encodedOut:         make(chan []byte, captureQueueCapacity),
	}, nil
}

// Start opens the capture direction, wiring captured PCM through the
// AudioProcessor and the Opus encoder onto the bounded output channel.
func (c *Codec) Start() error {
	frameSize := FrameSize(c.captureSampleRate, c.captureFrameMS)
	stop, err := c.driver.OpenCapture(c.captureSampleRate, frameSize, c.onCaptureFrame)
	if err != nil {
		return fmt.Errorf("%w: open capture: %v", ErrDriverFailure, err)
	}
	c.stopCapture = stop

	playback, err := c.driver.OpenPlayback(c.playbackSampleRate, FrameSize(c.playbackSampleRate, c.playbackFrameMS))
	if err != nil {
		return fmt.Errorf("%w: open playback: %v", ErrDriverFailure, err)
	}
	c.playback = playback
	return nil
}

func (c *Codec) onCaptureFrame(pcm []int16) {
	c.mu.Lock()
	paused := c.inputPaused
	c.mu.Unlock()
	if paused {
		return
	}

	ref := c.latestReference()
	processed := c.proc.ProcessCapture(pcm, ref)

	c.mu.Lock()
	tap := c.captureTap
	c.mu.Unlock()
	if tap != nil {
		tap(append([]int16(nil), processed...))
	}

	buf := make([]byte, len(processed)*2+256)
	n, err := c.encoder.Encode(processed, buf)
	if err != nil {
		return
	}
	frame := append([]byte(nil), buf[:n]...)

	select {
	case c.encodedOut <- frame:
	default:
		// Drop-oldest on overflow, per spec §4.2.
		select {
		case <-c.encodedOut:
		default:
		}
		select {
		case c.encodedOut <- frame:
		default:
		}
	}
}

// ReadEncodedFrame returns the next Opus-encoded capture frame, or
// ok=false if none is queued.
func (c *Codec) ReadEncodedFrame() (frame []byte, ok bool) {
	select {
	case f := <-c.encodedOut:
		return f, true
	default:
		return nil, false
	}
}

// WriteEncodedFrame decodes an inbound Opus frame and enqueues it on
// the decode queue for playback draining.
func (c *Codec) WriteEncodedFrame(frame []byte) error {
	frameSize := FrameSize(c.playbackSampleRate, c.playbackFrameMS)
	pcm := make([]int16, frameSize)
	n, err := c.decoder.Decode(frame, pcm)
	if err != nil {
		return fmt.Errorf("audio: decode: %w", err)
	}
	pcm = pcm[:n]

	c.decodeMu.Lock()
	c.decodeQueue = append(c.decodeQueue, intsToBytes(pcm))
	c.decodeMu.Unlock()

	if c.playback != nil {
		_ = c.playback.Write(pcm)
	}
	c.pushReference(pcm)
	return nil
}

// DrainDecodeQueue discards every queued decoded frame, leaving the
// queue empty. Frames are already written to playback by
// WriteEncodedFrame, so nothing is played here.
func (c *Codec) DrainDecodeQueue() {
	c.decodeMu.Lock()
	c.decodeQueue = c.decodeQueue[:0]
	c.decodeMu.Unlock()
}

// IsDecodeQueueEmpty reports whether the decode queue currently holds
// no frames.
func (c *Codec) IsDecodeQueueEmpty() bool {
	c.decodeMu.Lock()
	defer c.decodeMu.Unlock()
	return len(c.decodeQueue) == 0
}

// ClearDecodeQueue is an alias for DrainDecodeQueue kept for parity
// with spec §4.2's named operation clear_decode_queue().
func (c *Codec) ClearDecodeQueue() { c.DrainDecodeQueue() }

// PauseInput/ResumeInput/IsInputPaused implement spec §4.2's
// pause_input/resume_input/is_input_paused trio.
func (c *Codec) PauseInput() {
	c.mu.Lock()
	c.inputPaused = true
	c.mu.Unlock()
}

func (c *Codec) ResumeInput() {
	c.mu.Lock()
	c.inputPaused = false
	c.mu.Unlock()
}

func (c *Codec) IsInputPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inputPaused
}

// Reinitialize tears down and reopens just the named direction,
// matching spec §4.2's reinitialization policy for recoverable driver
// errors.
func (c *Codec) Reinitialize(dir Direction) error {
	switch dir {
	case DirectionCapture:
		if c.stopCapture != nil {
			_ = c.stopCapture()
		}
		frameSize := FrameSize(c.captureSampleRate, c.captureFrameMS)
		stop, err := c.driver.OpenCapture(c.captureSampleRate, frameSize, c.onCaptureFrame)
		if err != nil {
			return fmt.Errorf("%w: reinit capture: %v", ErrDriverFailure, err)
		}
		c.stopCapture = stop
		return nil
	case DirectionPlayback:
		if c.playback != nil {
			_ = c.playback.Close()
		}
		writer, err := c.driver.OpenPlayback(c.playbackSampleRate, FrameSize(c.playbackSampleRate, c.playbackFrameMS))
		if err != nil {
			return fmt.Errorf("%w: reinit playback: %v", ErrDriverFailure, err)
		}
		c.playback = writer
		return nil
	default:
		return fmt.Errorf("audio: unknown direction %d", dir)
	}
}

// Close tears down both directions.
func (c *Codec) Close() error {
	if c.stopCapture != nil {
		_ = c.stopCapture()
	}
	if c.playback != nil {
		return c.playback.Close()
	}
	return nil
}

func (c *Codec) latestReference() []int16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.referenceRing) == 0 {
		return nil
	}
	return c.referenceRing[len(c.referenceRing)-1]
}

func (c *Codec) pushReference(pcm []int16) {
	maxFrames := referenceRingSeconds * 1000 / max(c.playbackFrameMS, 1)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.referenceRing = append(c.referenceRing, append([]int16(nil), pcm...))
	if len(c.referenceRing) > maxFrames {
		c.referenceRing = c.referenceRing[len(c.referenceRing)-maxFrames:]
	}
}

func intsToBytes(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}
