package audio

import "testing"

func TestFrameSizeDerivedIndependently(t *testing.T) {
	if got := FrameSize(16000, 60); got != 960 {
		t.Fatalf("FrameSize(16000,60) = %d, want 960", got)
	}
	if got := FrameSize(24000, 20); got != 480 {
		t.Fatalf("FrameSize(24000,20) = %d, want 480", got)
	}
}

type fakeDriver struct {
	capturedOnFrame func(pcm []int16)
}

func (d *fakeDriver) OpenCapture(sampleRate, frameSize int, onFrame func(pcm []int16)) (func() error, error) {
	d.capturedOnFrame = onFrame
	return func() error { return nil }, nil
}

func (d *fakeDriver) OpenPlayback(sampleRate, frameSize int) (PlaybackWriter, error) {
	return &fakeWriter{}, nil
}

type fakeWriter struct{ closed bool }

func (w *fakeWriter) Write(pcm []int16) error { return nil }
func (w *fakeWriter) Close() error            { w.closed = true; return nil }

func TestCodecCaptureRoundTrip(t *testing.T) {
	driver := &fakeDriver{}
	c, err := New(driver, nil, 16000, 20, 16000, 20)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	silence := make([]int16, FrameSize(16000, 20))
	driver.capturedOnFrame(silence)

	frame, ok := c.ReadEncodedFrame()
	if !ok {
		t.Fatalf("expected an encoded frame to be queued")
	}
	if len(frame) == 0 {
		t.Fatalf("expected non-empty encoded frame")
	}

	if err := c.WriteEncodedFrame(frame); err != nil {
		t.Fatalf("WriteEncodedFrame() error = %v", err)
	}
	if c.IsDecodeQueueEmpty() {
		t.Fatalf("expected decode queue to hold the just-written frame")
	}
	c.ClearDecodeQueue()
	if !c.IsDecodeQueueEmpty() {
		t.Fatalf("expected decode queue empty after clear")
	}
}

func TestCodecPauseResumeInput(t *testing.T) {
	driver := &fakeDriver{}
	c, err := New(driver, nil, 16000, 20, 16000, 20)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	c.PauseInput()
	if !c.IsInputPaused() {
		t.Fatalf("expected input paused")
	}
	silence := make([]int16, FrameSize(16000, 20))
	driver.capturedOnFrame(silence)
	if _, ok := c.ReadEncodedFrame(); ok {
		t.Fatalf("expected no frames while paused")
	}

	c.ResumeInput()
	driver.capturedOnFrame(silence)
	if _, ok := c.ReadEncodedFrame(); !ok {
		t.Fatalf("expected a frame after resume")
	}
}

func TestCodecCapturePCMTapReceivesFrames(t *testing.T) {
	driver := &fakeDriver{}
	c, err := New(driver, nil, 16000, 20, 16000, 20)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var gotFrames int
	var lastLen int
	c.OnCapturePCM(func(pcm []int16) {
		gotFrames++
		lastLen = len(pcm)
	})

	if err := c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	frameSize := FrameSize(16000, 20)
	silence := make([]int16, frameSize)
	driver.capturedOnFrame(silence)
	driver.capturedOnFrame(silence)

	if gotFrames != 2 {
		t.Fatalf("tap invoked %d times, want 2", gotFrames)
	}
	if lastLen != frameSize {
		t.Fatalf("tap received %d samples, want %d", lastLen, frameSize)
	}
}

func TestCodecCapturePCMTapSkippedWhileInputPaused(t *testing.T) {
	driver := &fakeDriver{}
	c, err := New(driver, nil, 16000, 20, 16000, 20)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	tapped := false
	c.OnCapturePCM(func(pcm []int16) { tapped = true })

	if err := c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	c.PauseInput()

	silence := make([]int16, FrameSize(16000, 20))
	driver.capturedOnFrame(silence)

	if tapped {
		t.Fatalf("tap should not fire while input is paused")
	}
}

func TestPCM16ToFloat32Normalizes(t *testing.T) {
	got := PCM16ToFloat32([]int16{0, 32767, -32768})
	want := []float32{0, 32767.0 / 32768.0, -1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("PCM16ToFloat32()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestCodecCaptureQueueStaysBoundedOnOverflow(t *testing.T) {
	driver := &fakeDriver{}
	c, err := New(driver, nil, 16000, 20, 16000, 20)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	silence := make([]int16, FrameSize(16000, 20))
	for i := 0; i < captureQueueCapacity+4; i++ {
		driver.capturedOnFrame(silence)
	}

	count := 0
	for {
		if _, ok := c.ReadEncodedFrame(); !ok {
			break
		}
		count++
	}
	if count > captureQueueCapacity {
		t.Fatalf("queue held %d frames, want at most %d", count, captureQueueCapacity)
	}
}
