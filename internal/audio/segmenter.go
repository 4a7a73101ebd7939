package audio

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/live-translate-lab/internal/logging"
)

// vadState is the capture state machine position.
type vadState int

const (
	stateIdle     vadState = iota // no speech accumulating
	stateActive                   // speech frames being buffered
	stateTrailing                 // silence after speech, counting toward timeout
)

func (s vadState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateActive:
		return "active"
	case stateTrailing:
		return "trailing"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

const (
	// readFailureBudget bounds consecutive source read failures before the
	// capture loop gives up and surfaces a fatal device error.
	readFailureBudget = 10
	readBackoffBase   = 10 * time.Millisecond
	readBackoffMax    = 500 * time.Millisecond

	// stopWait bounds how long Stop waits for the read loop to exit. The
	// audio source is torn down immediately afterwards, so a forced stop
	// is acceptable.
	stopWait = time.Second

	segmentQueueDepth = 4
)

// Segment is one bounded, contiguous run of speech handed off by value to
// the pipeline; it is immutable after emission.
type Segment struct {
	PCM           []int16
	SampleRate    int
	Channels      int
	CorrelationID string
}

// Duration returns the audio duration of the segment.
func (s Segment) Duration() time.Duration {
	if s.SampleRate <= 0 || s.Channels <= 0 {
		return 0
	}
	return time.Duration(len(s.PCM)) * time.Second / time.Duration(s.SampleRate*s.Channels)
}

// WAV returns the segment encoded in the wire format backend services expect.
func (s Segment) WAV() []byte {
	return EncodeWAV(s.PCM, s.SampleRate, s.Channels)
}

// SegmenterConfig holds the capture and voice-activity tuning knobs.
type SegmenterConfig struct {
	SampleRate       int
	Channels         int
	FrameSize        int     // samples per frame
	Gain             float64 // linear gain applied before level calculation
	SilenceThreshold float64 // normalized level at or below which a frame is silence
	VoiceTimeout     float64 // seconds of trailing silence that end a segment
}

// Segmenter consumes a live frame stream and emits bounded speech segments.
// Levels and segments are delivered on channels so consumers never run on
// the capture goroutine; a slow consumer costs stale levels or a dropped
// segment, never a blocked read loop.
type Segmenter struct {
	cfg           SegmenterConfig
	timeoutFrames int

	levels       chan float64
	segments     chan Segment
	dropped      atomic.Int64
	readFailures atomic.Int64
	framesRead   atomic.Int64

	mu     sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}
	runErr error
}

// NewSegmenter builds a segmenter. The trailing-silence window is
// voiceTimeout seconds expressed in whole frames.
func NewSegmenter(cfg SegmenterConfig) *Segmenter {
	timeoutFrames := int(cfg.VoiceTimeout * float64(cfg.SampleRate) / float64(cfg.FrameSize))
	if timeoutFrames < 1 {
		timeoutFrames = 1
	}
	return &Segmenter{
		cfg:           cfg,
		timeoutFrames: timeoutFrames,
		levels:        make(chan float64, 1),
		segments:      make(chan Segment, segmentQueueDepth),
	}
}

// Levels delivers the post-gain normalized level of every frame read,
// regardless of VAD state. Values are not clamped: a high gain can push
// levels past 1.0; display consumers must clip, but the raw value is what
// drives voiced/unvoiced classification. Only the most recent value is
// retained when the consumer lags.
func (s *Segmenter) Levels() <-chan float64 { return s.levels }

// Segments delivers completed speech segments.
func (s *Segmenter) Segments() <-chan Segment { return s.segments }

// Dropped reports how many completed segments were discarded because the
// segment channel was full.
func (s *Segmenter) Dropped() int64 { return s.dropped.Load() }

// ReadFailures reports how many frame reads failed and were retried over
// the segmenter's lifetime.
func (s *Segmenter) ReadFailures() int64 { return s.readFailures.Load() }

// FramesRead reports how many frames were successfully read over the
// segmenter's lifetime. Counted in the read loop itself, so it stays exact
// even when the latest-wins level channel drops values on a slow consumer.
func (s *Segmenter) FramesRead() int64 { return s.framesRead.Load() }

// Start begins consuming frames from src on a dedicated goroutine. It
// returns an error if the segmenter is already running.
func (s *Segmenter) Start(src FrameSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return errors.New("segmenter already running")
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.runErr = nil
	go s.run(src, s.stopCh, s.doneCh)
	return nil
}

// Stop halts consumption and waits up to stopWait for the read loop to
// exit; teardown proceeds regardless after that.
func (s *Segmenter) Stop() {
	s.mu.Lock()
	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}
	done := s.doneCh
	s.mu.Unlock()
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(stopWait):
		logging.Warnw("segmenter: capture loop did not exit in time; proceeding with teardown")
	}
}

// Done is closed when the capture loop exits, whether by Stop, source end,
// or a fatal device error (see Err).
func (s *Segmenter) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doneCh == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return s.doneCh
}

// Err reports why the capture loop exited; nil for Stop or source end.
func (s *Segmenter) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runErr
}

func (s *Segmenter) run(src FrameSource, stop, done chan struct{}) {
	var runErr error
	defer func() {
		s.mu.Lock()
		s.runErr = runErr
		if s.stopCh == stop {
			s.stopCh = nil
		}
		s.mu.Unlock()
		close(done)
	}()

	logging.Infow("segmenter: capture loop started",
		"sample_rate", s.cfg.SampleRate, "frame_size", s.cfg.FrameSize,
		"silence_threshold", s.cfg.SilenceThreshold, "timeout_frames", s.timeoutFrames)

	var buf []Frame
	state := stateIdle
	silence := 0
	failures := 0

	for {
		select {
		case <-stop:
			return
		default:
		}

		frame, err := src.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				logging.Infow("segmenter: frame source ended")
				return
			}
			failures++
			s.readFailures.Add(1)
			if failures >= readFailureBudget {
				runErr = fmt.Errorf("%w: %d consecutive read failures, last: %v", ErrDeviceFailure, failures, err)
				logging.Errorw("segmenter: read failure budget exhausted", "failures", failures, "err", err)
				return
			}
			backoff := readBackoffBase << (failures - 1)
			if backoff > readBackoffMax {
				backoff = readBackoffMax
			}
			logging.Debugw("segmenter: frame read failed; backing off", "attempt", failures, "backoff_ms", backoff.Milliseconds(), "err", err)
			select {
			case <-stop:
				return
			case <-time.After(backoff):
			}
			continue
		}
		failures = 0
		s.framesRead.Add(1)

		level := s.frameLevel(frame)
		s.reportLevel(level)
		voiced := level > s.cfg.SilenceThreshold

		switch state {
		case stateIdle:
			if voiced {
				buf = append(buf[:0], frame)
				silence = 0
				state = stateActive
			}
		case stateActive:
			buf = append(buf, frame)
			if voiced {
				silence = 0
			} else {
				silence = 1
				state = stateTrailing
			}
		case stateTrailing:
			buf = append(buf, frame)
			if voiced {
				// speech resumed before the timeout
				silence = 0
				state = stateActive
				break
			}
			silence++
			if silence >= s.timeoutFrames {
				// trim the timed-out trailing silence; shorter pauses
				// that resolved earlier stay in the segment
				s.emit(buf[:len(buf)-silence])
				buf = nil
				silence = 0
				state = stateIdle
			}
		}
	}
}

// frameLevel computes mean absolute amplitude after gain, normalized by the
// full-scale int16 magnitude. There is no automatic gain control.
func (s *Segmenter) frameLevel(f Frame) float64 {
	if len(f) == 0 {
		return 0
	}
	var sum float64
	for _, v := range f {
		sum += math.Abs(float64(v) * s.cfg.Gain)
	}
	return sum / float64(len(f)) / 32768.0
}

// reportLevel publishes the level without ever blocking the read loop;
// when the consumer lags, the stale value is replaced.
func (s *Segmenter) reportLevel(level float64) {
	select {
	case s.levels <- level:
	default:
		select {
		case <-s.levels:
		default:
		}
		select {
		case s.levels <- level:
		default:
		}
	}
}

func (s *Segmenter) emit(frames []Frame) {
	if len(frames) == 0 {
		return
	}
	total := 0
	for _, f := range frames {
		total += len(f)
	}
	pcm := make([]int16, 0, total)
	for _, f := range frames {
		pcm = append(pcm, f...)
	}
	seg := Segment{
		PCM:           pcm,
		SampleRate:    s.cfg.SampleRate,
		Channels:      s.cfg.Channels,
		CorrelationID: uuid.NewString(),
	}
	select {
	case s.segments <- seg:
		logging.Infow("segmenter: segment emitted", logging.SegmentFields(seg.CorrelationID, len(pcm), int(seg.Duration().Milliseconds()))...)
	default:
		s.dropped.Add(1)
		logging.Warnw("segmenter: dropping segment; queue full", "correlation_id", seg.CorrelationID)
	}
}

// CaptureFor reads a fixed duration of audio from src, ignoring the VAD
// threshold entirely, and returns the concatenated samples. Used for
// speaker enrollment where voice presence is not required.
func (s *Segmenter) CaptureFor(src FrameSource, duration time.Duration) ([]int16, error) {
	frames := int(duration.Seconds() * float64(s.cfg.SampleRate) / float64(s.cfg.FrameSize))
	pcm := make([]int16, 0, frames*s.cfg.FrameSize)
	failures := 0
	for i := 0; i < frames; {
		frame, err := src.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			failures++
			s.readFailures.Add(1)
			if failures >= readFailureBudget {
				return nil, fmt.Errorf("%w: enrollment capture: %v", ErrDeviceFailure, err)
			}
			backoff := readBackoffBase << (failures - 1)
			if backoff > readBackoffMax {
				backoff = readBackoffMax
			}
			time.Sleep(backoff)
			continue
		}
		failures = 0
		s.framesRead.Add(1)
		s.reportLevel(s.frameLevel(frame))
		pcm = append(pcm, frame...)
		i++
	}
	return pcm, nil
}
