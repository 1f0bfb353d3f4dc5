package chat

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

// Recorder errors.
var (
	ErrRecording    = errors.New("already recording")
	ErrNotRecording = errors.New("not recording")
)

const chunkSize = 32 << 10

// Microphone hands out capture sessions. Closing the returned reader
// releases the device.
type Microphone interface {
	Acquire(ctx context.Context) (io.ReadCloser, error)
	ContentType() string
}

// Recording is captured audio held for review. Nothing is uploaded until
// the user sends it.
type Recording struct {
	Data        []byte
	ContentType string
	Duration    time.Duration
}

// Size returns the recording size in bytes.
func (r *Recording) Size() int64 {
	return int64(len(r.Data))
}

// Reader returns a reader over the recorded audio, for playback or upload.
func (r *Recording) Reader() io.Reader {
	return bytes.NewReader(r.Data)
}

// Recorder accumulates chunks from one capture session at a time.
type Recorder struct {
	mic   Microphone
	clock Clock

	mu       sync.Mutex
	capture  io.ReadCloser
	chunks   [][]byte
	started  time.Time
	stopping bool
	readErr  error
	done     chan struct{}
}

// NewRecorder creates a Recorder for mic.
func NewRecorder(mic Microphone, clock Clock) *Recorder {
	if clock == nil {
		clock = SystemClock()
	}
	return &Recorder{mic: mic, clock: clock}
}

// Start acquires the microphone and begins capturing. Capture runs until
// Stop or Cancel; there is no automatic stop.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.capture != nil {
		return ErrRecording
	}
	capture, err := r.mic.Acquire(ctx)
	if err != nil {
		return err
	}

	r.capture = capture
	r.chunks = nil
	r.stopping = false
	r.readErr = nil
	r.started = r.clock.Now()
	r.done = make(chan struct{})
	go r.read(capture, r.done)
	return nil
}

func (r *Recorder) read(capture io.Reader, done chan struct{}) {
	defer close(done)

	buf := make([]byte, chunkSize)
	for {
		n, err := capture.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			r.mu.Lock()
			r.chunks = append(r.chunks, chunk)
			r.mu.Unlock()
		}
		if err != nil {
			r.mu.Lock()
			if !r.stopping && !errors.Is(err, io.EOF) {
				r.readErr = err
			}
			r.mu.Unlock()
			return
		}
	}
}

// Recording reports whether a capture session is active.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.capture != nil
}

// Stop releases the microphone and assembles the captured chunks.
func (r *Recorder) Stop() (*Recording, error) {
	chunks, started, err := r.finish()
	if err != nil {
		return nil, err
	}

	return &Recording{
		Data:        bytes.Join(chunks, nil),
		ContentType: r.mic.ContentType(),
		Duration:    r.clock.Now().Sub(started),
	}, nil
}

// Cancel releases the microphone and discards everything captured.
func (r *Recorder) Cancel() error {
	_, _, err := r.finish()
	if errors.Is(err, ErrNotRecording) {
		return err
	}
	return nil
}

func (r *Recorder) finish() ([][]byte, time.Time, error) {
	r.mu.Lock()
	capture, done := r.capture, r.done
	if capture == nil {
		r.mu.Unlock()
		return nil, time.Time{}, ErrNotRecording
	}
	r.stopping = true
	r.mu.Unlock()

	capture.Close()
	<-done

	r.mu.Lock()
	defer r.mu.Unlock()

	chunks, started, readErr := r.chunks, r.started, r.readErr
	r.capture = nil
	r.chunks = nil
	r.readErr = nil

	if readErr != nil {
		return nil, time.Time{}, readErr
	}
	return chunks, started, nil
}

// ReaderMicrophone captures from any byte stream, such as a recorded file
// or the stdout of an audio capture command.
type ReaderMicrophone struct {
	open        func(ctx context.Context) (io.ReadCloser, error)
	contentType string
}

// NewReaderMicrophone creates a microphone whose capture sessions come from open.
func NewReaderMicrophone(contentType string, open func(ctx context.Context) (io.ReadCloser, error)) *ReaderMicrophone {
	return &ReaderMicrophone{open: open, contentType: contentType}
}

func (m *ReaderMicrophone) Acquire(ctx context.Context) (io.ReadCloser, error) {
	return m.open(ctx)
}

func (m *ReaderMicrophone) ContentType() string {
	return m.contentType
}
