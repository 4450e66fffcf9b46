// Package recording captures a live call locally. All tracks from the local
// capture and the combined remote stream are merged into a single WebM blob
// that is handed to a Sink when recording stops. Purely local; nothing is
// signaled.
package recording

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pion/mediadevices"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/samplebuilder"

	"github.com/duocall/duocall/internal/media"
)

var (
	ErrAlreadyRecording = errors.New("recording already in progress")
	ErrNotRecording     = errors.New("no recording in progress")
)

// Sink receives the finished blob. What happens to it afterwards, upload or
// local save, is the sink's business.
type Sink interface {
	SaveRecording(name string, data []byte) error
}

// FileSink writes recordings into a directory.
type FileSink struct {
	Dir string
}

func (s FileSink) SaveRecording(name string, data []byte) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.Dir, name), data, 0o644)
}

// localReader is one encoded frame tap on a local track.
type localReader interface {
	Read() (data []byte, release func(), err error)
	Close() error
}

// readerOpener opens a localReader for a track. Production uses
// mediadevicesReader; tests substitute scripted frames.
type readerOpener func(track webrtc.TrackLocal, mime string) (localReader, error)

// mediadevicesReader taps a capture track through its side encoder. The
// capture pipeline broadcasts raw frames, so this encoder runs in parallel to
// the one feeding RTP.
func mediadevicesReader(track webrtc.TrackLocal, mime string) (localReader, error) {
	src, ok := track.(interface {
		NewEncodedReader(codecName string) (mediadevices.EncodedReadCloser, error)
	})
	if !ok {
		return nil, fmt.Errorf("track %q has no encoded reader", track.ID())
	}
	r, err := src.NewEncodedReader(mime)
	if err != nil {
		return nil, err
	}
	return encodedAdapter{r}, nil
}

type encodedAdapter struct {
	r mediadevices.EncodedReadCloser
}

func (a encodedAdapter) Read() ([]byte, func(), error) {
	buf, release, err := a.r.Read()
	if err != nil {
		return nil, nil, err
	}
	return buf.Data, release, nil
}

func (a encodedAdapter) Close() error { return a.r.Close() }

// Recorder merges local and remote tracks into one WebM blob per recording.
type Recorder struct {
	sink Sink
	log  *slog.Logger
	open readerOpener

	mu      sync.Mutex
	active  bool
	stop    chan struct{}
	readers []localReader
	localWG sync.WaitGroup
	mux     *muxer
	started time.Time
}

func NewRecorder(sink Sink, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{sink: sink, log: log, open: mediadevicesReader}
}

func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Start begins pulling frames from every recordable track. Local tracks are
// tapped through side encoders; remote tracks are depacketized from RTP.
func (r *Recorder) Start(local *media.Bundle, remote *media.RemoteStream) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return ErrAlreadyRecording
	}
	if r.sink == nil {
		return fmt.Errorf("recording: nil sink")
	}

	type localPump struct {
		reader localReader
		spec   trackSpec
	}
	var specs []trackSpec
	var pumps []localPump
	next := uint64(1)

	if local != nil {
		for _, track := range local.Tracks() {
			video := track.Kind() == webrtc.RTPCodecTypeVideo
			mime := webrtc.MimeTypeOpus
			if video {
				mime = webrtc.MimeTypeVP8
			}
			reader, err := r.open(track, mime)
			if err != nil {
				r.log.Warn("recording: skip local track", "track", track.ID(), "err", err)
				continue
			}
			spec := trackSpec{num: next, video: video}
			next++
			specs = append(specs, spec)
			pumps = append(pumps, localPump{reader: reader, spec: spec})
		}
	}

	var remoteTracks []*webrtc.TrackRemote
	var remoteSpecs []trackSpec
	if remote != nil {
		for _, track := range remote.Tracks() {
			spec := trackSpec{num: next, video: track.Kind() == webrtc.RTPCodecTypeVideo}
			next++
			specs = append(specs, spec)
			remoteTracks = append(remoteTracks, track)
			remoteSpecs = append(remoteSpecs, spec)
		}
	}

	if len(specs) == 0 {
		return fmt.Errorf("recording: no recordable tracks")
	}

	mux := newMuxer(specs)
	stop := make(chan struct{})
	started := time.Now()

	r.mux = mux
	r.stop = stop
	r.started = started
	r.readers = nil

	for _, p := range pumps {
		r.readers = append(r.readers, p.reader)
		r.localWG.Add(1)
		go r.pumpLocal(mux, p.reader, p.spec, started)
	}
	for i, track := range remoteTracks {
		go r.pumpRemote(mux, track, remoteSpecs[i], started, stop)
	}

	r.active = true
	r.log.Info("recording started", "tracks", len(specs))
	return nil
}

// Stop drains the local taps, assembles the blob and hands it to the sink.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return ErrNotRecording
	}
	r.active = false
	close(r.stop)
	readers := r.readers
	r.readers = nil
	mux := r.mux
	started := r.started
	r.mu.Unlock()

	for _, rd := range readers {
		if err := rd.Close(); err != nil {
			r.log.Warn("recording: close reader", "err", err)
		}
	}
	r.localWG.Wait()

	blob := mux.finalize()
	name := "call-" + started.Format("20060102-150405") + ".webm"
	if err := r.sink.SaveRecording(name, blob); err != nil {
		return fmt.Errorf("save recording: %w", err)
	}
	r.log.Info("recording saved", "name", name, "bytes", len(blob))
	return nil
}

func (r *Recorder) pumpLocal(mux *muxer, reader localReader, spec trackSpec, started time.Time) {
	defer r.localWG.Done()
	for {
		data, release, err := reader.Read()
		if err != nil {
			return
		}
		key := true
		if spec.video {
			key = len(data) > 0 && data[0]&0x01 == 0
		}
		mux.push(spec.num, time.Since(started).Milliseconds(), key, data)
		if release != nil {
			release()
		}
	}
}

// pumpRemote reassembles encoded frames from the remote RTP stream. The read
// unblocks when the transport closes; stop only prevents pushes from a call
// that outlives the recording.
func (r *Recorder) pumpRemote(mux *muxer, track *webrtc.TrackRemote, spec trackSpec, started time.Time, stop chan struct{}) {
	var depacketizer rtp.Depacketizer = &codecs.OpusPacket{}
	clockRate := uint32(48000)
	if spec.video {
		depacketizer = &codecs.VP8Packet{}
		clockRate = 90000
	}
	builder := samplebuilder.New(64, depacketizer, clockRate)

	for {
		select {
		case <-stop:
			return
		default:
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		builder.Push(pkt)
		for sample := builder.Pop(); sample != nil; sample = builder.Pop() {
			key := true
			if spec.video {
				key = len(sample.Data) > 0 && sample.Data[0]&0x01 == 0
			}
			mux.push(spec.num, time.Since(started).Milliseconds(), key, sample.Data)
		}
	}
}
