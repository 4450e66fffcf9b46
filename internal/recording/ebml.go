package recording

// Minimal WebM/EBML muxing. The recorder buffers encoded frames for the
// duration of the recording and finalize assembles one self-contained blob:
// EBML header, Segment, Info, Tracks, then keyframe-aligned clusters.

import (
	"bytes"
	"encoding/binary"
	"math"
	"sort"
	"sync"
)

// vint encodes v as an EBML variable-length integer for element sizes.
// Four bytes cover every element size this muxer produces.
func vint(v uint64) []byte {
	switch {
	case v < 0x7F:
		return []byte{byte(0x80 | v)}
	case v < 0x3FFF:
		return []byte{byte(0x40 | (v >> 8)), byte(v)}
	case v < 0x1FFFFF:
		return []byte{byte(0x20 | (v >> 16)), byte(v >> 8), byte(v)}
	default:
		return []byte{byte(0x10 | (v >> 24)), byte(v >> 16), byte(v >> 8), byte(v)}
	}
}

// element encodes id + vint(len(body)) + body.
func element(id, body []byte) []byte {
	out := make([]byte, 0, len(id)+8+len(body))
	out = append(out, id...)
	out = append(out, vint(uint64(len(body)))...)
	return append(out, body...)
}

// uintBytes encodes v in the minimal number of big-endian bytes.
func uintBytes(v uint64) []byte {
	if v == 0 {
		return []byte{0}
	}
	n := 0
	for x := v; x > 0; x >>= 8 {
		n++
	}
	out := make([]byte, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = byte(v)
		v >>= 8
	}
	return out
}

func concat(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// segmentUnknownSize marks the Segment element as open-ended; players read
// until EOF.
var segmentUnknownSize = []byte{0x01, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

var (
	idEBML          = []byte{0x1A, 0x45, 0xDF, 0xA3}
	idEBMLVersion   = []byte{0x42, 0x86}
	idEBMLReadVer   = []byte{0x42, 0xF7}
	idEBMLMaxIDLen  = []byte{0x42, 0xF2}
	idEBMLMaxSizeLn = []byte{0x42, 0xF3}
	idDocType       = []byte{0x42, 0x82}
	idDocTypeVer    = []byte{0x42, 0x87}
	idDocTypeRdVer  = []byte{0x42, 0x85}
	idSegment       = []byte{0x18, 0x53, 0x80, 0x67}
	idInfo          = []byte{0x15, 0x49, 0xA9, 0x66}
	idTimecodeScale = []byte{0x2A, 0xD7, 0xB1}
	idMuxingApp     = []byte{0x4D, 0x80}
	idWritingApp    = []byte{0x57, 0x41}
	idTracks        = []byte{0x16, 0x54, 0xAE, 0x6B}
	idTrackEntry    = []byte{0xAE}
	idTrackNumber   = []byte{0xD7}
	idTrackUID      = []byte{0x73, 0xC5}
	idTrackType     = []byte{0x83}
	idCodecID       = []byte{0x86}
	idCodecPrivate  = []byte{0x63, 0xA2}
	idVideo         = []byte{0xE0}
	idPixelWidth    = []byte{0xB0}
	idPixelHeight   = []byte{0xBA}
	idAudio         = []byte{0xE1}
	idSamplingFreq  = []byte{0xB5}
	idChannels      = []byte{0x9F}
	idCluster       = []byte{0x1F, 0x43, 0xB6, 0x75}
	idTimecode      = []byte{0xE7}
	idSimpleBlock   = []byte{0xA3}
)

// opusHead is the OpusHead codec private data WebM requires for Opus tracks:
// mono, 48 kHz, 312 samples pre-skip.
var opusHead = []byte{
	'O', 'p', 'u', 's', 'H', 'e', 'a', 'd',
	0x01,
	0x01,
	0x38, 0x01,
	0x80, 0xBB, 0x00, 0x00,
	0x00, 0x00,
	0x00,
}

// trackSpec describes one WebM track. Width and height of video tracks are
// filled in at finalize time from the first keyframe.
type trackSpec struct {
	num    uint64
	video  bool
	width  uint16
	height uint16
}

// frame is one buffered encoded frame on some track.
type frame struct {
	track uint64
	tsMs  int64
	key   bool
	data  []byte
}

// muxer accumulates frames from concurrent producers and assembles the blob
// once recording stops.
type muxer struct {
	mu     sync.Mutex
	tracks []trackSpec
	frames []frame
}

func newMuxer(tracks []trackSpec) *muxer {
	return &muxer{tracks: tracks}
}

// push buffers one frame. data is copied; producers may reuse their buffers.
func (m *muxer) push(track uint64, tsMs int64, key bool, data []byte) {
	owned := make([]byte, len(data))
	copy(owned, data)
	m.mu.Lock()
	m.frames = append(m.frames, frame{track: track, tsMs: tsMs, key: key, data: owned})
	m.mu.Unlock()
}

func (m *muxer) frameCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.frames)
}

// vp8Dimensions reads the width and height from a VP8 keyframe header.
func vp8Dimensions(data []byte) (uint16, uint16, bool) {
	if len(data) < 10 || data[3] != 0x9D || data[4] != 0x01 || data[5] != 0x2A {
		return 0, 0, false
	}
	w := binary.LittleEndian.Uint16(data[6:8]) & 0x3FFF
	h := binary.LittleEndian.Uint16(data[8:10]) & 0x3FFF
	return w, h, true
}

// finalize orders the buffered frames and assembles the WebM blob. Clusters
// open on video keyframes and whenever relative timecodes would overflow a
// SimpleBlock's signed 16-bit field.
func (m *muxer) finalize() []byte {
	m.mu.Lock()
	frames := m.frames
	m.frames = nil
	tracks := make([]trackSpec, len(m.tracks))
	copy(tracks, m.tracks)
	m.mu.Unlock()

	sort.SliceStable(frames, func(i, j int) bool { return frames[i].tsMs < frames[j].tsMs })

	for i := range tracks {
		if !tracks[i].video {
			continue
		}
		tracks[i].width, tracks[i].height = 640, 480
		for _, f := range frames {
			if f.track != tracks[i].num || !f.key {
				continue
			}
			if w, h, ok := vp8Dimensions(f.data); ok {
				tracks[i].width, tracks[i].height = w, h
			}
			break
		}
	}

	var buf bytes.Buffer
	buf.Write(initSegment(tracks))

	videoTracks := make(map[uint64]bool, len(tracks))
	for _, tr := range tracks {
		if tr.video {
			videoTracks[tr.num] = true
		}
	}

	var clusterStart int64
	var blocks bytes.Buffer
	open := false
	flush := func() {
		if !open || blocks.Len() == 0 {
			open = false
			return
		}
		body := concat(element(idTimecode, uintBytes(uint64(clusterStart))), blocks.Bytes())
		buf.Write(element(idCluster, body))
		blocks.Reset()
		open = false
	}

	for _, f := range frames {
		rel := f.tsMs - clusterStart
		if open && ((f.key && videoTracks[f.track]) || rel > math.MaxInt16) {
			flush()
		}
		if !open {
			clusterStart = f.tsMs
			open = true
			rel = 0
		}
		blocks.Write(simpleBlock(f.track, int16(rel), f.key, f.data))
	}
	flush()

	return buf.Bytes()
}

// initSegment builds the EBML header, the open-ended Segment start, the
// SegmentInfo and the Tracks element.
func initSegment(tracks []trackSpec) []byte {
	var buf bytes.Buffer

	header := concat(
		element(idEBMLVersion, uintBytes(1)),
		element(idEBMLReadVer, uintBytes(1)),
		element(idEBMLMaxIDLen, uintBytes(4)),
		element(idEBMLMaxSizeLn, uintBytes(8)),
		element(idDocType, []byte("webm")),
		element(idDocTypeVer, uintBytes(2)),
		element(idDocTypeRdVer, uintBytes(2)),
	)
	buf.Write(element(idEBML, header))

	buf.Write(idSegment)
	buf.Write(segmentUnknownSize)

	info := concat(
		element(idTimecodeScale, uintBytes(1000000)), // 1 ms per timecode unit
		element(idMuxingApp, []byte("duocall")),
		element(idWritingApp, []byte("duocall")),
	)
	buf.Write(element(idInfo, info))

	var entries []byte
	for _, tr := range tracks {
		var entry []byte
		if tr.video {
			dims := concat(
				element(idPixelWidth, uintBytes(uint64(tr.width))),
				element(idPixelHeight, uintBytes(uint64(tr.height))),
			)
			entry = concat(
				element(idTrackNumber, uintBytes(tr.num)),
				element(idTrackUID, uintBytes(tr.num)),
				element(idTrackType, uintBytes(1)),
				element(idCodecID, []byte("V_VP8")),
				element(idVideo, dims),
			)
		} else {
			freq := make([]byte, 4)
			binary.BigEndian.PutUint32(freq, math.Float32bits(48000.0))
			audio := concat(
				element(idSamplingFreq, freq),
				element(idChannels, uintBytes(1)),
			)
			entry = concat(
				element(idTrackNumber, uintBytes(tr.num)),
				element(idTrackUID, uintBytes(tr.num)),
				element(idTrackType, uintBytes(2)),
				element(idCodecID, []byte("A_OPUS")),
				element(idCodecPrivate, opusHead),
				element(idAudio, audio),
			)
		}
		entries = concat(entries, element(idTrackEntry, entry))
	}
	buf.Write(element(idTracks, entries))

	return buf.Bytes()
}

// simpleBlock encodes one SimpleBlock: track vint, signed 16-bit relative
// timecode, flags (0x80 for keyframes), payload.
func simpleBlock(track uint64, relMs int16, key bool, data []byte) []byte {
	trackVint := vint(track)
	var flags byte
	if key {
		flags = 0x80
	}
	body := make([]byte, len(trackVint)+3+len(data))
	copy(body, trackVint)
	binary.BigEndian.PutUint16(body[len(trackVint):], uint16(relMs))
	body[len(trackVint)+2] = flags
	copy(body[len(trackVint)+3:], data)
	return element(idSimpleBlock, body)
}
