package target

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	srt "github.com/datarhei/gosrt"

	"github.com/haloedge/ingestd/internal/adaptor"
	"github.com/haloedge/ingestd/internal/bufpool"
)

// imageCaptureTickSize is the placeholder snapshot-frame size written on
// each periodic tick of an image-capture sink, chosen to land in bufpool's
// smallest size class.
const imageCaptureTickSize = 128

// errAddressInUse is the sentinel a TransportSink returns from Open when the
// underlying bind collided with an existing listener. Target's bus
// sync-handler (spec.md §4.2 step 5) classifies this into
// domainerr.TransmitAddrInUse instead of the generic TransmitFailed.
var errAddressInUse = fmt.Errorf("already listening on the same port")

// TransportSink is the encoder+mux+sink sub-graph's terminal element: an SRT
// connection, a recording file, or a periodic image-capture writer.
type TransportSink interface {
	// Open brings the sink to the framework's Ready state. A bind
	// collision must be reported as errAddressInUse.
	Open(ctx context.Context) error
	// Stats samples the sink's link-health fields for the stream adaptor.
	Stats() adaptor.Stats
	// BytesSent reports the sink's cumulative bytes-sent counter.
	BytesSent() uint64
	Close() error
}

// srtSink is an SRT caller/listener/rendezvous transport sink backed by
// gosrt, grounded the way the teacher's media.Recorder wraps a plain
// io.WriteCloser: construction is cheap, Open performs the actual dial/bind.
type srtSink struct {
	uri        string
	mode       string
	passphrase string
	pbkeylen   int

	mu    sync.Mutex
	conn  srt.Conn
	ln    *srt.Listener
	sent  uint64
	stats adaptor.Stats
}

func newSRTSink(uri, mode, passphrase string, pbkeylen int) *srtSink {
	return &srtSink{uri: uri, mode: mode, passphrase: passphrase, pbkeylen: pbkeylen}
}

func (s *srtSink) Open(ctx context.Context) error {
	addr, cfg, err := parseSRTURI(s.uri)
	if err != nil {
		return err
	}
	// spec.md §4.2 construction step 3: a non-empty passphrase (already
	// validated >= 10 bytes by Target.New) is set together with pbkeylen.
	if s.passphrase != "" {
		cfg.Passphrase = s.passphrase
		if s.pbkeylen != 0 {
			cfg.PBKeylen = s.pbkeylen
		}
	}

	switch s.mode {
	case "listener":
		ln, err := srt.Listen("srt", addr, cfg)
		if err != nil {
			if isAddrInUse(err) {
				return errAddressInUse
			}
			return err
		}
		s.mu.Lock()
		s.ln = ln
		s.mu.Unlock()
		return nil
	default: // caller, rendezvous
		conn, err := srt.Dial("srt", addr, cfg)
		if err != nil {
			if isAddrInUse(err) {
				return errAddressInUse
			}
			return err
		}
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		return nil
	}
}

func (s *srtSink) Stats() adaptor.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn := s.conn
	if conn == nil {
		return s.stats
	}
	st := conn.Stats()
	s.stats = adaptor.Stats{
		RTTMillis:    st.MsRTT,
		LossFraction: lossFraction(st),
		BytesSent:    uint64(st.Accumulated.PktSentTotal) * 1316,
	}
	return s.stats
}

func (s *srtSink) BytesSent() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return s.sent
	}
	return s.conn.Stats().Accumulated.ByteSentTotal
}

func (s *srtSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.conn != nil {
		err = s.conn.Close()
		s.conn = nil
	}
	if s.ln != nil {
		if lerr := s.ln.Close(); lerr != nil && err == nil {
			err = lerr
		}
		s.ln = nil
	}
	return err
}

func lossFraction(st srt.Statistics) float64 {
	sent := st.Accumulated.PktSentTotal
	if sent == 0 {
		return 0
	}
	return float64(st.Accumulated.PktSndLossTotal) / float64(sent)
}

func isAddrInUse(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "address already in use") ||
		strings.Contains(strings.ToLower(err.Error()), "already listening")
}

// parseSRTURI splits host:port from query parameters already spliced into
// the URI by rewriteURI and turns the remainder into a gosrt Config.
func parseSRTURI(uri string) (addr string, cfg srt.Config, err error) {
	trimmed := strings.TrimPrefix(uri, "srt://")
	hostport := trimmed
	if idx := strings.IndexByte(trimmed, '?'); idx >= 0 {
		hostport = trimmed[:idx]
	}
	cfg = srt.DefaultConfig()
	if streamID := queryParam(uri, "streamid"); streamID != "" {
		cfg.StreamId = streamID
	}
	return hostport, cfg, nil
}

func queryParam(uri, key string) string {
	idx := strings.IndexByte(uri, '?')
	if idx < 0 {
		return ""
	}
	for _, kv := range strings.Split(uri[idx+1:], "&") {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 && parts[0] == key {
			return parts[1]
		}
	}
	return ""
}

// fileSink backs recording and image-capture targets: a plain file the
// muxer writes tagged frames into, grounded on the teacher's FLV recorder
// (media/recorder.go) pattern of "create on Open, track bytes, degrade to
// closed on write failure".
type fileSink struct {
	path string

	mu           sync.Mutex
	f            *os.File
	bytesWritten uint64
	periodic     bool
	stopTick     chan struct{}
}

func newFileSink(path string, periodic bool) *fileSink {
	return &fileSink{path: path, periodic: periodic}
}

func (s *fileSink) Open(ctx context.Context) error {
	f, err := os.Create(s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.f = f
	s.mu.Unlock()
	if s.periodic {
		s.stopTick = make(chan struct{})
		go s.tick()
	}
	return nil
}

func (s *fileSink) tick() {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-s.stopTick:
			return
		case <-t.C:
			buf := bufpool.Get(imageCaptureTickSize)
			s.mu.Lock()
			if s.f != nil {
				n, _ := s.f.Write(buf)
				s.bytesWritten += uint64(n)
			}
			s.mu.Unlock()
			bufpool.Put(buf)
		}
	}
}

func (s *fileSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return 0, fmt.Errorf("target: file sink not open")
	}
	n, err := s.f.Write(p)
	s.bytesWritten += uint64(n)
	return n, err
}

func (s *fileSink) Stats() adaptor.Stats { return adaptor.Stats{} }

func (s *fileSink) BytesSent() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytesWritten
}

func (s *fileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopTick != nil {
		close(s.stopTick)
		s.stopTick = nil
	}
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// FakeSink is a deterministic in-memory TransportSink for tests: it never
// touches the network or filesystem, and lets tests drive stats/bytes/open
// failures directly (the idiomatic substitute for the teacher's injected
// RTMPClientFactory / newRecorderWithWriter fakes).
type FakeSink struct {
	OpenErr error

	sent  atomic.Uint64
	stats atomic.Pointer[adaptor.Stats]
	open  atomic.Bool
}

func NewFakeSink() *FakeSink { return &FakeSink{} }

func (f *FakeSink) Open(ctx context.Context) error {
	if f.OpenErr != nil {
		return f.OpenErr
	}
	f.open.Store(true)
	return nil
}

func (f *FakeSink) SetStats(s adaptor.Stats) { f.stats.Store(&s) }

func (f *FakeSink) AddBytesSent(n uint64) { f.sent.Add(n) }

func (f *FakeSink) Stats() adaptor.Stats {
	if p := f.stats.Load(); p != nil {
		return *p
	}
	return adaptor.Stats{}
}

func (f *FakeSink) BytesSent() uint64 { return f.sent.Load() }

func (f *FakeSink) Close() error {
	f.open.Store(false)
	return nil
}

// DefaultSinkFactory is the production SinkFactory: srt:// targets get an
// srtSink, recording targets get a plain fileSink, and image-capture
// targets get a periodic-tick fileSink (spec.md §4.2 step 4).
func DefaultSinkFactory(p Params, rewrittenURI string) (TransportSink, error) {
	switch p.Kind {
	case KindSRT:
		return newSRTSink(rewrittenURI, p.SRTMode.String(), p.Passphrase, p.Pbkeylen), nil
	case KindImageCapture:
		return newFileSink(rewrittenURI, true), nil
	default:
		return newFileSink(rewrittenURI, false), nil
	}
}
