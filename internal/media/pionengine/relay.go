package pionengine

import (
	"maps"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type trackState int32

const (
	trackOk trackState = iota
	trackMuted
	trackDelete
)

// outTrack is one consumer-facing copy of a produced stream.
type outTrack struct {
	track *webrtc.TrackLocalStaticRTP
	st    atomic.Int32
}

func newOutTrack(track *webrtc.TrackLocalStaticRTP) *outTrack {
	return &outTrack{track: track}
}

func (ot *outTrack) state() trackState     { return trackState(ot.st.Load()) }
func (ot *outTrack) setState(s trackState) { ot.st.Store(int32(s)) }

// relay pumps RTP packets from one produced track to every subscribed
// out-track. One relay goroutine per producer; it exits when the source
// track errors (producer stopped) or stop is called.
type relay struct {
	src *webrtc.TrackRemote

	mu        sync.RWMutex
	outTracks map[string]*outTrack

	stopped atomic.Bool
}

func newRelay(src *webrtc.TrackRemote) *relay {
	return &relay{src: src, outTracks: make(map[string]*outTrack)}
}

func (r *relay) loop() {
	for {
		if r.stopped.Load() {
			return
		}
		pkt, _, err := r.src.ReadRTP()
		if err != nil {
			log.Debug().Err(err).Str("module", "pionengine").Msg("relay source ended")
			r.markAllDelete()
			return
		}
		r.forward(pkt)
	}
}

func (r *relay) forward(pkt *rtp.Packet) {
	r.mu.RLock()
	snapshot := make(map[string]*outTrack, len(r.outTracks))
	maps.Copy(snapshot, r.outTracks)
	r.mu.RUnlock()

	var dirty []string
	for id, ot := range snapshot {
		switch ot.state() {
		case trackDelete:
			dirty = append(dirty, id)
		case trackMuted:
		case trackOk:
			if err := ot.track.WriteRTP(pkt); err != nil {
				log.Warn().Err(err).Str("module", "pionengine").Str("consumer", id).Msg("relay write failed")
				ot.setState(trackDelete)
				dirty = append(dirty, id)
			}
		}
	}
	if len(dirty) > 0 {
		r.mu.Lock()
		for _, id := range dirty {
			delete(r.outTracks, id)
		}
		r.mu.Unlock()
	}
}

func (r *relay) markAllDelete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ot := range r.outTracks {
		ot.setState(trackDelete)
	}
}

func (r *relay) addOutTrack(id string, ot *outTrack) {
	r.mu.Lock()
	r.outTracks[id] = ot
	r.mu.Unlock()
}

func (r *relay) removeOutTrack(id string) {
	r.mu.Lock()
	delete(r.outTracks, id)
	r.mu.Unlock()
}

func (r *relay) stop() {
	r.stopped.Store(true)
	r.markAllDelete()
}
