package bridge

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	opuscodec "github.com/jj11hh/opus"
	"github.com/pion/webrtc/v4"

	"github.com/joan6141318-ai/Moon-sub000/audio"
)

const (
	opusRate     = 48000
	maxOpusFrame = 5760 // 120 ms at 48 kHz
)

// handleOffer answers a widget offer to carry the microphone over WebRTC.
func (c *Conn) handleOffer(sdp string) {
	answer, err := c.acceptOffer(sdp)
	if err != nil {
		slog.Warn("rtc offer rejected", "conn", c.ID, "error", err)
		c.sendError(err.Error())
		return
	}
	if err := c.enqueue(sdpMessage{Type: TypeRTCAnswer, SDP: answer}); err != nil {
		slog.Debug("send rtc answer", "error", err)
	}
}

// acceptOffer creates a receive-only peer connection for the offer and
// returns the answer SDP once ICE gathering completes. Incoming opus audio
// is decoded and delivered to the running input at 16 kHz.
func (c *Conn) acceptOffer(sdp string) (string, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return "", fmt.Errorf("register codecs: %w", err)
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine))

	var iceServers []webrtc.ICEServer
	if len(c.cfg.ICEServers) > 0 {
		iceServers = []webrtc.ICEServer{{URLs: c.cfg.ICEServers}}
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return "", fmt.Errorf("create peer connection: %w", err)
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if !strings.EqualFold(track.Codec().MimeType, webrtc.MimeTypeOpus) {
			slog.Warn("ignoring non-opus track", "conn", c.ID, "mime", track.Codec().MimeType)
			return
		}
		slog.Info("rtc audio track", "conn", c.ID, "ssrc", track.SSRC())
		go c.readTrack(track)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		slog.Debug("rtc connection state", "conn", c.ID, "state", state.String())
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdp,
	}); err != nil {
		pc.Close()
		return "", fmt.Errorf("set remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return "", fmt.Errorf("create answer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return "", fmt.Errorf("set local description: %w", err)
	}

	select {
	case <-gathered:
	case <-c.closed:
		pc.Close()
		return "", ErrClosed
	}

	c.mu.Lock()
	old := c.peer
	c.peer = pc
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}

	return pc.LocalDescription().SDP, nil
}

func (c *Conn) readTrack(track *webrtc.TrackRemote) {
	dec, err := opuscodec.NewDecoder(opusRate, 1)
	if err != nil {
		slog.Error("create opus decoder", "error", err)
		return
	}

	pcm := make([]float32, maxOpusFrame)
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Debug("rtc track ended", "conn", c.ID, "error", err)
			}
			return
		}
		n, err := dec.DecodeFloat32(pkt.Payload, pcm)
		if err != nil {
			slog.Debug("decode opus packet", "error", err)
			continue
		}
		c.deliver(audio.Resample(pcm[:n], opusRate, audio.InputSampleRate))
	}
}

func (c *Conn) closePeer() {
	c.mu.Lock()
	pc := c.peer
	c.peer = nil
	c.mu.Unlock()
	if pc != nil {
		if err := pc.Close(); err != nil {
			slog.Debug("close peer connection", "error", err)
		}
	}
}
