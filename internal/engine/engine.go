// Package engine drives capture sources through the conversation
// tracker and streams the resulting conversation activity to connected
// clients.
package engine

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/gopacket"
	"go.uber.org/zap"

	"convtrack/internal/capture"
	"convtrack/internal/config"
	"convtrack/internal/conversation"
	"convtrack/internal/convkey"
	"convtrack/internal/models"
	"convtrack/internal/parser"
)

// protoTrack keys the engine's own per-conversation data.
const protoTrack = 1

// statsEvery is how often a capture progress message goes out, in frames.
const statsEvery = 500

// convStats accumulates per-conversation counters. AFrames and BFrames
// split frames by direction relative to the conversation's first
// recorded tuple.
type convStats struct {
	Frames  uint64
	Bytes   uint64
	AFrames uint64
	BFrames uint64
}

// Client receives conversation broadcasts.
type Client interface {
	SendMessage(msg models.WSMessage) error
}

// Engine owns the conversation session for the current capture and fans
// conversation events out to clients. A new capture starts a fresh
// session; conversation state never outlives its capture.
//
// The session is single-writer by contract, so mu is held across every
// packet and across snapshot construction: the HTTP and websocket
// goroutines only ever observe the session between packets. One source
// runs at a time; starting a capture or loading a file while another is
// active is refused.
type Engine struct {
	log *zap.Logger
	cfg *config.Config

	// mu guards the session and capture state below.
	mu          sync.Mutex
	sess        *conversation.Session
	liveCapture *capture.LiveCapture
	stopCh      chan struct{}
	capturing   bool
	loading     bool
	fileName    string
	frameCount  int
	startTime   time.Time

	clientsMu sync.Mutex
	clients   map[Client]bool
}

// New creates an Engine with an empty session.
func New(log *zap.Logger, cfg *config.Config) *Engine {
	return &Engine{
		log:     log,
		cfg:     cfg,
		clients: make(map[Client]bool),
		sess:    conversation.NewSession(log, cfg.Deinterlace.Key()),
	}
}

// RegisterClient adds a client to receive conversation broadcasts.
func (e *Engine) RegisterClient(c Client) {
	e.clientsMu.Lock()
	defer e.clientsMu.Unlock()
	e.clients[c] = true
}

// UnregisterClient removes a client.
func (e *Engine) UnregisterClient(c Client) {
	e.clientsMu.Lock()
	defer e.clientsMu.Unlock()
	delete(e.clients, c)
}

// GetInterfaces returns available network interfaces.
func (e *Engine) GetInterfaces() ([]models.InterfaceInfo, error) {
	ifaces, err := capture.ListInterfaces()
	if err != nil {
		return nil, err
	}
	var out []models.InterfaceInfo
	for _, i := range ifaces {
		out = append(out, models.InterfaceInfo{
			Name:        i.Name,
			Description: i.Description,
			Addresses:   i.Addresses,
		})
	}
	return out, nil
}

// Conversations returns a snapshot of every conversation in the current
// session. The lock is held while the snapshot is built so the capture
// goroutine cannot mutate records mid-read.
func (e *Engine) Conversations() []models.ConversationInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	convs := e.sess.Conversations()
	out := make([]models.ConversationInfo, 0, len(convs))
	for _, conv := range convs {
		out = append(out, convInfo(e.sess, conv))
	}
	return out
}

// StartCapture begins a live capture on the given interface. The
// session is reset: conversations from a previous capture do not bleed
// into this one.
func (e *Engine) StartCapture(req models.StartCaptureRequest) error {
	e.mu.Lock()
	if e.capturing || e.loading {
		e.mu.Unlock()
		return fmt.Errorf("capture already running")
	}
	// Reserve the engine before the (slow) pcap open so a second caller
	// cannot slip in.
	e.capturing = true
	e.mu.Unlock()

	opts := capture.Options{
		SnapLen:   req.SnapLen,
		BPFFilter: req.BPFFilter,
	}
	if opts.SnapLen <= 0 {
		opts.SnapLen = e.cfg.Capture.SnapLen
	}
	if opts.BPFFilter == "" {
		opts.BPFFilter = e.cfg.Capture.BPFFilter
	}

	lc, err := capture.NewLiveCapture(req.Interface, opts)
	if err != nil {
		e.mu.Lock()
		e.capturing = false
		e.mu.Unlock()
		return err
	}

	e.mu.Lock()
	e.liveCapture = lc
	e.fileName = ""
	e.frameCount = 0
	e.startTime = time.Now()
	e.stopCh = make(chan struct{})
	e.sess = conversation.NewSession(e.log, e.cfg.Deinterlace.Key())
	e.mu.Unlock()

	payload, _ := json.Marshal(map[string]string{"interfaceName": req.Interface})
	e.broadcast(models.WSMessage{Type: "capture_started", Payload: payload})

	go e.captureLoop(lc.Packets())

	return nil
}

// StopCapture stops the active capture.
func (e *Engine) StopCapture() {
	e.mu.Lock()
	if !e.capturing {
		e.mu.Unlock()
		return
	}
	e.capturing = false
	stopCh := e.stopCh
	lc := e.liveCapture
	e.mu.Unlock()

	// Broadcast immediately so clients get instant feedback
	e.broadcast(models.WSMessage{Type: "capture_stopped"})
	e.broadcastStats()

	// Then clean up. handle.Close() may block briefly until the
	// pending pcap read returns, but the client already knows we
	// stopped.
	close(stopCh)
	lc.Close()
}

// LoadPcapFile correlates a pcap file into a fresh session, streaming
// conversation events to all clients with pacing. Refused while a live
// capture or another load is running: a session has exactly one writer.
func (e *Engine) LoadPcapFile(path string) error {
	e.mu.Lock()
	if e.capturing || e.loading {
		e.mu.Unlock()
		return fmt.Errorf("another capture source is active")
	}
	e.loading = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.loading = false
		e.mu.Unlock()
	}()

	reader, err := capture.NewPcapReader(path)
	if err != nil {
		return err
	}
	defer reader.Close()

	e.mu.Lock()
	e.fileName = reader.Path()
	e.frameCount = 0
	e.startTime = time.Time{}
	e.sess = conversation.NewSession(e.log, e.cfg.Deinterlace.Key())
	e.mu.Unlock()

	source := reader.Packets()
	batch := 0
	for pkt := range source.Packets() {
		e.processPacket(pkt)

		// Pace: yield every 200 packets so the client can breathe
		batch++
		if batch >= 200 {
			batch = 0
			time.Sleep(5 * time.Millisecond)
		}
	}

	e.broadcastStats()
	return nil
}

func (e *Engine) captureLoop(source *gopacket.PacketSource) {
	for {
		select {
		case <-e.stopCh:
			return
		default:
		}

		pkt, err := source.NextPacket()
		if err != nil {
			select {
			case <-e.stopCh:
				return
			default:
			}
			e.log.Warn("packet read error", zap.Error(err))
			continue
		}

		e.processPacket(pkt)
	}
}

// processPacket runs one packet through the tracker and broadcasts the
// resulting conversation state. The lock is held from lookup through
// snapshot construction; broadcasting happens outside it.
func (e *Engine) processPacket(pkt gopacket.Packet) {
	e.mu.Lock()
	e.frameCount++
	frame := uint32(e.frameCount)
	sess := e.sess

	info, ok := parser.ExtractPacketInfo(pkt, frame)
	if !ok {
		e.mu.Unlock()
		return
	}

	// The anchor for the packet's link-layer context has to exist
	// before any anchored lookup can succeed.
	if sess.DeinterlacingEnabled() {
		sess.FindOrCreateDeinterlacer(info)
	}

	// Packets without a transport layer correlate on the address pair
	// alone.
	var findOpts, newOpts conversation.Options
	if info.Kind == convkey.KindNone {
		findOpts = conversation.FindNoPortX
		newOpts = conversation.OptNoPorts
	}

	conv := sess.FindStrat(info, info.Kind, findOpts)
	created := conv == nil
	if created {
		conv = sess.NewStrat(info, info.Kind, newOpts)
		sess.AddProtoData(conv, protoTrack, &convStats{})
		sess.SetDissector(conv, directionCounter(sess))
	}
	if frame > conv.LastFrame {
		conv.LastFrame = frame
	}

	if st, ok := sess.ProtoData(conv, protoTrack).(*convStats); ok {
		st.Frames++
		st.Bytes += uint64(pkt.Metadata().CaptureInfo.Length)
	}

	sess.TryDissector(info, info.Src, info.Dst, info.Kind,
		info.SrcPort, info.DstPort, 0)

	snapshot := convInfo(sess, conv)
	e.mu.Unlock()

	msgType := "conversation_update"
	if created {
		msgType = "conversation_new"
	}
	payload, _ := json.Marshal(snapshot)
	e.broadcast(models.WSMessage{Type: msgType, Payload: payload})

	if int(frame)%statsEvery == 0 {
		e.broadcastStats()
	}
}

// directionCounter is the dissector the engine installs on every
// conversation it creates: it splits the frame count by direction
// relative to the conversation's first recorded tuple.
func directionCounter(sess *conversation.Session) conversation.HandleFunc {
	return func(p *conversation.PacketInfo, conv *conversation.Conversation) bool {
		st, ok := sess.ProtoData(conv, protoTrack).(*convStats)
		if !ok {
			return false
		}
		if p.Src == conv.Addr1() && p.SrcPort == conv.Port1() {
			st.AFrames++
		} else {
			st.BFrames++
		}
		return true
	}
}

// convInfo builds the wire form of one conversation. Callers must hold
// e.mu.
func convInfo(sess *conversation.Session, conv *conversation.Conversation) models.ConversationInfo {
	ci := models.ConversationInfo{
		ID:         conv.Index,
		Kind:       conv.Key.Kind.String(),
		AddrA:      conv.Addr1().String(),
		PortA:      conv.Port1(),
		AddrB:      conv.Addr2().String(),
		PortB:      conv.Port2(),
		SetupFrame: conv.SetupFrame,
		LastFrame:  conv.LastFrame,
		Template:   conv.IsTemplate(),
		Anchored:   sess.DeinterlacingEnabled(),
	}
	if st, ok := sess.ProtoData(conv, protoTrack).(*convStats); ok {
		ci.Frames = st.Frames
		ci.Bytes = st.Bytes
	}
	return ci
}

func (e *Engine) broadcastStats() {
	e.mu.Lock()
	stats := models.CaptureStats{
		FrameCount:    e.frameCount,
		Conversations: e.sess.Count(),
		File:          e.fileName,
	}
	if e.capturing && e.liveCapture != nil {
		stats.InterfaceName = e.liveCapture.Interface()
		if _, dropped, err := e.liveCapture.Stats(); err == nil {
			stats.DroppedCount = dropped
		}
	}
	e.mu.Unlock()

	payload, _ := json.Marshal(stats)
	e.broadcast(models.WSMessage{Type: "stats", Payload: payload})
}

func (e *Engine) broadcast(msg models.WSMessage) {
	e.clientsMu.Lock()
	clients := make([]Client, 0, len(e.clients))
	for c := range e.clients {
		clients = append(clients, c)
	}
	e.clientsMu.Unlock()

	for _, c := range clients {
		c.SendMessage(msg)
	}
}
