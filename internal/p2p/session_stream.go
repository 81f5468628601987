package p2p

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/anonsend/inode/pkg/logging"
	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
)

// SessionProtocol is the direct stream protocol carrying the session-scoped
// half of the message table (dsa/dsi/dssu/dsf/dss/dsc), mirroring the
// teacher's SwapDirectProtocol constant and framing.
const SessionProtocol protocol.ID = "/anonsend/session/1.0.0"

// maxMessageSize bounds a single framed message, matching the teacher's
// stream_handler.go constant.
const maxMessageSize = 1 << 20

// Deduper is the storage-backed dedup interface session messages use to
// make delivery idempotent across retries (§8 "Entry idempotence").
type Deduper interface {
	HasReceivedMessage(id string) (bool, error)
	RecordReceivedMessage(id string) error
	MarkMessageProcessed(id string) error
}

// MessageHandler processes one decoded Envelope delivered over from.
// from is the libp2p peer the stream actually arrived on -- distinct from
// env.FromPeer, which is the network-address identity the mixing protocol
// reasons about (§9) -- so handlers can both dispatch on protocol identity
// and learn the transport mapping between the two.
type MessageHandler func(from peer.ID, env Envelope) error

// StreamHandler owns the session-protocol stream handler side (incoming
// connections), mirroring the teacher's internal/node/stream_handler.go.
type StreamHandler struct {
	host    host.Host
	dedupe  Deduper
	log     *logging.Logger
	mu      sync.Mutex
	onMsg   map[string]MessageHandler
}

// NewStreamHandler constructs a StreamHandler bound to h.
func NewStreamHandler(h host.Host, dedupe Deduper, log *logging.Logger) *StreamHandler {
	if log == nil {
		log = logging.GetDefault().Component("p2p")
	}
	return &StreamHandler{host: h, dedupe: dedupe, log: log, onMsg: make(map[string]MessageHandler)}
}

// OnMessage registers a handler for a given message type (one of the Msg*
// constants in messages.go).
func (sh *StreamHandler) OnMessage(msgType string, h MessageHandler) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.onMsg[msgType] = h
}

// Start registers the stream handler on the host.
func (sh *StreamHandler) Start() {
	sh.host.SetStreamHandler(SessionProtocol, sh.handleStream)
}

// Stop removes the stream handler.
func (sh *StreamHandler) Stop() {
	sh.host.RemoveStreamHandler(SessionProtocol)
}

func (sh *StreamHandler) handleStream(s network.Stream) {
	defer s.Close()

	data, err := readLengthPrefixed(s)
	if err != nil {
		sh.log.Warnf("session_stream: read failed: %v", err)
		return
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		sh.log.Warnf("session_stream: malformed envelope: %v", err)
		return
	}

	if sh.dedupe != nil {
		seen, err := sh.dedupe.HasReceivedMessage(env.MessageID)
		if err != nil {
			sh.log.Errorf("session_stream: dedup check failed: %v", err)
		} else if seen {
			sh.sendAck(s, env)
			return
		}
		if err := sh.dedupe.RecordReceivedMessage(env.MessageID); err != nil {
			sh.log.Errorf("session_stream: record received failed: %v", err)
		}
	}

	sh.mu.Lock()
	handler, ok := sh.onMsg[env.Type]
	sh.mu.Unlock()

	if ok {
		if err := handler(s.Conn().RemotePeer(), env); err != nil {
			sh.log.Warnf("session_stream: handler for %s failed: %v", env.Type, err)
		}
	}

	if sh.dedupe != nil {
		_ = sh.dedupe.MarkMessageProcessed(env.MessageID)
	}

	if env.RequiresAck {
		sh.sendAck(s, env)
	}
}

func (sh *StreamHandler) sendAck(s network.Stream, env Envelope) {
	ack := AckPayload{MessageID: env.MessageID, Timestamp: time.Now().Unix()}
	data, err := json.Marshal(ack)
	if err != nil {
		return
	}
	if err := writeLengthPrefixed(s, data); err != nil {
		sh.log.Warnf("session_stream: ack write failed: %v", err)
	}
}

// readLengthPrefixed reads a 4-byte big-endian length prefix followed by
// that many bytes, matching the teacher's framing exactly.
func readLengthPrefixed(r io.Reader) ([]byte, error) {
	br := bufio.NewReader(r)
	var lenBuf [4]byte
	if _, err := io.ReadFull(br, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("read length prefix: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxMessageSize {
		return nil, fmt.Errorf("message too large: %d bytes", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(br, buf); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return buf, nil
}

// writeLengthPrefixed writes data with a 4-byte big-endian length prefix.
func writeLengthPrefixed(w io.Writer, data []byte) error {
	if len(data) > maxMessageSize {
		return fmt.Errorf("message too large: %d bytes", len(data))
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// Sender opens outbound session-protocol streams, mirroring the teacher's
// message_sender.go retry/backoff configuration.
type Sender struct {
	host host.Host
	log  *logging.Logger
	cfg  SenderConfig
}

// SenderConfig mirrors the teacher's MessageSenderConfig fields.
type SenderConfig struct {
	InitialRetryInterval time.Duration
	MaxRetryInterval     time.Duration
	BackoffMultiplier    float64
	AckTimeout           time.Duration
	MaxRetries           int
	ConnectTimeout       time.Duration
}

// DefaultSenderConfig mirrors the teacher's DefaultMessageSenderConfig.
func DefaultSenderConfig() SenderConfig {
	return SenderConfig{
		InitialRetryInterval: 2 * time.Second,
		MaxRetryInterval:     30 * time.Second,
		BackoffMultiplier:    2.0,
		AckTimeout:           10 * time.Second,
		MaxRetries:           5,
		ConnectTimeout:       15 * time.Second,
	}
}

// NewSender constructs a Sender.
func NewSender(h host.Host, cfg SenderConfig, log *logging.Logger) *Sender {
	if log == nil {
		log = logging.GetDefault().Component("p2p")
	}
	return &Sender{host: h, cfg: cfg, log: log}
}

// Send delivers env to peerID, retrying with exponential backoff up to
// cfg.MaxRetries times whenever an attempt fails: the stream cannot be
// opened or written, or a required ACK is not received within
// cfg.AckTimeout.
func (s *Sender) Send(ctx context.Context, peerID peer.ID, env Envelope) error {
	if env.MessageID == "" {
		env.MessageID = uuid.NewString()
	}
	env.Timestamp = time.Now().Unix()

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("session_stream: marshal: %w", err)
	}

	interval := s.cfg.InitialRetryInterval
	var lastErr error
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if err := s.sendOnce(ctx, peerID, data, env.RequiresAck); err != nil {
			lastErr = err
			s.log.Warnf("session_stream: send attempt %d to %s failed: %v", attempt+1, peerID, err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
			interval = time.Duration(float64(interval) * s.cfg.BackoffMultiplier)
			if interval > s.cfg.MaxRetryInterval {
				interval = s.cfg.MaxRetryInterval
			}
			continue
		}
		return nil
	}
	return fmt.Errorf("session_stream: all retries exhausted: %w", lastErr)
}

func (s *Sender) sendOnce(ctx context.Context, peerID peer.ID, data []byte, wantAck bool) error {
	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	stream, err := s.host.NewStream(dialCtx, peerID, SessionProtocol)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer stream.Close()

	if err := writeLengthPrefixed(stream, data); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	if !wantAck {
		return nil
	}

	_ = stream.SetReadDeadline(time.Now().Add(s.cfg.AckTimeout))
	ackData, err := readLengthPrefixed(stream)
	if err != nil {
		return fmt.Errorf("read ack: %w", err)
	}
	var ack AckPayload
	if err := json.Unmarshal(ackData, &ack); err != nil {
		return fmt.Errorf("malformed ack: %w", err)
	}
	return nil
}
