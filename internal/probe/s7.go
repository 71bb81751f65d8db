package probe

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
)

// S7Prober drives the three-stage S7comm handshake against a PLC. The
// stages run in strict order over one TCP connection; any failure,
// including a clean stages 1-2 with a failed stage 3, is non-discovery
// because only the diagnostic payload positively identifies a device.
type S7Prober struct {
	log zerolog.Logger

	// Rack and Slot locate the CPU; the called-TSAP byte is rack*32+slot
	Rack int
	Slot int
	// ResponseTimeout bounds each stage's reply on top of the overall
	// target deadline
	ResponseTimeout time.Duration
}

// NewS7Prober creates an S7comm prober addressing the common CPU slot
func NewS7Prober(log zerolog.Logger) *S7Prober {
	return &S7Prober{
		log:             log.With().Str("prober", "s7").Logger(),
		Rack:            0,
		Slot:            2,
		ResponseTimeout: 2 * time.Second,
	}
}

// Name returns the prober identifier
func (s *S7Prober) Name() string { return "s7" }

// DefaultPort returns the ISO-on-TCP port
func (s *S7Prober) DefaultPort() int { return 102 }

// ServiceTag classifies positive results
func (s *S7Prober) ServiceTag() string { return "plc" }

// Discover connects and runs connect -> setup -> diagnostic query.
// The sequence reference advances between stages so replies correlate.
func (s *S7Prober) Discover(ctx context.Context, target Target) Result {
	deadline := deadlineFor(ctx, target)
	addr := target.Addr(s.DefaultPort())

	dialer := net.Dialer{Deadline: deadline}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		s.log.Debug().Err(err).Str("target", addr).Msg("connect failed")
		return NotFound()
	}
	defer conn.Close()

	// Stage 1: transport connection
	reply, err := s.exchange(conn, deadline, connectFrame(s.Rack, s.Slot))
	if err == nil {
		err = parseConnectConfirm(reply)
	}
	if err != nil {
		s.log.Debug().Err(err).Str("target", addr).Msg("connection request refused")
		return NotFound()
	}

	// Stage 2: parameter negotiation
	seq := uint16(1)
	reply, err = s.exchange(conn, deadline, setupFrame(seq))
	if err != nil {
		s.log.Debug().Err(err).Str("target", addr).Msg("setup exchange failed")
		return NotFound()
	}
	pduLength, err := parseSetupResponse(reply)
	if err != nil {
		s.log.Debug().Err(err).Str("target", addr).Msg("setup rejected")
		return NotFound()
	}

	// Stage 3: module identification query
	seq++
	reply, err = s.exchange(conn, deadline, diagnosticFrame(seq, szlModuleIdentification, 0x0000))
	if err != nil {
		s.log.Debug().Err(err).Str("target", addr).Msg("diagnostic exchange failed")
		return NotFound()
	}
	payload, err := parseDiagnosticResponse(reply)
	if err != nil {
		s.log.Debug().Err(err).Str("target", addr).Msg("diagnostic query rejected")
		return NotFound()
	}

	details := map[string]any{
		"rack":         s.Rack,
		"slot":         s.Slot,
		"pdu_length":   int(pduLength),
		"identity_raw": hex.EncodeToString(payload),
	}
	if id, err := parseModuleIdentification(payload); err == nil {
		details["module"] = id.OrderCode
		details["record_count"] = id.Records
	} else {
		// The blob alone is identifying; structured fields are best effort
		s.log.Debug().Err(err).Str("target", addr).Msg("identification parse incomplete")
	}

	s.log.Debug().Str("target", addr).Int("pdu_length", int(pduLength)).Msg("plc identified")
	return Result{Found: true, Details: details}
}

// exchange writes one request frame and reads one framed reply under
// the tighter of the stage timeout and the overall deadline
func (s *S7Prober) exchange(conn net.Conn, deadline time.Time, frame []byte) ([]byte, error) {
	stage := deadline
	if s.ResponseTimeout > 0 {
		if t := time.Now().Add(s.ResponseTimeout); t.Before(stage) {
			stage = t
		}
	}
	if err := conn.SetDeadline(stage); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}
	if _, err := conn.Write(frame); err != nil {
		return nil, fmt.Errorf("write frame: %w", err)
	}
	return readFrame(conn)
}
