package probe

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// S7comm frame construction and parsing. All multi-byte fields are
// big-endian. Three request frames exist, one per handshake stage, each
// built fresh and never reused.
const (
	tpktVersion = 0x03

	cotpConnectRequest = 0xe0
	cotpConnectConfirm = 0xd0
	cotpDataTransfer   = 0xf0
	cotpEOT            = 0x80

	s7ProtocolID = 0x32

	// request / response kinds (ROSCTR)
	s7Job      = 0x01
	s7AckData  = 0x03
	s7UserData = 0x07

	setupFunction = 0xf0

	// SZL 0x0011: module identification
	szlModuleIdentification = 0x0011

	proposedTPDUSize = 0x0a // 1024 byte TPDUs
	proposedPDULen   = 960
)

// tpktHeader is the transport framing layer beneath COTP
type tpktHeader struct {
	length uint16 // declared total frame length, header included
}

func (t tpktHeader) marshal() []byte {
	b := make([]byte, 4)
	b[0] = tpktVersion
	b[1] = 0x00 // reserved
	binary.BigEndian.PutUint16(b[2:], t.length)
	return b
}

// connectionRequest is the COTP connection-negotiation segment. The
// second called-TSAP byte encodes the CPU coordinates as rack*32+slot.
type connectionRequest struct {
	destRef      uint16
	srcRef       uint16
	proposedSize byte
	calling      [2]byte
	called       [2]byte
}

func (c connectionRequest) marshal() []byte {
	b := make([]byte, 0, 18)
	b = append(b, 17, cotpConnectRequest) // header length, CR TPDU
	b = binary.BigEndian.AppendUint16(b, c.destRef)
	b = binary.BigEndian.AppendUint16(b, c.srcRef)
	b = append(b, 0x00) // class 0, no extended formats
	b = append(b, 0xc0, 0x01, c.proposedSize)
	b = append(b, 0xc1, 0x02, c.calling[0], c.calling[1])
	b = append(b, 0xc2, 0x02, c.called[0], c.called[1])
	return b
}

// dataTransfer is the COTP data segment carried by stages 2 and 3
type dataTransfer struct {
	eot bool
}

func (d dataTransfer) marshal() []byte {
	last := byte(0x00)
	if d.eot {
		last = cotpEOT
	}
	return []byte{2, cotpDataTransfer, last}
}

// s7Header is the application protocol header. requestKind selects the
// parameter layout that follows.
type s7Header struct {
	requestKind  byte // s7Job for setup, s7UserData for the diagnostic query
	redundancyID uint16
	sequenceRef  uint16
	paramLength  uint16
	dataLength   uint16
}

func (h s7Header) marshal() []byte {
	b := make([]byte, 0, 10)
	b = append(b, s7ProtocolID, h.requestKind)
	b = binary.BigEndian.AppendUint16(b, h.redundancyID)
	b = binary.BigEndian.AppendUint16(b, h.sequenceRef)
	b = binary.BigEndian.AppendUint16(b, h.paramLength)
	b = binary.BigEndian.AppendUint16(b, h.dataLength)
	return b
}

// setupParameters negotiates session limits and the PDU size
type setupParameters struct {
	maxOutstandingCalling uint16
	maxOutstandingCalled  uint16
	proposedPDULength     uint16
}

func (p setupParameters) marshal() []byte {
	b := make([]byte, 0, 8)
	b = append(b, setupFunction, 0x00)
	b = binary.BigEndian.AppendUint16(b, p.maxOutstandingCalling)
	b = binary.BigEndian.AppendUint16(b, p.maxOutstandingCalled)
	b = binary.BigEndian.AppendUint16(b, p.proposedPDULength)
	return b
}

// diagnosticQueryParameters selects one SZL block to read
type diagnosticQueryParameters struct {
	blockID     uint16
	blockIndex  uint16
	sequenceRef byte
}

// marshalParam emits the CPU-functions parameter block (read SZL)
func (p diagnosticQueryParameters) marshalParam() []byte {
	return []byte{0x00, 0x01, 0x12, 0x04, 0x11, 0x44, 0x01, p.sequenceRef}
}

// marshalData emits the data descriptor and the SZL selector
func (p diagnosticQueryParameters) marshalData() []byte {
	b := make([]byte, 0, 8)
	b = append(b, 0xff, 0x09, 0x00, 0x04) // success, octet string, 4 bytes follow
	b = binary.BigEndian.AppendUint16(b, p.blockID)
	b = binary.BigEndian.AppendUint16(b, p.blockIndex)
	return b
}

// connectFrame builds the stage-1 connection request: 22 bytes on the
// wire, declared length 22.
func connectFrame(rack, slot int) []byte {
	cr := connectionRequest{
		destRef:      0x0000,
		srcRef:       0x0001,
		proposedSize: proposedTPDUSize,
		calling:      [2]byte{0x01, 0x00},
		called:       [2]byte{0x01, byte(rack*32 + slot)},
	}
	frame := tpktHeader{length: 22}.marshal()
	return append(frame, cr.marshal()...)
}

// setupFrame builds the stage-2 setup communication request: 25 bytes
// on the wire, declared length 25.
func setupFrame(sequenceRef uint16) []byte {
	hdr := s7Header{
		requestKind: s7Job,
		sequenceRef: sequenceRef,
		paramLength: 8,
	}
	frame := tpktHeader{length: 25}.marshal()
	frame = append(frame, dataTransfer{eot: true}.marshal()...)
	frame = append(frame, hdr.marshal()...)
	frame = append(frame, setupParameters{
		maxOutstandingCalling: 1,
		maxOutstandingCalled:  1,
		proposedPDULength:     proposedPDULen,
	}.marshal()...)
	return frame
}

// diagnosticFrame builds the stage-3 SZL query. The declared TPKT
// length reads 33 while 34 bytes go on the wire: live controllers
// accept (and some require) the trailing size/length byte, so the
// off-by-one is reproduced rather than corrected.
func diagnosticFrame(sequenceRef uint16, blockID, blockIndex uint16) []byte {
	hdr := s7Header{
		requestKind: s7UserData,
		sequenceRef: sequenceRef,
		paramLength: 8,
		dataLength:  8,
	}
	params := diagnosticQueryParameters{
		blockID:     blockID,
		blockIndex:  blockIndex,
		sequenceRef: byte(sequenceRef),
	}
	frame := tpktHeader{length: 33}.marshal()
	frame = append(frame, dataTransfer{eot: true}.marshal()...)
	frame = append(frame, hdr.marshal()...)
	frame = append(frame, params.marshalParam()...)
	frame = append(frame, params.marshalData()...)
	frame = append(frame, 0x00) // trailing size/length descriptor
	return frame
}

// readFrame reads one TPKT-framed reply from the stream
func readFrame(r io.Reader) ([]byte, error) {
	hdr := make([]byte, 4)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, fmt.Errorf("read framing header: %w", err)
	}
	if hdr[0] != tpktVersion {
		return nil, fmt.Errorf("unexpected framing version 0x%02x", hdr[0])
	}
	length := int(binary.BigEndian.Uint16(hdr[2:]))
	if length < 5 || length > maxDatagramSize {
		return nil, fmt.Errorf("implausible frame length %d", length)
	}
	payload := make([]byte, length-4)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}
	return payload, nil
}

// parseConnectConfirm validates the stage-1 reply segment
func parseConnectConfirm(payload []byte) error {
	if len(payload) < 2 {
		return fmt.Errorf("connection reply too short: %d bytes", len(payload))
	}
	if payload[1] != cotpConnectConfirm {
		return fmt.Errorf("expected connection confirm, got TPDU 0x%02x", payload[1])
	}
	return nil
}

// s7Body strips the COTP data segment and returns the S7 PDU
func s7Body(payload []byte) ([]byte, error) {
	if len(payload) < 3 || payload[1] != cotpDataTransfer {
		return nil, fmt.Errorf("reply is not a data transfer segment")
	}
	body := payload[3:]
	if len(body) < 10 || body[0] != s7ProtocolID {
		return nil, fmt.Errorf("reply carries no protocol header")
	}
	return body, nil
}

// parseSetupResponse validates the stage-2 acknowledgement and returns
// the PDU length the controller granted
func parseSetupResponse(payload []byte) (uint16, error) {
	body, err := s7Body(payload)
	if err != nil {
		return 0, err
	}
	if body[1] != s7AckData {
		return 0, fmt.Errorf("expected setup acknowledgement, got kind 0x%02x", body[1])
	}
	// Ack-data headers carry error class and code after the lengths
	if len(body) < 12 {
		return 0, fmt.Errorf("setup reply truncated")
	}
	if body[10] != 0 || body[11] != 0 {
		return 0, fmt.Errorf("setup rejected: class=0x%02x code=0x%02x", body[10], body[11])
	}
	params := body[12:]
	if len(params) < 8 || params[0] != setupFunction {
		return 0, fmt.Errorf("setup reply carries no parameters")
	}
	return binary.BigEndian.Uint16(params[6:8]), nil
}

// parseDiagnosticResponse validates the stage-3 reply and returns the
// raw diagnostic payload after the data descriptor
func parseDiagnosticResponse(payload []byte) ([]byte, error) {
	body, err := s7Body(payload)
	if err != nil {
		return nil, err
	}
	if body[1] != s7UserData {
		return nil, fmt.Errorf("expected diagnostic reply, got kind 0x%02x", body[1])
	}
	paramLen := int(binary.BigEndian.Uint16(body[6:8]))
	dataLen := int(binary.BigEndian.Uint16(body[8:10]))
	if len(body) < 10+paramLen+dataLen {
		return nil, fmt.Errorf("diagnostic reply truncated")
	}
	params := body[10 : 10+paramLen]
	if paramLen >= 2 {
		if code := binary.BigEndian.Uint16(params[paramLen-2:]); code != 0 {
			return nil, fmt.Errorf("diagnostic query rejected: 0x%04x", code)
		}
	}
	data := body[10+paramLen : 10+paramLen+dataLen]
	if len(data) < 4 {
		return nil, fmt.Errorf("diagnostic reply carries no data")
	}
	if data[0] != 0xff {
		return nil, fmt.Errorf("diagnostic return code 0x%02x", data[0])
	}
	return data[4:], nil
}

// moduleIdentification is the structured view of an SZL 0x0011 payload
type moduleIdentification struct {
	OrderCode string
	Records   int
}

// parseModuleIdentification decodes the SZL 0x0011 record list. The
// payload stays identifying even when this parse fails, so callers
// treat an error as "keep the opaque blob".
func parseModuleIdentification(data []byte) (moduleIdentification, error) {
	var id moduleIdentification
	if len(data) < 8 {
		return id, fmt.Errorf("diagnostic payload too short: %d bytes", len(data))
	}
	blockID := binary.BigEndian.Uint16(data[0:2])
	if blockID != szlModuleIdentification {
		return id, fmt.Errorf("unexpected block id 0x%04x", blockID)
	}
	recordLen := int(binary.BigEndian.Uint16(data[4:6]))
	count := int(binary.BigEndian.Uint16(data[6:8]))
	if recordLen < 22 || count == 0 {
		return id, fmt.Errorf("no identification records")
	}
	records := data[8:]
	for i := 0; i < count && (i+1)*recordLen <= len(records); i++ {
		rec := records[i*recordLen : (i+1)*recordLen]
		index := binary.BigEndian.Uint16(rec[0:2])
		if index != 0x0001 {
			continue
		}
		// index 0x0001 carries the order code of the module itself
		id.OrderCode = strings.TrimRight(string(rec[2:22]), " \x00")
		break
	}
	id.Records = count
	if id.OrderCode == "" {
		return id, fmt.Errorf("module record absent")
	}
	return id, nil
}
