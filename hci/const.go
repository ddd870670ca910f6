package hci

// HCI Packet types
const (
	PktTypeUnknown uint8 = 0x00
	PktTypeCommand uint8 = 0x01
	PktTypeACLData uint8 = 0x02
	PktTypeSCOData uint8 = 0x03
	PktTypeEvent   uint8 = 0x04
	PktTypeISOData uint8 = 0x05
	PktTypeVendor  uint8 = 0xFF
)

// Packet boundary flags of HCI ACL Data Packet [Vol 2, Part E, 5.4.2].
const (
	PbfHostToControllerStart = 0x00 // Start of a non-automatically-flushable from host to controller.
	PbfContinuing            = 0x01 // Continuing fragment.
	PbfControllerToHostStart = 0x02 // Start of a non-automatically-flushable from controller to host.
	PbfCompleteL2CAPPDU      = 0x03 // A automatically flushable complete PDU. (Not used in LE-U).
)

// Header sizes of the layers the proxy frames directly.
const (
	H4HeaderLen      = 1
	ACLHeaderLen     = 4
	L2CAPHeaderLen   = 4
	CmdHeaderLen     = 3
	EvtHeaderLen     = 2
	SDULengthLen     = 2
	ATTNotifyHdrLen  = 3
	SignalHeaderLen  = 4
	MaxConnHandle    = 0x0EFF
	ConnHandleMask   = 0x0FFF
	ATTOpHandleValue = 0x1B
)

// Command opcodes the proxy looks at.
const (
	OpReset              uint16 = 0x0C03
	OpReadBufferSize     uint16 = 0x1005
	OpLEReadBufferSizeV1 uint16 = 0x2002
	OpLEReadBufferSizeV2 uint16 = 0x2060
)

// L2CAP Channel Identifier namespace [Vol 3, Part A, 2.1].
const (
	CidSignaling   uint16 = 0x01 // ACL-U signaling channel.
	CidLEAtt       uint16 = 0x04 // Attribute Protocol [Vol 3, Part F].
	CidLESignaling uint16 = 0x05 // Low Energy L2CAP Signaling channel [Vol 3, Part A, 4].
	CidSMP         uint16 = 0x06 // SecurityManager Protocol [Vol 3, Part H].

	MinDynamicCID   uint16 = 0x0040
	MaxLEDynamicCID uint16 = 0x007F
	MaxDynamicCID   uint16 = 0xFFFF
)

// L2CAP signaling command codes [Vol 3, Part A, 4].
const (
	SigCommandReject         uint8 = 0x01
	SigConnectionRequest     uint8 = 0x02
	SigConnectionResponse    uint8 = 0x03
	SigDisconnectionRequest  uint8 = 0x06
	SigDisconnectionResponse uint8 = 0x07
	SigLECreditConnRequest   uint8 = 0x14
	SigLECreditConnResponse  uint8 = 0x15
	SigFlowControlCreditInd  uint8 = 0x16
)

// AclTransport is the logical transport an ACL connection runs on. Credits
// are accounted per transport.
type AclTransport uint8

const (
	TransportLE AclTransport = iota
	TransportBREDR
)

func (t AclTransport) String() string {
	switch t {
	case TransportLE:
		return "le"
	case TransportBREDR:
		return "bredr"
	default:
		return "unknown"
	}
}

// Direction of a packet relative to the proxy.
type Direction uint8

const (
	FromController Direction = iota
	FromHost
)

func (d Direction) String() string {
	if d == FromHost {
		return "from-host"
	}
	return "from-controller"
}
