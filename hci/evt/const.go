package evt

// Event codes [Vol 2, Part E, 7.7].
const (
	DisconnectionCompleteCode    = 0x05
	CommandCompleteCode          = 0x0E
	CommandStatusCode            = 0x0F
	NumberOfCompletedPacketsCode = 0x13
	LEMetaCode                   = 0x3E
	VendorCode                   = 0xFF
)

// Sizes of the fixed parts of the events the proxy rewrites.
const (
	headerLen                = 2
	commandCompleteHdrLen    = 3
	disconnectionCompleteLen = 4
	nocpEntryLen             = 4
	leReadBufferSizeV1RPLen  = 4
	leReadBufferSizeV2RPLen  = 7
	readBufferSizeRPLen      = 8
)

type CommandComplete []byte
type NumberOfCompletedPackets []byte
type DisconnectionComplete []byte
type LEReadBufferSizeRP []byte
type LEReadBufferSizeV2RP []byte
type ReadBufferSizeRP []byte
