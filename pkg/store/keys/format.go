package keys

// Durable key layout. Every integer is fixed-width big-endian so that byte
// order equals numeric order and range scans page in event order.
//
//	e | kind | chat BE8 | [channel BE8] | 0x00 | event BE8              main log event
//	e | kind | chat BE8 | [channel BE8] | 0x01 | root BE4 | event BE8  thread log event
//	s | kind | chat BE8 | [channel BE8]                                chat snapshot
//	f | kind | chat BE8 | [channel BE8]                                visibility floors
//	g | <prefix>                                                       pending prefix deletion
//	v | <name>                                                         store system record
//
// kind is the chat kind byte ('d', 'g', 'c'); the channel segment is present
// only for channels.
const (
	TagEvent    byte = 'e'
	TagSnapshot byte = 's'
	TagGCMarker byte = 'g'
	TagFloors   byte = 'f'
	TagSystem   byte = 'v'

	LogMain   byte = 0x00
	LogThread byte = 0x01

	eventIndexWidth = 8
	rootWidth       = 4
	chatIDWidth     = 8
)
