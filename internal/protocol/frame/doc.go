// Package frame parses the gateway's unstuffed frame layout.
//
// All integers are little-endian:
//
//	version:1 | declared_len:2 | msg_id:4 | channel_len:1 channel |
//	ctype_len:1 ctype | payload_len:2 payload | crc32:4
//
// declared_len counts every byte after the version byte. crc32 is
// CRC-32/MPEG-2 over every byte before it.
package frame
