// Package gateway runs the serial-bridge connection loop.
//
// One client is served at a time. The loop cycles through
// listening -> accepted -> serving -> closing and back, forever. While
// serving it multiplexes three sources: bytes read from the client, packets
// waiting in the outbound queue, and the idle read deadline. When inbound
// bytes and an outbound packet are ready together, select picks one at
// random; the two directions are not ordered relative to each other.
//
// Frame-level failures are logged, counted and dropped without touching
// the connection. Transport errors and legacy line overflow end the
// connection; the loop waits CloseBackoff and accepts again.
package gateway
