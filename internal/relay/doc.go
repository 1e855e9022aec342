// Package relay bridges browser voice clients to an upstream realtime speech
// service. Each downstream connection becomes a Session with its own upstream
// connection; frames are copied both ways in order, and an Interceptor may
// add upstream-bound messages after inspecting client traffic.
//
// Client messages that arrive before the upstream is connected are buffered
// and replayed in order. A session ends when either side closes or fails,
// and the other side is then closed too.
package relay
