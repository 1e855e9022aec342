// Package wsconn adapts gorilla/websocket connections to the Handle
// abstraction used by the relay: a blocking receive, a non-blocking bounded
// send, and an idempotent close that flushes on a best-effort basis.
//
// gorilla allows one concurrent writer per connection, so every Conn owns a
// writer goroutine that drains its outbound queue, sends keepalive pings and
// performs the final flush.
package wsconn
