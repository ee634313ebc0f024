// Package core defines the value types shared across the loopkit engine:
// conversation messages, tool calls, streaming deltas, the tagged Value type
// used at provider boundaries, provider session handles and the per
// conversation memory map.
//
// Types in this package are plain data. Behavior (stream reassembly, session
// caching, failure recovery, the chat loop) lives in the sibling packages
// stream, session, recovery and chat.
package core
