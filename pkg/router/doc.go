// Package router dispatches inbound envelopes to one handler per topic.
//
// Registration is last-wins. Dispatch is synchronous, so handlers observe
// messages in the order the transport received them. Topics without a
// handler fall through to the default arm: they are logged, counted and
// reported to the unrouted hook, and never change any state.
//
// Handler errors (typically payload decode failures) are logged and
// swallowed; a bad message never stops dispatch of the next one.
package router
