// Package simulator implements the request-handling pipeline of the
// simulated API: credential validation, mode dispatch, rate limiting,
// latency emulation and metrics recording.
//
// The pipeline runs every request through a fixed sequence of stages:
//
//	authenticate -> dispatch -> limit -> delay -> record metrics -> return
//
// Dispatch hands the request to a producing collaborator (the generator
// chain in generate mode, the record/replay handler otherwise). Producers
// annotate the per-request Context with the facts later stages act on:
// which rate limiter applies, which deployment was addressed, how many
// tokens the request consumed and how long the real service took.
//
// Stages after dispatch either pass the response through unchanged or
// replace it wholesale; they never fabricate a response from nothing. Any
// fault after the Context exists is absorbed at the pipeline boundary and
// converted into a clean 500.
package simulator
