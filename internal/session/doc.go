// Package session implements the gateway's session store. A session binds
// one client conversation to one upstream endpoint: it is allocated on
// initialize, carries the caller's API key and capabilities, and tracks the
// streams the gateway has open on its behalf (one optional background push
// stream plus the short-lived POST response streams).
//
// Sessions expire after an idle timeout; a background sweep closes their
// streams and removes them. All stream references are weak in the sense that
// the owning request task may drop them at any time and deregisters them on
// exit.
package session
