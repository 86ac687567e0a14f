// Package aggregator builds the client-visible tool catalog from every
// running upstream. Tools are namespaced as prefix__name, where the prefix is
// the sanitized upstream alias (or name); collisions get a numeric suffix.
//
// The catalog is a copy-on-write snapshot: rebuilds assemble a fresh catalog
// and publish it atomically, so the gateway's hot path reads it without
// locks. The aggregator reacts to registry events (toolsChanged rebuilds one
// upstream's entries, a transition out of running removes them) and never
// talks to connectors directly except through the registry handle it is
// given.
package aggregator
