// Package subscriber holds the subscriber record, the persistence contract the
// storage drivers implement, and the validating Service the bot handlers and
// HTTP endpoints call.
//
// A record is keyed by the messaging platform's user id (ExternalID). It is
// created on first subscribe and never deleted: unsubscribe only clears the
// flag, and set-location overwrites the previous value.
package subscriber
