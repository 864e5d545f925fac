// Off-chain moderation agent for an on-chain social feed.
//
// A Poller periodically reads the ledger's post count, scores each new post
// with a toxicity.Scorer, and hands toxic posts to a Dispatcher, which submits
// a signed flag transaction and waits for its receipt. State holds the poll
// cursor, the local cache of already-flagged posts, and counters. Agent wraps
// all of this with a start/stop control surface.
//
// Each post is flagged on the ledger at most once: the local cache, an
// on-chain status read before submitting, and recognizing "already flagged"
// reverts each short-circuit duplicate flags.
package moderation
