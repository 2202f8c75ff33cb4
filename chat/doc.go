// Package chat contains the live chat harvester: the session lifecycle that finds a live
// broadcast, attaches to its chat and records every message until the stream ends.
//
// The pipeline runs on a single goroutine (Harvester.Run):
//   - Discovery probes the channel for an active live video; misses are retried after
//     DiscoveryRetry.
//   - Resolver turns the video into a Session (chat id, title); a chat that is not yet
//     active is retried after ResolveRetry, with no ceiling.
//   - Poller fetches one page of messages per step, follows the pagination cursor and waits
//     the server-advised interval. Consecutive failures are counted against an ErrorBudget;
//     exhausting it is treated as the end of the stream.
//   - Coordinator flushes the accumulated Transcript to a Sink exactly once, whichever of
//     stream end, signal or fatal error happens first.
//
// The upstream API has no explicit "chat ended" signal, so the budget ceiling conflates a
// finished broadcast with a sustained outage. A retried poll reuses the last successful
// cursor.
package chat
