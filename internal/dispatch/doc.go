// Package dispatch uploads chat messages to the webhook and normalizes its
// replies.
//
// Every logical message carries a client-generated id that is sent both as
// the clientMessageId form field and the X-Client-Message-Id header, and is
// reused across retries so the receiver can deduplicate. Transport failures
// are retried with exponential backoff; an HTTP error status is not.
package dispatch
