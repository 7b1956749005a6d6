// Package chat is the chat surface behind the terminal front end. It keeps
// the message history, allows one outbound send at a time, links replies to
// the message they answer, persists history and settings, and triggers
// narration of text replies.
package chat
