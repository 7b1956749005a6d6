// Package blob holds binary reply media in memory and hands out opaque
// "blob:<uuid>" references that chat history can store in place of the bytes.
package blob
