// Package server implements the optional local status API. It exposes
// health, statistics, chat history, stored reply blobs and Prometheus
// metrics for the running client.
package server
