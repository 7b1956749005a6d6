// Package config provides configuration loading and validation for the voice
// chat client. Values come from a YAML file layered over Default(), then
// VOICECHAT_* environment variables (optionally from a .env file) override
// endpoints and secrets.
package config
