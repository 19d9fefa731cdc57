package session

import "time"

// CreateRequest defines payload for joining a voice channel.
type CreateRequest struct {
	GuildID    string `json:"guild_id"`
	ChannelID  string `json:"channel_id"`
	Persona    string `json:"persona"`
	VoiceAsset string `json:"voice_asset"`
}

// CreateResponse returns created session metadata.
type CreateResponse struct {
	SessionID       string    `json:"session_id"`
	GuildID         string    `json:"guild_id"`
	ChannelID       string    `json:"channel_id"`
	Status          Status    `json:"status"`
	State           State     `json:"state"`
	VoiceAsset      string    `json:"voice_asset"`
	CreatedAt       time.Time `json:"created_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	InactivityTTLMS int64     `json:"inactivity_ttl_ms"`
}
