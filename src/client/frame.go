package client

import (
	"encoding/json"

	jsoniter "github.com/json-iterator/go"

	"personal/discord_gateway/src/opcodes"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

type Snowflake string

// Packet is an inbound gateway frame.
type Packet struct {
	Op opcodes.Op      `json:"op"`
	T  string          `json:"t,omitempty"`
	D  json.RawMessage `json:"d"`
	S  *int64          `json:"s,omitempty"`
}

// outbound is the {op, d} envelope of every frame we send.
type outbound struct {
	Op opcodes.Op `json:"op"`
	D  any        `json:"d"`
}

type helloData struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

type readyData struct {
	SessionID        string `json:"session_id"`
	ResumeGatewayURL string `json:"resume_gateway_url"`
	User             User   `json:"user"`
	Shard            []int  `json:"shard,omitempty"`
}

type resumeData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Sequence  int64  `json:"seq"`
}

type identifyData struct {
	Token          string               `json:"token"`
	Properties     ConnectionProperties `json:"properties"`
	Compress       bool                 `json:"compress"`
	LargeThreshold *int                 `json:"large_threshold,omitempty"`
	Shard          *[2]int              `json:"shard,omitempty"`
	Presence       *Presence            `json:"presence,omitempty"`
	Intents        int                  `json:"intents"`
}

type memberChunk struct {
	GuildID    Snowflake         `json:"guild_id"`
	ChunkIndex int               `json:"chunk_index"`
	ChunkCount int               `json:"chunk_count"`
	NotFound   []json.RawMessage `json:"not_found,omitempty"`
	Nonce      string            `json:"nonce,omitempty"`
}

// User is the account the session authenticated as.
type User struct {
	ID            Snowflake `json:"id"`
	Username      string    `json:"username"`
	Discriminator string    `json:"discriminator"`
	Bot           *bool     `json:"bot,omitempty"`
}

// Presence is the status the shard announces on identify and via presence updates.
type Presence struct {
	Since      *int64     `json:"since"`
	Activities []Activity `json:"activities"`
	Status     string     `json:"status"`
	AFK        bool       `json:"afk"`
}

type Activity struct {
	Name  string `json:"name"`
	Type  int    `json:"type"`
	URL   string `json:"url,omitempty"`
	State string `json:"state,omitempty"`
}

// RequestGuildMembersOptions is the body of a request-guild-members frame.
// Nonce is generated when empty; Query defaults to "" when no user ids are given.
type RequestGuildMembersOptions struct {
	GuildID   Snowflake   `json:"guild_id"`
	Query     *string     `json:"query,omitempty"`
	Limit     int         `json:"limit"`
	Presences bool        `json:"presences,omitempty"`
	UserIDs   []Snowflake `json:"user_ids,omitempty"`
	Nonce     string      `json:"nonce,omitempty"`
}

const (
	eventReady             = "READY"
	eventResumed           = "RESUMED"
	eventGuildMembersChunk = "GUILD_MEMBERS_CHUNK"
)
