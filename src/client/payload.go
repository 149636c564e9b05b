package client

// ConnectionProperties describe the client to the gateway.
type ConnectionProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

// IdentifyPayload is how a shard authenticates. Everything but the presence is
// fixed once the gateway is built; the presence follows successful presence
// updates so a later identify announces the latest one.
type IdentifyPayload struct {
	Token string
	// Shard is (index, count); nil for an unsharded connection.
	Shard *[2]int
	// Compress enables zlib-stream transport compression. Payload compression
	// is never requested on top of it.
	Compress       bool
	LargeThreshold *int
	Intents        int
	Properties     ConnectionProperties

	presence *Presence
}

// WithPresence returns a copy of p that announces pr on identify.
func (p IdentifyPayload) WithPresence(pr Presence) IdentifyPayload {
	p.presence = &pr
	return p
}

func (p *IdentifyPayload) Presence() *Presence {
	return p.presence
}

// SetPresence swaps the presence sent by the next identify.
func (p *IdentifyPayload) SetPresence(pr Presence) {
	p.presence = &pr
}

func (p *IdentifyPayload) frame() identifyData {
	props := p.Properties
	if props.OS == "" {
		props.OS = "linux"
	}
	if props.Browser == "" {
		props.Browser = "discord_gateway"
	}
	if props.Device == "" {
		props.Device = "discord_gateway"
	}

	return identifyData{
		Token:          p.Token,
		Properties:     props,
		LargeThreshold: p.LargeThreshold,
		Shard:          p.Shard,
		Presence:       p.presence,
		Intents:        p.Intents,
	}
}
