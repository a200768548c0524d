// Package config holds node construction parameters.
package config

import "github.com/rudransh-shrivastava/scrapyard/internal/scraperr"

// DefaultSTUNServers mirrors the public STUN servers the teacher's WebRTC
// layer falls back to when no ICE servers are configured.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Config is the construction-time configuration described in spec §6:
// {dbName, signalingUrl, iceServers?, token?}.
type Config struct {
	DBName       string
	SignalingURL string
	ICEServers   []string
	Token        string
}

// Validate checks the fields Connect requires. DBName is required at Init
// time and is not re-validated here.
func (c Config) Validate() error {
	if c.SignalingURL == "" || c.Token == "" {
		return scraperr.ErrConfigurationMissing
	}
	return nil
}

// IceServersOrDefault returns the configured ICE servers, falling back to
// the public STUN defaults when none were supplied.
func (c Config) IceServersOrDefault() []string {
	if len(c.ICEServers) > 0 {
		return c.ICEServers
	}
	return DefaultSTUNServers
}
