// Package config reads the environment variables spec.md §6.3 recognizes,
// the way the teacher's cmd/ binaries read os.Args/os.Hostname directly
// into local variables at process start — no config file format, no flags
// framework beyond the stdlib flag package where a binary needs one.
package config

import "os"

// ServerConfig is the show server's environment-derived configuration.
type ServerConfig struct {
	GitHubRepoOwner string
	GitHubRepoName  string
	ServerURL       string // base URL used when rewriting download URLs
}

// LoadServerConfig reads GITHUB_REPO_OWNER, GITHUB_REPO_NAME and
// SERVER_URL (spec.md §6.3).
func LoadServerConfig() ServerConfig {
	return ServerConfig{
		GitHubRepoOwner: os.Getenv("GITHUB_REPO_OWNER"),
		GitHubRepoName:  os.Getenv("GITHUB_REPO_NAME"),
		ServerURL:       os.Getenv("SERVER_URL"),
	}
}

// NodeConfig is the node's environment-derived configuration: join
// credentials for the wireless network (spec.md §6.3). The radio join
// itself is an external collaborator out of scope (spec.md §1); this repo
// only validates and logs the credentials at boot, the way the original
// firmware's config layer validated Wi-Fi credentials before attempting a
// join (see SPEC_FULL.md §4, "Wi-Fi join config surface").
type NodeConfig struct {
	RouterSSID     string
	RouterPassword string
}

// LoadNodeConfig reads ROUTER_SSID and ROUTER_PASSWORD.
func LoadNodeConfig() NodeConfig {
	return NodeConfig{
		RouterSSID:     os.Getenv("ROUTER_SSID"),
		RouterPassword: os.Getenv("ROUTER_PASSWORD"),
	}
}

// Validate reports whether the node has enough configuration to attempt a
// network join. It does not attempt the join itself.
func (c NodeConfig) Validate() error {
	if c.RouterSSID == "" {
		return errMissingSSID
	}
	return nil
}

var errMissingSSID = configError("ROUTER_SSID is required")

type configError string

func (e configError) Error() string { return string(e) }
