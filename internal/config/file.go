// Package config loads the on-disk, YAML-encoded mirror of the
// lib/ssh Config/ClientConfig/ServerConfig knobs: a thin file-backed
// struct decoded with gopkg.in/yaml.v2 and then translated into the
// runtime types.
package config

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/Nurrl/assh/lib/ssh"
)

// FileConfig is the YAML document shape for both a probe/client and a
// listening responder; which half is relevant depends on which command
// reads it.
type FileConfig struct {
	// Address is host:port to dial (client) or listen on (server).
	Address string `yaml:"address"`

	// User is the username offered during ssh-userauth.
	User string `yaml:"user,omitempty"`

	// Password, if set, configures a single password AuthMethod.
	Password string `yaml:"password,omitempty"`

	// PrivateKeySeedHex is a hex-encoded 32-byte ed25519 seed, used both
	// as a client publickey identity and, on the server side, as a host
	// key. Real key-file formats (OpenSSH, PKCS#8) are out of scope;
	// lib/ssh consumes already-parsed keys.
	PrivateKeySeedHex string `yaml:"private_key_seed,omitempty"`

	// RekeyThreshold/RekeyPackets/RekeyInterval mirror ssh.Config.
	RekeyThreshold uint64        `yaml:"rekey_threshold_bytes,omitempty"`
	RekeyPackets   uint64        `yaml:"rekey_threshold_packets,omitempty"`
	RekeyInterval  time.Duration `yaml:"rekey_interval,omitempty"`
	Timeout        time.Duration `yaml:"timeout,omitempty"`

	KeyExchanges []string `yaml:"kex_algorithms,omitempty"`
	Ciphers      []string `yaml:"ciphers,omitempty"`
	MACs         []string `yaml:"macs,omitempty"`
	Compressions []string `yaml:"compressions,omitempty"`
}

// Load decodes path as YAML into a FileConfig.
func Load(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return &fc, nil
}

// sshConfig builds the embedded ssh.Config shared by both client and
// server translations.
func (fc *FileConfig) sshConfig() ssh.Config {
	return ssh.Config{
		RekeyThreshold: fc.RekeyThreshold,
		RekeyPackets:   fc.RekeyPackets,
		RekeyInterval:  fc.RekeyInterval,
		KeyExchanges:   fc.KeyExchanges,
		Ciphers:        fc.Ciphers,
		MACs:           fc.MACs,
		Compressions:   fc.Compressions,
		Timeout:        fc.Timeout,
	}
}

// Signer decodes PrivateKeySeedHex into an ssh.Signer, if present.
func (fc *FileConfig) Signer() (ssh.Signer, error) {
	if fc.PrivateKeySeedHex == "" {
		return nil, nil
	}
	seed, err := hex.DecodeString(fc.PrivateKeySeedHex)
	if err != nil {
		return nil, fmt.Errorf("config: decoding private_key_seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("config: private_key_seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return ssh.NewSignerFromKey(ed25519.NewKeyFromSeed(seed)), nil
}

// ClientConfig translates fc into an ssh.ClientConfig. If a signer is
// present it is offered as a publickey AuthMethod; if Password is set
// it is offered too, both after the mandatory "none" attempt.
func (fc *FileConfig) ClientConfig(hostKeyCallback func(ssh.PublicKey) error) (*ssh.ClientConfig, error) {
	cc := &ssh.ClientConfig{Config: fc.sshConfig(), User: fc.User, HostKeyCallback: hostKeyCallback}
	if fc.Password != "" {
		cc.Auth = append(cc.Auth, ssh.Password(fc.Password))
	}
	signer, err := fc.Signer()
	if err != nil {
		return nil, err
	}
	if signer != nil {
		cc.Auth = append(cc.Auth, ssh.PublicKeyAuth(signer))
	}
	return cc, nil
}

// ServerConfig translates fc into an ssh.ServerConfig using the decoded
// signer as the sole host key.
func (fc *FileConfig) ServerConfig(auth *ssh.ServerAuth) (*ssh.ServerConfig, error) {
	signer, err := fc.Signer()
	if err != nil {
		return nil, err
	}
	if signer == nil {
		return nil, fmt.Errorf("config: private_key_seed is required for a server configuration")
	}
	return &ssh.ServerConfig{Config: fc.sshConfig(), HostKeys: []ssh.Signer{signer}, Auth: auth}, nil
}
