package reddit

import (
	"fmt"
	"net/http"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultUserAgent is used for identities that do not set one.
const DefaultUserAgent = "raffle-ledger/1.0 (comment ledger sync)"

// Identity is one egress persona: a user agent and an optional proxy. The
// proxy URL may embed credentials; those come from configuration only.
type Identity struct {
	Name      string `yaml:"name" json:"name"`
	UserAgent string `yaml:"user_agent" json:"user_agent"`
	Proxy     string `yaml:"proxy" json:"-"`
}

// IdentityProvider supplies the pool consulted on every fetch.
type IdentityProvider interface {
	Identities() []Identity
}

// StaticPool is a fixed identity list.
type StaticPool []Identity

// Identities implements IdentityProvider.
func (p StaticPool) Identities() []Identity { return p }

// DirectPool is a single identity with no proxy.
func DirectPool(userAgent string) StaticPool {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return StaticPool{{Name: "direct", UserAgent: userAgent}}
}

type identityFile struct {
	Identities []Identity `yaml:"identities"`
}

// LoadIdentities reads a YAML identity file. ${VAR} references are expanded
// from the environment before decoding so secrets stay out of the file.
func LoadIdentities(path string) (StaticPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("identities: read %s: %w", path, err)
	}
	var f identityFile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &f); err != nil {
		return nil, fmt.Errorf("identities: parse %s: %w", path, err)
	}
	pool := make(StaticPool, 0, len(f.Identities))
	for i, id := range f.Identities {
		if id.Name == "" {
			id.Name = fmt.Sprintf("identity-%d", i+1)
		}
		if id.UserAgent == "" {
			id.UserAgent = DefaultUserAgent
		}
		if id.Proxy != "" {
			if _, err := url.Parse(id.Proxy); err != nil {
				return nil, fmt.Errorf("identities: %s: bad proxy url", id.Name)
			}
		}
		pool = append(pool, id)
	}
	return pool, nil
}

// newTransport builds the round tripper for an identity.
func newTransport(id Identity) (http.RoundTripper, error) {
	t := http.DefaultTransport.(*http.Transport).Clone()
	if id.Proxy != "" {
		u, err := url.Parse(id.Proxy)
		if err != nil {
			return nil, fmt.Errorf("identity %s: proxy: %w", id.Name, err)
		}
		t.Proxy = http.ProxyURL(u)
	} else {
		t.Proxy = nil
	}
	return t, nil
}
