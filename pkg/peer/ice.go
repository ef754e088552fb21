package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pion/webrtc/v3"
	"gopkg.in/yaml.v3"
)

// ConfigPath is where the relay serves ICE server configuration.
const ConfigPath = "/api/webrtc-config"

// fetchTimeout bounds the ICE configuration request.
const fetchTimeout = 5 * time.Second

// FallbackICEServers are used when the configuration endpoint fails or returns
// no servers. The TURN entries keep NAT-restricted networks reachable.
var FallbackICEServers = []webrtc.ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
	{URLs: []string{"stun:stun1.l.google.com:19302"}},
	{
		URLs: []string{
			"turn:openrelay.metered.ca:80",
			"turn:openrelay.metered.ca:80?transport=tcp",
		},
		Username:       "openrelayproject",
		Credential:     "openrelayproject",
		CredentialType: webrtc.ICECredentialTypePassword,
	},
	{
		URLs:           []string{"turn:numb.viagenie.ca", "turn:numb.viagenie.ca:3478"},
		Username:       "webrtc@live.com",
		Credential:     "muazkh",
		CredentialType: webrtc.ICECredentialTypePassword,
	},
}

// ICEOptions holds ICE server configuration
type ICEOptions struct {
	// ConfigServer is the base URL of the configuration endpoint. Empty skips
	// the fetch and uses the fallback list.
	ConfigServer string
	// Servers, when non-nil, is used as-is and nothing is fetched.
	Servers []webrtc.ICEServer

	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	HTTPClient *http.Client
}

// ServerConfig is one ICE server as served by the configuration endpoint.
type ServerConfig struct {
	URLs       URLList `json:"urls" yaml:"urls"`
	Username   string  `json:"username,omitempty" yaml:"username,omitempty"`
	Credential string  `json:"credential,omitempty" yaml:"credential,omitempty"`
}

// ConfigResponse is the body of GET /api/webrtc-config.
type ConfigResponse struct {
	ICEServers []ServerConfig `json:"iceServers"`
}

// URLList accepts either a single URL string or an array of them.
type URLList []string

// UnmarshalJSON decodes a string or an array of strings.
func (u *URLList) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*u = URLList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return fmt.Errorf("urls must be a string or a list of strings: %w", err)
	}
	*u = many
	return nil
}

// UnmarshalYAML decodes a scalar or a sequence.
func (u *URLList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*u = URLList{value.Value}
		return nil
	}
	var many []string
	if err := value.Decode(&many); err != nil {
		return fmt.Errorf("urls must be a string or a list of strings: %w", err)
	}
	*u = many
	return nil
}

// ToWebRTC converts configured servers, skipping entries pion would reject:
// no URLs, or TURN URLs without credentials.
func ToWebRTC(servers []ServerConfig, logger *slog.Logger) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		if len(s.URLs) == 0 {
			continue
		}
		ice := webrtc.ICEServer{URLs: []string(s.URLs)}
		if s.Username != "" || s.Credential != "" {
			ice.Username = s.Username
			ice.Credential = s.Credential
			ice.CredentialType = webrtc.ICECredentialTypePassword
		} else if hasTURN(s.URLs) {
			if logger != nil {
				logger.Warn("skipping TURN server without credentials", "urls", s.URLs)
			}
			continue
		}
		out = append(out, ice)
	}
	return out
}

func hasTURN(urls []string) bool {
	for _, u := range urls {
		if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
			return true
		}
	}
	return false
}

// FetchICEServers asks the configuration endpoint for ICE servers. Any failure,
// including a non-2xx status or an empty list, yields FallbackICEServers; it
// never returns an error.
func FetchICEServers(ctx context.Context, client *http.Client, baseURL string, logger *slog.Logger) []webrtc.ICEServer {
	if logger == nil {
		logger = slog.Default()
	}
	servers, err := fetchICEServers(ctx, client, baseURL, logger)
	if err != nil {
		logger.Warn("using fallback ICE servers", "error", err)
		return fallback()
	}
	logger.Debug("fetched ICE servers", "count", len(servers))
	return servers
}

func fetchICEServers(ctx context.Context, client *http.Client, baseURL string, logger *slog.Logger) ([]webrtc.ICEServer, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("no configuration server")
	}
	if client == nil {
		client = http.DefaultClient
	}
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+ConfigPath, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("config endpoint returned %s", resp.Status)
	}
	var body ConfigResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode ice config: %w", err)
	}
	servers := ToWebRTC(body.ICEServers, logger)
	if len(servers) == 0 {
		return nil, fmt.Errorf("config endpoint returned no usable ICE servers")
	}
	return servers, nil
}

func fallback() []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, len(FallbackICEServers))
	copy(out, FallbackICEServers)
	return out
}

// resolve returns the ICE servers for a new connection, applying the TURN
// override from the options.
func (o ICEOptions) resolve(ctx context.Context, logger *slog.Logger) []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if o.Servers != nil {
		servers = append(servers, o.Servers...)
	} else {
		servers = FetchICEServers(ctx, o.HTTPClient, o.ConfigServer, logger)
	}

	if o.TURNServer != "" {
		turn := webrtc.ICEServer{URLs: []string{o.TURNServer}}
		if o.TURNUser != "" {
			turn.Username = o.TURNUser
			turn.Credential = o.TURNPass
			turn.CredentialType = webrtc.ICECredentialTypePassword
		}
		servers = append(servers, turn)
	}
	return servers
}

// configuration builds the pion configuration for servers.
func (o ICEOptions) configuration(servers []webrtc.ICEServer) webrtc.Configuration {
	policy := webrtc.ICETransportPolicyAll
	if o.ForceRelay {
		policy = webrtc.ICETransportPolicyRelay
	}
	return webrtc.Configuration{
		ICEServers:         servers,
		ICETransportPolicy: policy,
	}
}
