package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

// Options reads the connection settings from unprefixed environment
// variables (HOST, WS_HOST, CLIENT_ID, CLIENT_SECRET, TOPIC_LIST) so existing
// .env files keep working.
type Options struct {
	APIURL       string    `long:"api-url" env:"HOST" description:"PBX OpenAPI base URL (e.g. https://pbx.example.com)"`
	WSHost       string    `long:"ws-host" env:"WS_HOST" description:"PBX websocket host; defaults to the API host"`
	ClientID     string    `long:"client-id" env:"CLIENT_ID" description:"OpenAPI client ID"`
	ClientSecret string    `long:"client-secret" env:"CLIENT_SECRET" description:"OpenAPI client secret"`
	Topics       TopicList `long:"topic" env:"TOPIC_LIST" description:"Event topic ID to subscribe to (repeatable; the env var takes a comma list)"`

	Listen     string `long:"listen" env:"PBX_LISTEN" default:":8000" description:"Address for the local HTTP API; empty disables it"`
	TokenFile  string `long:"token-file" env:"PBX_TOKEN_FILE" description:"Credential file (default: <config dir>/pbx-monitor/token_access.json)"`
	WatchToken bool   `long:"watch-token-file" env:"PBX_WATCH_TOKEN_FILE" description:"Reload the credential when another process rewrites the token file"`

	InsecureSkipVerify bool `long:"insecure-skip-verify" env:"PBX_INSECURE_SKIP_VERIFY" description:"Disable TLS certificate verification for the PBX (self-signed appliances)"`

	MemberStatuses []string `long:"member-status" env:"PBX_MEMBER_STATUSES" env-delim:"," default:"RING" default:"ALERT" description:"Call member status that marks an event as interesting (repeatable)"`
	ForwardURL     string   `long:"forward-url" env:"PBX_FORWARD_URL" description:"POST every matched event as JSON to this URL"`

	RenewInterval        time.Duration `long:"renew-interval" env:"PBX_RENEW_INTERVAL" default:"1500s" description:"Credential renewal cadence"`
	HeartbeatInterval    time.Duration `long:"heartbeat-interval" env:"PBX_HEARTBEAT_INTERVAL" default:"50s" description:"Websocket heartbeat cadence"`
	ReconnectDelay       time.Duration `long:"reconnect-delay" env:"PBX_RECONNECT_DELAY" default:"2s" description:"Initial reconnect backoff"`
	ReconnectMaxDelay    time.Duration `long:"reconnect-max-delay" env:"PBX_RECONNECT_MAX_DELAY" default:"60s" description:"Reconnect backoff cap"`
	MaxReconnectAttempts uint          `long:"max-reconnect-attempts" env:"PBX_MAX_RECONNECT_ATTEMPTS" default:"0" description:"Consecutive failed reconnects before giving up (0 = never)"`

	TUI        bool   `long:"tui" env:"PBX_TUI" description:"Run the interactive status dashboard"`
	LogPersist bool   `long:"log-persist" env:"PBX_LOG_PERSIST" description:"Also write JSONL logs to disk"`
	LogDir     string `long:"log-dir" env:"PBX_LOG_DIR" description:"Directory for persisted logs"`
	Debug      bool   `long:"debug" env:"PBX_DEBUG" description:"Enable verbose debug output"`
}

// TopicList accepts "30011, 30012" style lists. Blank entries are skipped, so
// an empty TOPIC_LIST yields no topics.
type TopicList []int

func (l *TopicList) UnmarshalFlag(value string) error {
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		topic, err := strconv.Atoi(part)
		if err != nil {
			return fmt.Errorf("invalid topic ID %q", part)
		}
		*l = append(*l, topic)
	}
	return nil
}

type Endpoints struct {
	APIBase     string
	TokenURL    string
	ContactsURL string
	StreamURL   string
}

const (
	defaultAPIPath = "/openapi/v1.0"
	tokenPath      = "/get_token"
	contactsPath   = "/company_contact/list"
	subscribePath  = "/subscribe"
)

// ParseOptions loads .env (when present) and then parses args; flags win
// over the environment.
func ParseOptions(args []string) (Options, error) {
	_ = godotenv.Load()
	opts := Options{}
	if _, err := flags.NewParser(&opts, flags.Default).ParseArgs(args); err != nil {
		return Options{}, err
	}
	opts.Topics = NormalizeTopics(opts.Topics)
	opts.MemberStatuses = normalizeStatuses(opts.MemberStatuses)
	return opts, nil
}

func ValidateRequired(opts Options) error {
	if strings.TrimSpace(opts.APIURL) == "" {
		return errors.New("PBX API URL is required")
	}
	if strings.TrimSpace(opts.ClientID) == "" || strings.TrimSpace(opts.ClientSecret) == "" {
		return errors.New("client ID and client secret are required")
	}
	for _, topic := range opts.Topics {
		if topic <= 0 {
			return fmt.Errorf("invalid topic ID %d", topic)
		}
	}
	if opts.ReconnectMaxDelay > 0 && opts.ReconnectDelay > opts.ReconnectMaxDelay {
		return errors.New("reconnect delay must not exceed reconnect max delay")
	}
	return nil
}

// NormalizeTopics drops duplicates while keeping first-seen order.
func NormalizeTopics(topics []int) []int {
	out := make([]int, 0, len(topics))
	for _, topic := range topics {
		if !slices.Contains(out, topic) {
			out = append(out, topic)
		}
	}
	return out
}

func normalizeStatuses(statuses []string) []string {
	out := make([]string, 0, len(statuses))
	for _, status := range statuses {
		status = strings.ToUpper(strings.TrimSpace(status))
		if status != "" && !slices.Contains(out, status) {
			out = append(out, status)
		}
	}
	return out
}

func BuildEndpoints(rawAPIURL string, rawWSHost string) (Endpoints, error) {
	apiBase, err := buildAPIBaseURL(rawAPIURL)
	if err != nil {
		return Endpoints{}, err
	}
	streamBase, err := buildStreamBaseURL(rawWSHost, apiBase)
	if err != nil {
		return Endpoints{}, err
	}
	return Endpoints{
		APIBase:     apiBase,
		TokenURL:    apiBase + tokenPath,
		ContactsURL: apiBase + contactsPath,
		StreamURL:   streamBase + subscribePath,
	}, nil
}

func buildAPIBaseURL(raw string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", errors.New("expected absolute URL like https://pbx.example.com")
	}
	if !strings.EqualFold(parsed.Scheme, "http") && !strings.EqualFold(parsed.Scheme, "https") {
		return "", errors.New("API URL scheme must be http or https")
	}
	parsed.Path = normalizeAPIPath(parsed.Path)
	parsed.RawPath = ""
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return strings.TrimRight(parsed.String(), "/"), nil
}

func buildStreamBaseURL(raw string, apiBase string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		api, err := url.Parse(apiBase)
		if err != nil {
			return "", err
		}
		scheme := "wss"
		if strings.EqualFold(api.Scheme, "http") {
			scheme = "ws"
		}
		raw = scheme + "://" + api.Host + api.Path
	}
	if !strings.Contains(raw, "://") {
		raw = "wss://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if parsed.Host == "" {
		return "", errors.New("websocket host is empty")
	}
	if !strings.EqualFold(parsed.Scheme, "ws") && !strings.EqualFold(parsed.Scheme, "wss") {
		return "", errors.New("websocket scheme must be ws or wss")
	}
	parsed.Path = normalizeAPIPath(parsed.Path)
	parsed.RawPath = ""
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return strings.TrimRight(parsed.String(), "/"), nil
}

// normalizeAPIPath maps an empty path to the OpenAPI prefix and strips
// endpoint suffixes pasted from documentation.
func normalizeAPIPath(path string) string {
	path = strings.TrimRight(path, "/")
	for _, suffix := range []string{tokenPath, contactsPath, subscribePath} {
		path = strings.TrimSuffix(path, suffix)
	}
	if path == "" {
		return defaultAPIPath
	}
	return path
}

func StateDir() (string, error) {
	root, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, "pbx-monitor"), nil
}

func DefaultTokenFile() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "token_access.json"), nil
}

func InstanceLockPath() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "monitor.lock"), nil
}
