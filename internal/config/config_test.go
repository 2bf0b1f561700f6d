package config

import (
	"path/filepath"
	"runtime"
	"slices"
	"testing"
	"time"
)

func TestBuildEndpoints_NormalizeAPIBaseURL(t *testing.T) {
	tests := []struct {
		name       string
		api        string
		ws         string
		wantBase   string
		wantStream string
	}{
		{
			name:       "bare host",
			api:        "https://pbx.example.com",
			wantBase:   "https://pbx.example.com/openapi/v1.0",
			wantStream: "wss://pbx.example.com/openapi/v1.0/subscribe",
		},
		{
			name:       "already api path",
			api:        "https://pbx.example.com:8088/openapi/v1.0/",
			ws:         "pbx.example.com:8088",
			wantBase:   "https://pbx.example.com:8088/openapi/v1.0",
			wantStream: "wss://pbx.example.com:8088/openapi/v1.0/subscribe",
		},
		{
			name:       "pasted token endpoint",
			api:        "https://pbx.example.com/openapi/v1.0/get_token?x=1#y",
			ws:         "wss://events.example.com/openapi/v1.0/subscribe",
			wantBase:   "https://pbx.example.com/openapi/v1.0",
			wantStream: "wss://events.example.com/openapi/v1.0/subscribe",
		},
		{
			name:       "plain http derives ws",
			api:        "http://127.0.0.1:8090",
			wantBase:   "http://127.0.0.1:8090/openapi/v1.0",
			wantStream: "ws://127.0.0.1:8090/openapi/v1.0/subscribe",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			endpoints, err := BuildEndpoints(tt.api, tt.ws)
			if err != nil {
				t.Fatalf("BuildEndpoints failed: %v", err)
			}
			if endpoints.APIBase != tt.wantBase {
				t.Fatalf("APIBase = %q, want %q", endpoints.APIBase, tt.wantBase)
			}
			if endpoints.TokenURL != tt.wantBase+"/get_token" {
				t.Fatalf("TokenURL = %q", endpoints.TokenURL)
			}
			if endpoints.ContactsURL != tt.wantBase+"/company_contact/list" {
				t.Fatalf("ContactsURL = %q", endpoints.ContactsURL)
			}
			if endpoints.StreamURL != tt.wantStream {
				t.Fatalf("StreamURL = %q, want %q", endpoints.StreamURL, tt.wantStream)
			}
		})
	}
}

func TestBuildEndpoints_InvalidScheme(t *testing.T) {
	tests := []struct {
		api string
		ws  string
	}{
		{api: "ftp://example.com"},
		{api: "ws://example.com"},
		{api: "pbx.example.com"},
		{api: "https://example.com", ws: "https://events.example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.api+"|"+tt.ws, func(t *testing.T) {
			if _, err := BuildEndpoints(tt.api, tt.ws); err == nil {
				t.Fatalf("expected error for api=%q ws=%q", tt.api, tt.ws)
			}
		})
	}
}

func TestParseOptions_EnvironmentAndDefaults(t *testing.T) {
	t.Setenv("HOST", "https://pbx.example.com")
	t.Setenv("CLIENT_ID", "client")
	t.Setenv("CLIENT_SECRET", "secret")
	t.Setenv("TOPIC_LIST", "30011,30012,30011")
	t.Setenv("PBX_MEMBER_STATUSES", " ring ,answered,RING")

	opts, err := ParseOptions([]string{"--heartbeat-interval", "20s"})
	if err != nil {
		t.Fatalf("ParseOptions() error = %v", err)
	}
	if !slices.Equal(opts.Topics, []int{30011, 30012}) {
		t.Fatalf("Topics = %v", opts.Topics)
	}
	if !slices.Equal(opts.MemberStatuses, []string{"RING", "ANSWERED"}) {
		t.Fatalf("MemberStatuses = %v", opts.MemberStatuses)
	}
	if opts.HeartbeatInterval != 20*time.Second {
		t.Fatalf("HeartbeatInterval = %v, want 20s", opts.HeartbeatInterval)
	}
	if opts.RenewInterval != 1500*time.Second {
		t.Fatalf("RenewInterval = %v, want 1500s", opts.RenewInterval)
	}
	if opts.Listen != ":8000" {
		t.Fatalf("Listen = %q", opts.Listen)
	}
	if err := ValidateRequired(opts); err != nil {
		t.Fatalf("ValidateRequired() error = %v", err)
	}
}

func TestParseOptions_TopicListWithSpaces(t *testing.T) {
	t.Setenv("TOPIC_LIST", "30011, 30012 ,")

	opts, err := ParseOptions(nil)
	if err != nil {
		t.Fatalf("ParseOptions() error = %v", err)
	}
	if !slices.Equal([]int(opts.Topics), []int{30011, 30012}) {
		t.Fatalf("Topics = %v, want [30011 30012]", opts.Topics)
	}
}

func TestParseOptions_EmptyTopicList(t *testing.T) {
	t.Setenv("TOPIC_LIST", "")

	opts, err := ParseOptions(nil)
	if err != nil {
		t.Fatalf("ParseOptions() error = %v", err)
	}
	if len(opts.Topics) != 0 {
		t.Fatalf("Topics = %v, want none", opts.Topics)
	}
}

func TestParseOptions_TopicFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("TOPIC_LIST", "30011")

	opts, err := ParseOptions([]string{"--topic", "30013", "--topic", "30014"})
	if err != nil {
		t.Fatalf("ParseOptions() error = %v", err)
	}
	if !slices.Equal([]int(opts.Topics), []int{30013, 30014}) {
		t.Fatalf("Topics = %v, want [30013 30014]", opts.Topics)
	}
}

func TestTopicList_RejectsNonNumeric(t *testing.T) {
	var topics TopicList
	if err := topics.UnmarshalFlag("30011, abc"); err == nil {
		t.Fatalf("UnmarshalFlag() accepted a non-numeric topic")
	}
}

func TestValidateRequired(t *testing.T) {
	base := Options{APIURL: "https://pbx.example.com", ClientID: "id", ClientSecret: "secret"}
	if err := ValidateRequired(base); err != nil {
		t.Fatalf("ValidateRequired(base) error = %v", err)
	}

	missingSecret := base
	missingSecret.ClientSecret = " "
	if err := ValidateRequired(missingSecret); err == nil {
		t.Fatalf("expected error for missing secret")
	}

	badTopic := base
	badTopic.Topics = []int{-1}
	if err := ValidateRequired(badTopic); err == nil {
		t.Fatalf("expected error for negative topic")
	}

	badBackoff := base
	badBackoff.ReconnectDelay = time.Minute
	badBackoff.ReconnectMaxDelay = time.Second
	if err := ValidateRequired(badBackoff); err == nil {
		t.Fatalf("expected error for inverted backoff bounds")
	}
}

func TestDefaultTokenFileUnderConfigDir(t *testing.T) {
	root := t.TempDir()
	if runtime.GOOS == "windows" {
		t.Setenv("AppData", root)
	} else {
		t.Setenv("XDG_CONFIG_HOME", root)
	}
	if runtime.GOOS == "darwin" {
		t.Skip("os.UserConfigDir ignores XDG_CONFIG_HOME on darwin")
	}
	path, err := DefaultTokenFile()
	if err != nil {
		t.Fatalf("DefaultTokenFile() error = %v", err)
	}
	if want := filepath.Join(root, "pbx-monitor", "token_access.json"); path != want {
		t.Fatalf("DefaultTokenFile() = %q, want %q", path, want)
	}
}
