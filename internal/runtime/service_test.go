package runtime

import (
	"net/http"
	"testing"

	"pbx-monitor/internal/config"
)

func TestNewHTTPClients_InsecureSkipVerifyStaysOnPBXClient(t *testing.T) {
	clients := newHTTPClients(config.Options{InsecureSkipVerify: true})

	pbxTransport, ok := clients.pbx.Transport.(*http.Transport)
	if !ok || pbxTransport.TLSClientConfig == nil || !pbxTransport.TLSClientConfig.InsecureSkipVerify {
		t.Fatalf("PBX transport does not skip verification when asked")
	}
	if !clients.pbxTLS.InsecureSkipVerify {
		t.Fatalf("PBX dialer TLS config does not skip verification when asked")
	}

	forwardTransport, ok := clients.forward.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("forward transport = %T, want *http.Transport", clients.forward.Transport)
	}
	if forwardTransport == pbxTransport {
		t.Fatalf("forwarder shares the PBX transport")
	}
	if forwardTransport.TLSClientConfig != nil && forwardTransport.TLSClientConfig.InsecureSkipVerify {
		t.Fatalf("forward transport skips certificate verification")
	}
}

func TestNewHTTPClients_VerifiesByDefault(t *testing.T) {
	clients := newHTTPClients(config.Options{})
	if clients.pbxTLS.InsecureSkipVerify {
		t.Fatalf("PBX TLS config skips verification without opt-out")
	}
	if clients.pbx.Timeout != defaultHTTPTimeout || clients.forward.Timeout != defaultHTTPTimeout {
		t.Fatalf("timeouts = %v / %v, want %v", clients.pbx.Timeout, clients.forward.Timeout, defaultHTTPTimeout)
	}
}
