package runtime

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"pbx-monitor/internal/api"
	"pbx-monitor/internal/app"
	"pbx-monitor/internal/config"
	"pbx-monitor/internal/eventhub"
	"pbx-monitor/internal/logging"
	"pbx-monitor/internal/metrics"
)

const defaultHTTPTimeout = 10 * time.Second

type Service interface {
	RunContext(ctx context.Context) error
	Snapshot() api.Snapshot
	Reconnect() bool
	RenewCredential()
	Hub() *eventhub.Hub
}

func NewService(opts config.Options, logger *logging.Logger) (Service, error) {
	return NewServiceWithHooks(opts, logger, StartHooks{})
}

func NewServiceWithHooks(opts config.Options, logger *logging.Logger, hooks StartHooks) (Service, error) {
	if logger == nil {
		panic("runtime.NewServiceWithHooks: logger must not be nil")
	}
	if err := config.ValidateRequired(opts); err != nil {
		return nil, err
	}

	endpoints, err := config.BuildEndpoints(opts.APIURL, opts.WSHost)
	if err != nil {
		return nil, err
	}
	logger.Debug("constructed PBX endpoints",
		logging.Field("token_url", endpoints.TokenURL),
		logging.Field("contacts_url", endpoints.ContactsURL),
		logging.Field("stream_url", endpoints.StreamURL),
	)

	clients := newHTTPClients(opts)
	collector := metrics.NewPrometheus(prometheus.NewRegistry(), "")
	return app.New(opts, endpoints, app.Deps{
		HTTP:           clients.pbx,
		ForwardHTTP:    clients.forward,
		TLSConfig:      clients.pbxTLS,
		Metrics:        collector,
		MetricsHandler: collector.Handler(),
	}, logger, app.Callbacks{
		OnStatusChange: hooks.OnStatus,
		OnEvent:        hooks.OnEvent,
	}), nil
}

type httpClients struct {
	pbx     *http.Client
	pbxTLS  *tls.Config
	forward *http.Client
}

// newHTTPClients keeps the certificate opt-out on the PBX client; the
// webhook forwarder always verifies.
func newHTTPClients(opts config.Options) httpClients {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if opts.InsecureSkipVerify {
		tlsConfig.InsecureSkipVerify = true
	}
	pbxTransport := http.DefaultTransport.(*http.Transport).Clone()
	pbxTransport.TLSClientConfig = tlsConfig

	forwardTransport := http.DefaultTransport.(*http.Transport).Clone()
	forwardTransport.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}

	return httpClients{
		pbx:     &http.Client{Timeout: defaultHTTPTimeout, Transport: pbxTransport},
		pbxTLS:  tlsConfig,
		forward: &http.Client{Timeout: defaultHTTPTimeout, Transport: forwardTransport},
	}
}
