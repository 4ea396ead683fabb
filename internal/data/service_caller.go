package data

import (
	"context"
	"fmt"
	nethttp "net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"InsightLane/internal/model"
	pkglog "InsightLane/pkg/log"

	_ "github.com/go-kratos/kratos/v2/encoding/json"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"
	"golang.org/x/time/rate"
)

const defaultCallTimeout = 5 * time.Second

type serviceClient struct {
	client  *http.Client
	limiter *rate.Limiter
}

// HTTPServiceCaller invokes backend services over HTTP with JSON bodies. One kratos
// client is created per service on first use, paced by the service's rate limit.
type HTTPServiceCaller struct {
	mu      sync.Mutex
	clients map[string]*serviceClient
	logger  *pkglog.LogHelper
}

// NewHTTPServiceCaller creates an HTTPServiceCaller. The cleanup closes every client.
func NewHTTPServiceCaller(logger log.Logger) (*HTTPServiceCaller, func()) {
	c := &HTTPServiceCaller{
		clients: make(map[string]*serviceClient),
		logger:  pkglog.NewLogHelper(logger),
	}
	return c, c.close
}

func (c *HTTPServiceCaller) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, sc := range c.clients {
		if err := sc.client.Close(); err != nil {
			c.logger.Warnw("msg", "failed to close service client", "service", name, "error", err)
		}
	}
	c.clients = make(map[string]*serviceClient)
}

func (c *HTTPServiceCaller) clientFor(svc *model.ServiceDescriptor) (*serviceClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sc, ok := c.clients[svc.Name]; ok {
		return sc, nil
	}

	timeout := svc.Timeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	client, err := http.NewClient(context.Background(),
		http.WithEndpoint(svc.Endpoint),
		http.WithTimeout(timeout),
		http.WithUserAgent("InsightLane"),
	)
	if err != nil {
		return nil, fmt.Errorf("create client for %s: %w", svc.Name, err)
	}

	sc := &serviceClient{client: client}
	if svc.RateLimit > 0 {
		burst := int(svc.RateLimit)
		if burst < 1 {
			burst = 1
		}
		sc.limiter = rate.NewLimiter(rate.Limit(svc.RateLimit), burst)
	}
	c.clients[svc.Name] = sc
	return sc, nil
}

// Call implements biz.ServiceCaller. GET requests carry params in the query string,
// other methods send them as a JSON body. The decoded JSON reply is returned.
func (c *HTTPServiceCaller) Call(ctx context.Context, svc *model.ServiceDescriptor, params map[string]any) (any, error) {
	sc, err := c.clientFor(svc)
	if err != nil {
		return nil, err
	}
	if sc.limiter != nil {
		if err := sc.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait for %s: %w", svc.Name, err)
		}
	}

	method := strings.ToUpper(svc.Method)
	if method == "" {
		method = nethttp.MethodPost
	}
	path := svc.Path
	if path == "" {
		path = "/"
	}
	var args any = params
	if method == nethttp.MethodGet {
		path = withQuery(path, params)
		args = nil
	}

	start := time.Now()
	var reply any
	if err := sc.client.Invoke(ctx, method, path, args, &reply); err != nil {
		c.logger.Warnw("msg", "service call failed", "service", svc.Name, "method", method, "path", svc.Path,
			"duration_ms", time.Since(start).Milliseconds(), "error", err, "type", "gateway")
		return nil, err
	}
	c.logger.Gateway(fmt.Sprintf("%s %s%s", method, svc.Name, svc.Path),
		"service", svc.Name, "duration_ms", time.Since(start).Milliseconds())
	return reply, nil
}

func withQuery(path string, params map[string]any) string {
	if len(params) == 0 {
		return path
	}
	q := url.Values{}
	for k, v := range params {
		q.Set(k, fmt.Sprint(v))
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + q.Encode()
}
