package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"

	"notifyhub/internal/config"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

var (
	errMissingCredentials = errors.New("missing api key headers")
	errInvalidAPIKey      = errors.New("invalid api key")
	errInvalidExtra       = errors.New("invalid extra header")
	errPermissionDenied   = errors.New("permission denied")
	errRateLimited        = errors.New("rate limit exceeded")
)

const (
	resourceSchedules     = "schedules"
	resourceNotifications = "notifications"
	resourceTasks         = "tasks"

	unknownCaller = "unknown"
)

func readPermission(resource string) string  { return "read:" + resource }
func writePermission(resource string) string { return "write:" + resource }

// caller is what a transport extracted from one request.
type caller struct {
	apiKey string
	extra  string
	remote string
}

func (c caller) limiterKey() string {
	switch {
	case c.apiKey != "":
		return c.apiKey
	case c.remote != "":
		return c.remote
	default:
		return unknownCaller
	}
}

// accessControl is the API-key, permission and rate-limit policy shared by
// the HTTP and gRPC surfaces.
type accessControl struct {
	authEnabled bool
	keyHeader   string
	extraHeader string
	clients     map[string]config.APIClientKey
	limiter     *keyedLimiter
}

func newAccessControl(cfg config.APIConfig) *accessControl {
	clients := make(map[string]config.APIClientKey, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		clients[k.Key] = k
	}
	return &accessControl{
		authEnabled: cfg.Auth.Enabled,
		keyHeader:   headerName(cfg.Auth.HeaderAPIKey, "x-api-key"),
		extraHeader: headerName(cfg.Auth.HeaderExtra, "x-api-extra"),
		clients:     clients,
		limiter:     newKeyedLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
	}
}

func headerName(configured, fallback string) string {
	if h := strings.ToLower(strings.TrimSpace(configured)); h != "" {
		return h
	}
	return fallback
}

// admit authenticates c when auth is on, checks it holds required and spends
// one rate-limit token.
func (a *accessControl) admit(c caller, required string) error {
	if a.authEnabled {
		client, err := a.authenticate(c)
		if err != nil {
			return err
		}
		if !permitted(client, required) {
			return errPermissionDenied
		}
	}
	if !a.limiter.Allow(c.limiterKey()) {
		return errRateLimited
	}
	return nil
}

func (a *accessControl) authenticate(c caller) (config.APIClientKey, error) {
	if c.apiKey == "" || c.extra == "" {
		return config.APIClientKey{}, errMissingCredentials
	}
	client, ok := a.clients[c.apiKey]
	if !ok {
		return config.APIClientKey{}, errInvalidAPIKey
	}
	if subtle.ConstantTimeCompare([]byte(client.Extra), []byte(c.extra)) != 1 {
		return config.APIClientKey{}, errInvalidExtra
	}
	return client, nil
}

// permitted treats an empty permission list as allow-all.
func permitted(client config.APIClientKey, required string) bool {
	if required == "" || len(client.Permissions) == 0 {
		return true
	}
	for _, p := range client.Permissions {
		if strings.TrimSpace(p) == required {
			return true
		}
	}
	return false
}

// HTTPAuth guards the REST routes. /healthz and /ws stay public.
type HTTPAuth struct {
	enabled bool
	access  *accessControl
}

func NewHTTPAuth(cfg config.APIConfig) *HTTPAuth {
	return &HTTPAuth{enabled: cfg.Enabled && cfg.HTTP.Enabled, access: newAccessControl(cfg)}
}

func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	if !a.enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		c := caller{
			apiKey: strings.TrimSpace(r.Header.Get(a.access.keyHeader)),
			extra:  strings.TrimSpace(r.Header.Get(a.access.extraHeader)),
		}
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			c.remote = host
		}

		if err := a.access.admit(c, httpPermission(r)); err != nil {
			writeError(w, httpStatus(err), err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isPublicPath(path string) bool {
	return path == "/healthz" || path == "/ws"
}

func httpPermission(r *http.Request) string {
	perm := writePermission
	if r.Method == http.MethodGet {
		perm = readPermission
	}
	switch path := r.URL.Path; {
	case strings.HasPrefix(path, "/api/v1/schedules"):
		return perm(resourceSchedules)
	case strings.HasPrefix(path, "/api/v1/notifications"):
		return perm(resourceNotifications)
	case strings.HasPrefix(path, "/api/v1/scheduler"):
		return perm(resourceTasks)
	default:
		return ""
	}
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, errPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusUnauthorized
	}
}

var methodPermissions = map[string]string{
	taskServiceListTasks:    readPermission(resourceTasks),
	taskServiceReconcile:    writePermission(resourceTasks),
	taskServiceScheduleTask: writePermission(resourceTasks),
}

// AuthInterceptor applies the same policy to TaskService calls, reading
// credentials from metadata.
type AuthInterceptor struct {
	enabled bool
	access  *accessControl
}

func NewAuthInterceptor(cfg *config.APIConfig) *AuthInterceptor {
	return &AuthInterceptor{enabled: cfg.Enabled, access: newAccessControl(*cfg)}
}

func (a *AuthInterceptor) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !a.enabled {
			return handler(ctx, req)
		}

		md, _ := metadata.FromIncomingContext(ctx)
		c := caller{
			apiKey: firstValue(md, a.access.keyHeader),
			extra:  firstValue(md, a.access.extraHeader),
			remote: peerAddr(ctx),
		}
		if err := a.access.admit(c, methodPermissions[info.FullMethod]); err != nil {
			return nil, status.Error(grpcCode(err), err.Error())
		}
		return handler(ctx, req)
	}
}

func grpcCode(err error) codes.Code {
	switch {
	case errors.Is(err, errPermissionDenied):
		return codes.PermissionDenied
	case errors.Is(err, errRateLimited):
		return codes.ResourceExhausted
	default:
		return codes.Unauthenticated
	}
}

func firstValue(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return strings.TrimSpace(vals[0])
	}
	return ""
}

func peerAddr(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return ""
}
