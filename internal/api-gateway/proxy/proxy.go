package proxy

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// Route encaminha um prefixo público para um serviço interno
type Route struct {
	Prefix string // ex.: "/api/wager"
	Target string // ex.: "http://localhost:8083"
}

// AllowedHeaders inclui o cabeçalho de identidade do chamador
const AllowedHeaders = "Content-Type, Authorization, X-User-ID"

func reverse(log *zap.Logger, to string) (*httputil.ReverseProxy, error) {
	u, err := url.Parse(to)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid upstream %q", to)
	}
	rp := httputil.NewSingleHostReverseProxy(u)
	rp.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Warn("upstream failed", zap.String("upstream", u.Host), zap.String("path", r.URL.Path), zap.Error(err))
		w.WriteHeader(http.StatusBadGateway)
	}
	return rp, nil
}

// NewHandler monta o mux do gateway com CORS
func NewHandler(log *zap.Logger, routes ...Route) (http.Handler, error) {
	mux := http.NewServeMux()
	for _, rt := range routes {
		rp, err := reverse(log, rt.Target)
		if err != nil {
			return nil, err
		}
		prefix := strings.TrimSuffix(rt.Prefix, "/")
		mux.Handle(prefix+"/", http.StripPrefix(prefix, rp))
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return WithCORS(mux), nil
}

func WithCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", AllowedHeaders)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.ServeHTTP(w, r)
	})
}
