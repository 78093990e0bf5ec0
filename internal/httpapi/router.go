package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// APIPrefix vitals API 路径前缀
const APIPrefix = "/api/v1/vitals"

// Router 使用标准库 http.ServeMux
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func method(m string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != m {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h(w, req)
	}
}

// RegisterVitalsRoutes 注册 vitals 路由
func (r *Router) RegisterVitalsRoutes(v *VitalsHandler) {
	r.Handle("/health", method(http.MethodGet, v.Health))

	r.Handle(APIPrefix+"/snapshot", method(http.MethodGet, v.GetSnapshot))
	r.Handle(APIPrefix+"/refresh", method(http.MethodPost, v.Refresh))

	r.Handle(APIPrefix+"/metrics", method(http.MethodGet, v.GetMetrics))
	r.Handle(APIPrefix+"/metrics/daily", method(http.MethodGet, v.GetDailySummary))
	r.Handle(APIPrefix+"/metrics/latest", method(http.MethodGet, v.GetLatestMetric))
	r.Handle(APIPrefix+"/metrics/export", method(http.MethodGet, v.ExportMetrics))
	if v.window != nil {
		r.Handle(APIPrefix+"/metrics/refresh", method(http.MethodPost, v.RefreshWindowMetrics))
		r.Handle(APIPrefix+"/metrics/window", method(http.MethodGet, v.GetWindowMetrics))
	}

	// records/{category}
	r.Handle(APIPrefix+"/records/", method(http.MethodPost, func(w http.ResponseWriter, req *http.Request) {
		category := strings.TrimPrefix(req.URL.Path, APIPrefix+"/records/")
		if category == "" || strings.Contains(category, "/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		v.WriteRecord(w, req, category)
	}))

	if v.hub != nil {
		r.Handle(APIPrefix+"/stream", v.hub.ServeWS)
	}
}
