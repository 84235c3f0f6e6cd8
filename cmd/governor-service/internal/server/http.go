package server

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"llmgovernor/cmd/governor-service/internal/biz"
	"llmgovernor/pkg/health"
)

// NewMux 组装运维 HTTP 入口：metrics、健康检查和少量运维操作。
// 治理核心本身没有业务 HTTP 面，准入调用走进程内注入。
func NewMux(governor *biz.Governor, checker *health.HealthChecker) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		results := checker.Check(r.Context())
		status := checker.GetStatus(r.Context())
		if status != health.StatusUp {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		writeJSON(w, map[string]interface{}{
			"status": status,
			"checks": results,
		})
	})

	// 预算状态查询（廉价读路径）
	mux.HandleFunc("GET /v1/budget/status", func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.URL.Query().Get("tenant_id")
		if tenantID == "" {
			http.Error(w, "tenant_id required", http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]interface{}{
			"tenant_id": tenantID,
			"status":    governor.Status(r.Context(), tenantID),
		})
	})

	// 运维操作：全局 kill switch
	mux.HandleFunc("POST /admin/kill-switch", func(w http.ResponseWriter, r *http.Request) {
		on := r.URL.Query().Get("on") == "true"
		governor.SetKillSwitch(on)
		writeJSON(w, map[string]interface{}{"kill_switch": on})
	})

	// 运维操作：手动重置提供商熔断器
	mux.HandleFunc("POST /admin/breaker/reset", func(w http.ResponseWriter, r *http.Request) {
		provider := r.URL.Query().Get("provider")
		if provider == "" {
			http.Error(w, "provider required", http.StatusBadRequest)
			return
		}
		governor.Breakers().Reset(provider)
		writeJSON(w, map[string]interface{}{
			"provider": provider,
			"state":    governor.Breakers().Get(provider).State().String(),
		})
	})

	return mux
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
