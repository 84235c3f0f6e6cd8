package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// NotificationClient 通知服务客户端。预算告警通过它投递到外部通知
// 服务（站内信/邮件/工单由对方路由），调用失败由上层吞掉。
type NotificationClient struct {
	baseURL        string
	httpClient     *http.Client
	circuitBreaker *gobreaker.CircuitBreaker
}

// NotificationRequest 通知请求
type NotificationRequest struct {
	TenantID string `json:"tenant_id"`
	Title    string `json:"title"`
	Message  string `json:"message"`
	Severity string `json:"severity"` // info, warning, critical
}

// NewNotificationClient 创建通知服务客户端
func NewNotificationClient(baseURL string, timeout time.Duration) *NotificationClient {
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	c := &NotificationClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}

	c.circuitBreaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "notification-service",
		MaxRequests: 3,                // 半开状态下最大请求数
		Interval:    10 * time.Second, // 统计周期
		Timeout:     30 * time.Second, // 熔断器开启后等待时间
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// 失败率 >= 60% 且请求数 >= 5 时触发熔断
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
	})

	return c
}

// Send 发送通知
func (c *NotificationClient) Send(ctx context.Context, req *NotificationRequest) error {
	_, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		return nil, c.doSend(ctx, req)
	})
	return err
}

func (c *NotificationClient) doSend(ctx context.Context, req *NotificationRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/notifications", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("notification service returned %d: %s", resp.StatusCode, respBody)
	}

	return nil
}
