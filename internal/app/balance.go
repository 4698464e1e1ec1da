package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type balanceResponse struct {
	IsAvailable bool          `json:"is_available"`
	BalanceInfo []balanceInfo `json:"balance_infos"`
	Error       *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type balanceInfo struct {
	Currency      any `json:"currency"`
	TotalBalance  any `json:"total_balance"`
	GrantedAmount any `json:"granted_balance"`
	ToppedUp      any `json:"topped_up_balance"`
}

// providerBalance reports the account balance for providers that expose one
// (deepseek). Other providers return "" without a request.
func (r *runtime) providerBalance(ctx context.Context) (string, error) {
	if r.cfg.Provider != "deepseek" {
		return "", nil
	}
	endpoint := strings.TrimRight(r.cfg.Providers[r.cfg.Provider].BaseURL, "/") + "/user/balance"
	var balance string
	err := withExponentialBackoff(ctx, retryOptions{
		MaxRetries: 2,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Jitter:     0.2,
	}, func(int) error {
		out, err := fetchBalance(ctx, endpoint, r.apiKey)
		if err != nil {
			return err
		}
		balance = out
		return nil
	})
	return balance, err
}

func fetchBalance(ctx context.Context, endpoint, apiKey string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("创建余额请求失败：%w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("余额请求失败：%w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2*1024*1024))
	if err != nil {
		return "", fmt.Errorf("读取余额响应失败：%w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("余额接口返回 %d：%s", resp.StatusCode, shortBody(body))
	}

	var parsed balanceResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("解析余额响应失败：%w", err)
	}
	if parsed.Error != nil && strings.TrimSpace(parsed.Error.Message) != "" {
		return "", fmt.Errorf("余额接口错误：%s", strings.TrimSpace(parsed.Error.Message))
	}
	balance := formatBalance(parsed.BalanceInfo)
	if balance == "" {
		return "", fmt.Errorf("余额接口返回为空")
	}
	return balance, nil
}

// formatBalance renders "CNY 12.5 | USD 1" style summaries; CNY is shown in 元.
func formatBalance(items []balanceInfo) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		currency := strings.ToUpper(strings.TrimSpace(anyToString(item.Currency)))
		if currency == "" {
			currency = "UNKNOWN"
		}
		total := strings.TrimSpace(firstNonEmpty(
			anyToString(item.TotalBalance),
			anyToString(item.ToppedUp),
			anyToString(item.GrantedAmount),
		))
		if total == "" {
			continue
		}
		if currency == "CNY" {
			parts = append(parts, total+" 元")
			continue
		}
		parts = append(parts, currency+" "+total)
	}
	return strings.Join(parts, " | ")
}

func anyToString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return fmt.Sprintf("%g", x)
	default:
		return fmt.Sprintf("%v", x)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func shortBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	if s == "" {
		return "-"
	}
	if len(s) > 280 {
		return s[:280] + "..."
	}
	return s
}
