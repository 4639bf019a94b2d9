package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/sys/unix"

	"reelflow/internal/config"
)

const checkTimeout = 5 * time.Second

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckEndpoint verifies that a vendor API answers and accepts its key. Any
// response other than an auth rejection or a server error counts as
// reachable, since vendors differ in what their base URL serves.
func CheckEndpoint(ctx context.Context, name string, drv config.Driver) Result {
	base := strings.TrimRight(strings.TrimSpace(drv.BaseURL), "/")
	if base == "" {
		return Result{Name: name, Detail: "missing base_url"}
	}
	if strings.TrimSpace(drv.APIKey) == "" {
		return Result{Name: name, Detail: "missing api key"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, base, nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("invalid base_url (%v)", err)}
	}
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(drv.APIKey))

	resp, err := (&http.Client{Timeout: checkTimeout}).Do(req)
	if err != nil {
		return Result{Name: name, Detail: summarizeNetError(err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return Result{Name: name, Detail: "auth failed (invalid api key)"}
	case resp.StatusCode >= http.StatusInternalServerError:
		return Result{Name: name, Detail: fmt.Sprintf("vendor error (%d)", resp.StatusCode)}
	default:
		return Result{Name: name, Passed: true, Detail: "reachable"}
	}
}

// CheckWebhookSecrets reports vendors missing a signing secret.
func CheckWebhookSecrets(w config.Webhooks) Result {
	const name = "Webhook secrets"
	var missing []string
	for _, vendor := range []string{"renderer", "captioner", "publisher"} {
		if strings.TrimSpace(w.Secret(vendor)) == "" {
			missing = append(missing, vendor)
		}
	}
	if len(missing) > 0 {
		return Result{Name: name, Detail: "missing for " + strings.Join(missing, ", ")}
	}
	return Result{Name: name, Passed: true, Detail: "configured"}
}

// CheckNATS verifies the cron lease server accepts connections.
func CheckNATS(ctx context.Context, url string) Result {
	const name = "NATS"
	url = strings.TrimSpace(url)
	if url == "" {
		return Result{Name: name, Detail: "missing nats_url"}
	}
	timeout := checkTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	conn, err := nats.Connect(url, nats.Name("reelflow-preflight"), nats.Timeout(timeout), nats.NoReconnect())
	if err != nil {
		return Result{Name: name, Detail: summarizeNetError(err)}
	}
	defer conn.Close()
	return Result{Name: name, Passed: true, Detail: "connected to " + conn.ConnectedUrlRedacted()}
}

func summarizeNetError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timed out"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timed out (unreachable)"
	}
	return err.Error()
}
