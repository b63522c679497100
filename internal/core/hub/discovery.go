package hub

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// DefaultDiscoveryURL is the vendor's cloud lookup for hubs on the caller's
// network.
const DefaultDiscoveryURL = "https://discovery.meethue.com"

type discovered struct {
	ID                string `json:"id"`
	InternalIPAddress string `json:"internalipaddress"`
}

// Discover asks the cloud lookup service for the local address of the
// first hub registered on this network.
func Discover(ctx context.Context, url string, timeout time.Duration) (string, error) {
	if url == "" {
		url = DefaultDiscoveryURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	var found []discovered
	if err := doJSON(ctx, &http.Client{Timeout: timeout}, http.MethodGet, url, nil, &found); err != nil {
		return "", fmt.Errorf("hub: discover: %w", err)
	}
	for _, d := range found {
		if d.InternalIPAddress != "" {
			return d.InternalIPAddress, nil
		}
	}
	return "", ErrDiscoveryEmpty
}

// Pair registers deviceType with the hub and returns the issued API key.
// While the hub reports that its link button has not been pressed the
// request is repeated every retry interval until ctx is done.
func Pair(ctx context.Context, address, deviceType string, retry time.Duration, log *slog.Logger) (string, error) {
	if retry <= 0 {
		retry = 10 * time.Second
	}
	client := &http.Client{Timeout: DefaultTimeout}
	url := baseURL(address) + "/api"
	body := map[string]string{"devicetype": deviceType}

	for {
		var acks []Ack
		if err := doJSON(ctx, client, http.MethodPost, url, body, &acks); err != nil {
			return "", fmt.Errorf("hub: pair: %w", err)
		}
		if len(acks) == 0 {
			return "", fmt.Errorf("hub: pair: empty reply")
		}

		ack := acks[0]
		switch {
		case ack.Error != nil && ack.Error.Type == ErrLinkButton:
			log.Warn("press the hub link button to authorise the relay", "address", address, "retry_in", retry)
		case ack.Error != nil:
			return "", fmt.Errorf("hub: pair: %w", ack.Error)
		default:
			username, _ := ack.Success["username"].(string)
			if username == "" {
				return "", ErrNotPaired
			}
			log.Info("hub pairing complete", "address", address)
			return username, nil
		}

		timer := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
}
