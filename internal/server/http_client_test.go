package server

import (
	"testing"
	"time"

	"github.com/og-card/og-card/internal/config"
)

func TestNewFetchClientUsesConfigTimeout(t *testing.T) {
	cfg := &config.Config{
		Global: config.GlobalConfig{
			FetchTimeout: config.Duration(45 * time.Second),
		},
	}

	client := NewFetchClient(cfg)
	if client.Timeout != 45*time.Second {
		t.Fatalf("expected timeout 45s, got %s", client.Timeout)
	}
}

func TestNewFetchClientDefaultsWithoutConfig(t *testing.T) {
	client := NewFetchClient(nil)
	if client.Timeout != 10*time.Second {
		t.Fatalf("expected default timeout 10s, got %s", client.Timeout)
	}
	if client.Transport == defaultTransport {
		t.Fatalf("transport should be cloned per client")
	}
}

func TestNewFetcherAppliesFaviconService(t *testing.T) {
	cfg := &config.Config{
		Global: config.GlobalConfig{
			FaviconService: "https://icons.example.net/lookup",
		},
	}
	fetcher := NewFetcher(cfg)
	got := fetcher.FaviconURL("https://blog.example.com/post")
	if got != "https://icons.example.net/lookup?domain=blog.example.com" {
		t.Fatalf("unexpected favicon url: %s", got)
	}
}
