package telegram

import (
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"
)

func TestBuildPollerLongpoll(t *testing.T) {
	p, ok := BuildPoller(PollerOptions{RunMode: "longpoll"}).(*tele.LongPoller)
	if !ok {
		t.Fatal("expected a long poller")
	}
	if p.Timeout != 10*time.Second {
		t.Fatalf("timeout = %s", p.Timeout)
	}
	if len(p.AllowedUpdates) != 2 || p.AllowedUpdates[1] != "callback_query" {
		t.Fatalf("allowed updates = %v", p.AllowedUpdates)
	}

	p = BuildPoller(PollerOptions{LongPollTimeoutSeconds: 25}).(*tele.LongPoller)
	if p.Timeout != 25*time.Second {
		t.Fatalf("timeout = %s", p.Timeout)
	}
}

func TestBuildPollerWebhook(t *testing.T) {
	p, ok := BuildPoller(PollerOptions{
		RunMode: " Webhook ",
		Webhook: WebhookOptions{Listen: "0.0.0.0", Port: 8443, URL: "https://bot.example.com/hook", SecretToken: "s3cret"},
	}).(*tele.Webhook)
	if !ok {
		t.Fatal("expected a webhook")
	}
	if p.Listen != "0.0.0.0:8443" {
		t.Fatalf("listen = %q", p.Listen)
	}
	if p.SecretToken != "s3cret" || p.Endpoint.PublicURL != "https://bot.example.com/hook" {
		t.Fatalf("webhook = %+v", p)
	}
}
