package youtube

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"ChannelDigest/internal/domain"
)

const sampleChannelPage = `<!DOCTYPE html>
<html>
<head>
  <title>Some Channel - YouTube</title>
  <meta property="og:title" content="Some Channel">
</head>
<body>
<script>
var ytInitialData = {"metadata":{"channelMetadataRenderer":{"externalId":"UCabcdefghijklmnopqrstuv"}}};
</script>
</body>
</html>`

func TestResolveExtractsChannelIDAndName(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got == "" {
			t.Error("expected a user agent header")
		}
		_, _ = w.Write([]byte(sampleChannelPage))
	}))
	defer server.Close()

	r := NewPageResolver(server.Client())

	channelID, name, err := r.Resolve(context.Background(), server.URL+"/@somechannel")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if channelID != "UCabcdefghijklmnopqrstuv" {
		t.Fatalf("unexpected channel id: %s", channelID)
	}
	if name != "Some Channel" {
		t.Fatalf("unexpected name: %s", name)
	}
}

func TestResolveFallsBackToTitleTag(t *testing.T) {
	t.Parallel()

	page := `<html><head><title>Fallback Name - YouTube</title></head>
<body><script>var d = {"externalId":"UCabcdefghijklmnopqrstuv"};</script></body></html>`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(page))
	}))
	defer server.Close()

	r := NewPageResolver(server.Client())

	_, name, err := r.Resolve(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if name != "Fallback Name" {
		t.Fatalf("unexpected name: %s", name)
	}
}

func TestResolveMissingChannelIDIsPermanent(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body>nothing useful here</body></html>`))
	}))
	defer server.Close()

	r := NewPageResolver(server.Client())

	_, _, err := r.Resolve(context.Background(), server.URL)
	if err == nil {
		t.Fatal("expected an error when the page carries no channel id")
	}
	if !domain.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestResolveNotFoundIsPermanent(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	r := NewPageResolver(server.Client())

	_, _, err := r.Resolve(context.Background(), server.URL)
	if !domain.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}
