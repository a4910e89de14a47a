package channel

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/quillon/domselect/protocol"
)

func testChannel() *Channel {
	return New(Config{AllowedOrigins: []string{"https://host.example"}})
}

// fakePeer records every frame written to it.
func fakePeer(origin string) (*peer, *[][]byte) {
	var frames [][]byte
	p := &peer{
		origin: origin,
		write: func(_ context.Context, data []byte) error {
			frames = append(frames, append([]byte(nil), data...))
			return nil
		},
	}
	return p, &frames
}

func TestHandler_RejectsUnlistedOrigin(t *testing.T) {
	c := testChannel()

	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()

	c.Handler()(rec, req)

	if rec.Code != 403 {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if c.PinnedOrigin() != "" {
		t.Error("rejected origin must not pin")
	}
	select {
	case in := <-c.Inbound():
		t.Errorf("rejected origin produced inbound %v", in)
	default:
	}
}

func TestReceive_PinsAndAcksBeforeDispatch(t *testing.T) {
	c := testChannel()
	p, frames := fakePeer("https://host.example")
	c.addPeer(context.Background(), p)

	raw := []byte(`{"type":"tool-element-selection"}`)
	c.receive(context.Background(), p, raw)

	if got := c.PinnedOrigin(); got != "https://host.example" {
		t.Fatalf("pinned = %q", got)
	}

	// The ack arrives before the message is even dispatched.
	if len(*frames) != 1 {
		t.Fatalf("wrote %d frames, want 1 ack", len(*frames))
	}
	var env protocol.Envelope
	if err := json.Unmarshal((*frames)[0], &env); err != nil {
		t.Fatal(err)
	}
	if env.Type != protocol.TypeAck {
		t.Fatalf("first frame type = %q, want ack", env.Type)
	}
	var ack protocol.AckPayload
	if err := json.Unmarshal(env.Payload, &ack); err != nil {
		t.Fatal(err)
	}
	if string(ack.Message) != string(raw) {
		t.Errorf("ack echoes %s, want %s", ack.Message, raw)
	}

	in := <-c.Inbound()
	if string(in.Raw) != string(raw) {
		t.Errorf("inbound raw = %s", in.Raw)
	}
}

func TestReceive_AcksUnknownTypesToo(t *testing.T) {
	c := testChannel()
	p, frames := fakePeer("https://host.example")
	c.addPeer(context.Background(), p)

	c.receive(context.Background(), p, []byte(`{"type":"make-coffee"}`))

	if len(*frames) != 1 {
		t.Fatalf("unknown type: wrote %d frames, want 1 ack", len(*frames))
	}
	<-c.Inbound()
}

func TestSend_DropsSilentlyBeforePinning(t *testing.T) {
	c := testChannel()
	p, frames := fakePeer("https://host.example")
	c.addPeer(context.Background(), p)

	c.Send(context.Background(), protocol.Status("ready"))

	if len(*frames) != 0 {
		t.Errorf("outbound delivered before pinning: %d frames", len(*frames))
	}
}

func TestSend_TargetsOnlyPinnedOrigin(t *testing.T) {
	c := New(Config{AllowedOrigins: []string{"https://host.example", "https://other.example"}})

	pinnedPeer, pinnedFrames := fakePeer("https://host.example")
	otherPeer, otherFrames := fakePeer("https://other.example")
	c.addPeer(context.Background(), pinnedPeer)
	c.addPeer(context.Background(), otherPeer)

	c.receive(context.Background(), pinnedPeer, []byte(`{"type":"ready"}`))
	<-c.Inbound()

	before := len(*pinnedFrames)
	c.Send(context.Background(), protocol.Status("ready"))

	if len(*pinnedFrames) != before+1 {
		t.Errorf("pinned peer got %d new frames, want 1", len(*pinnedFrames)-before)
	}
	if len(*otherFrames) != 0 {
		t.Errorf("non-pinned peer received %d frames, want 0", len(*otherFrames))
	}
}

func TestAnnounce_GreetsNewPeersBeforePinning(t *testing.T) {
	c := New(Config{AllowedOrigins: []string{"https://a.example", "https://b.example"}})
	c.Announce(protocol.Status("ready"))

	pa, fa := fakePeer("https://a.example")
	pb, fb := fakePeer("https://b.example")
	c.addPeer(context.Background(), pa)
	c.addPeer(context.Background(), pb)

	if len(*fa) != 1 || len(*fb) != 1 {
		t.Fatalf("announce frames: a=%d b=%d, want 1 each", len(*fa), len(*fb))
	}

	var env protocol.Envelope
	if err := json.Unmarshal((*fa)[0], &env); err != nil {
		t.Fatal(err)
	}
	if env.Type != protocol.TypeStatus {
		t.Fatalf("announce type = %q, want status", env.Type)
	}
	var p protocol.StatusPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatal(err)
	}
	if p.Status != "ready" {
		t.Errorf("announce status = %q, want ready", p.Status)
	}
}

func TestAnnounce_NotSentAfterPinning(t *testing.T) {
	c := New(Config{AllowedOrigins: []string{"https://a.example", "https://b.example"}})
	c.Announce(protocol.Status("ready"))

	pa, _ := fakePeer("https://a.example")
	c.addPeer(context.Background(), pa)
	c.receive(context.Background(), pa, []byte(`{"type":"ready"}`))
	<-c.Inbound()

	pb, fb := fakePeer("https://b.example")
	c.addPeer(context.Background(), pb)

	if len(*fb) != 0 {
		t.Errorf("peer accepted after pinning got %d frames, want 0", len(*fb))
	}
}

func TestAnnounce_UnsetDeliversNothing(t *testing.T) {
	c := testChannel()

	p, frames := fakePeer("https://host.example")
	c.addPeer(context.Background(), p)

	if len(*frames) != 0 {
		t.Errorf("peer got %d frames with no announcement set, want 0", len(*frames))
	}
}
