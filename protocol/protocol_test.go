package protocol

import (
	"encoding/json"
	"testing"
)

func TestResponseWireFormat(t *testing.T) {
	// Field names on the wire are fixed by the tracker protocol
	raw := `{"status": "success", "peers": [{"peer_id": "bob", "ip": "10.0.0.2", "port": 6002}], "peer_count": 1}`

	resp := &Response{}
	if err := json.Unmarshal([]byte(raw), resp); err != nil {
		t.Fatal(err)
	}

	if resp.Status != StatusSuccess {
		t.Fatalf("expected status %q, got %q", StatusSuccess, resp.Status)
	}
	if resp.PeerCount != 1 || len(resp.Peers) != 1 {
		t.Fatalf("unexpected peer list: %+v", resp)
	}
	if resp.Peers[0].PeerID != "bob" || resp.Peers[0].Addr() != "10.0.0.2:6002" {
		t.Fatalf("unexpected peer entry: %+v", resp.Peers[0])
	}
}

func TestResponseEmptyPeerListEncoding(t *testing.T) {
	// An empty peer list is reported explicitly, never omitted
	raw, err := json.Marshal(&Response{Status: StatusSuccess, Peers: []PeerInfo{}})
	if err != nil {
		t.Fatal(err)
	}

	want := `{"status":"success","peer_count":0,"peers":[]}`
	if string(raw) != want {
		t.Fatalf("expected %s, got %s", want, raw)
	}
}

func TestEnvelopeWireFormat(t *testing.T) {
	env := &Envelope{Type: MessageDirect, From: "alice", Content: "hi"}

	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}

	want := `{"type":"direct","from":"alice","content":"hi"}`
	if string(raw) != want {
		t.Fatalf("expected %s, got %s", want, raw)
	}
}
