package netlog

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeForest_DocumentOrder(t *testing.T) {
	raw := []byte(`{
	  "1": {"request": {"url": "https://example.com/", "startTime": 1, "endTime": 1.5, "transferSize": 100},
	        "children": {
	          "3": {"request": {"url": "b.css", "startTime": 1.6, "endTime": 2, "transferSize": 10}, "children": {}},
	          "2": {"request": {"url": "a.js", "startTime": 1.6, "endTime": 2.5, "transferSize": 20},
	                "children": {"4": {"request": {"url": "c.woff", "startTime": 2.6, "endTime": 3, "transferSize": 5}, "children": {}}}}
	        }},
	  "9": {"request": {"url": "https://other.example/", "startTime": 0, "endTime": 0.1}, "children": {}}
	}`)
	f, err := DecodeForest(raw)
	require.NoError(t, err)
	require.Equal(t, 5, f.Len())
	require.Len(t, f.Roots, 2)

	root := f.Nodes[f.Roots[0]]
	assert.Equal(t, "1", root.ID)
	assert.Equal(t, 1000.0, root.Request.StartMs)
	require.Len(t, root.Children, 2)
	assert.Equal(t, "3", f.Nodes[root.Children[0]].ID)
	assert.Equal(t, "2", f.Nodes[root.Children[1]].ID)

	js := f.Nodes[root.Children[1]]
	require.Len(t, js.Children, 1)
	assert.Equal(t, "c.woff", f.Nodes[js.Children[0]].Request.URL)
	assert.Equal(t, f.Roots[0], js.Parent)
}

func TestDecodeForest_Malformed(t *testing.T) {
	_, err := DecodeForest([]byte(`[1,2]`))
	require.Error(t, err)
}

func TestForest_MarshalJSON(t *testing.T) {
	f := &Forest{}
	root := f.Add(-1, "1", Request{URL: "/", StartMs: 0, EndMs: 10})
	f.Add(root, "2", Request{URL: "/a.js", StartMs: 10, EndMs: 20})

	b, err := json.Marshal(f)
	require.NoError(t, err)

	var out map[string]map[string]any
	require.NoError(t, json.Unmarshal(b, &out))
	children := out["1"]["children"].(map[string]any)
	require.Contains(t, children, "2")
	leaf := children["2"].(map[string]any)
	assert.Empty(t, leaf["children"])
}

func TestBuildForest(t *testing.T) {
	recs := []Record{
		{RequestID: "1", URL: "/", StartMs: 0, EndMs: 100, Finished: true, Priority: "VeryHigh", ResourceType: "Document", TransferSize: 1000},
		{RequestID: "2", URL: "/app.js", StartMs: 110, EndMs: 200, Finished: true, Priority: "High", ResourceType: "Script", InitiatorRequestID: "1", TransferSize: 300},
		{RequestID: "3", URL: "/logo.png", StartMs: 110, EndMs: 150, Finished: true, Priority: "High", ResourceType: "Image", InitiatorRequestID: "1"},
		{RequestID: "4", URL: "/api", StartMs: 210, EndMs: 260, Finished: true, Priority: "High", ResourceType: "XHR", InitiatorRequestID: "2"},
		{RequestID: "5", URL: "/font.woff2", StartMs: 210, EndMs: 300, Finished: true, Priority: "VeryHigh", ResourceType: "Font", InitiatorRequestID: "2"},
		{RequestID: "6", URL: "/late.js", StartMs: 400, EndMs: 500, Finished: true, Priority: "Low", ResourceType: "Script", InitiatorRequestID: "1"},
		{RequestID: "7", URL: "/child-of-low.css", StartMs: 510, EndMs: 520, Finished: true, Priority: "High", InitiatorRequestID: "6"},
		{RequestID: "8", URL: "/pending.css", StartMs: 510, EndMs: -1, Priority: "High", InitiatorRequestID: "1"},
		{RequestID: "9", URL: "/favicon", StartMs: 600, EndMs: 610, Finished: true, Priority: "High", MimeType: "image/x-icon"},
		{RequestID: "10", URL: "/cycle-a", StartMs: 700, EndMs: 710, Finished: true, Priority: "High", InitiatorRequestID: "11"},
		{RequestID: "11", URL: "/cycle-b", StartMs: 700, EndMs: 710, Finished: true, Priority: "High", InitiatorRequestID: "10"},
	}

	f := BuildForest(recs)
	require.Len(t, f.Roots, 1)
	root := f.Nodes[f.Roots[0]]
	assert.Equal(t, "1", root.ID)
	require.Len(t, root.Children, 1)

	script := f.Nodes[root.Children[0]]
	assert.Equal(t, "2", script.ID)
	require.Len(t, script.Children, 1)
	assert.Equal(t, "5", f.Nodes[script.Children[0]].ID)
	assert.Equal(t, 3, f.Len())
}
