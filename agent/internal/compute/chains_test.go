package compute

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsidianstack/pagescore/agent/internal/netlog"
)

// sampleForest:
//
//	A (0-100, 10)
//	├── B (150-500, 20)
//	│   └── C (200-400, 5)
//	└── D (150-500, 100)
//	E (1000-1200, 1)
func sampleForest() *netlog.Forest {
	f := &netlog.Forest{}
	a := f.Add(-1, "A", netlog.Request{URL: "https://example.com/", StartMs: 0, EndMs: 100, TransferSize: 10})
	b := f.Add(a, "B", netlog.Request{StartMs: 150, EndMs: 500, TransferSize: 20})
	f.Add(b, "C", netlog.Request{StartMs: 200, EndMs: 400, TransferSize: 5})
	f.Add(a, "D", netlog.Request{StartMs: 150, EndMs: 500, TransferSize: 100})
	f.Add(-1, "E", netlog.Request{StartMs: 1000, EndMs: 1200, TransferSize: 1})
	return f
}

func TestLongestChain_FirstOfEqualWins(t *testing.T) {
	f := &netlog.Forest{}
	a := f.Add(-1, "A", netlog.Request{StartMs: 0, EndMs: 100, TransferSize: 10})
	b := f.Add(a, "B", netlog.Request{StartMs: 150, EndMs: 500, TransferSize: 20})
	f.Add(b, "C", netlog.Request{StartMs: 200, EndMs: 400, TransferSize: 5})
	f.Add(a, "D", netlog.Request{StartMs: 150, EndMs: 500, TransferSize: 100})

	got := LongestChain(f)
	assert.Equal(t, ChainSummary{DurationMs: 500, Length: 2, TransferSize: 30}, got)
}

func TestLongestChain_LaterRootsMeasuredFromFirstRoot(t *testing.T) {
	f := sampleForest()
	assert.Equal(t, ChainSummary{DurationMs: 1200, Length: 1, TransferSize: 1}, LongestChain(f))

	late := f.Add(f.Roots[1], "F", netlog.Request{StartMs: 1300, EndMs: 1800, TransferSize: 7})
	f.Add(late, "G", netlog.Request{StartMs: 1810, EndMs: 1900, TransferSize: 2})
	assert.Equal(t, ChainSummary{DurationMs: 1900, Length: 3, TransferSize: 10}, LongestChain(f))
}

func TestLongestChain_Empty(t *testing.T) {
	assert.Equal(t, ChainSummary{}, LongestChain(&netlog.Forest{}))
	assert.Equal(t, ChainSummary{}, LongestChain(nil))
}

func TestLongestChain_SingleRoot(t *testing.T) {
	f := &netlog.Forest{}
	f.Add(-1, "doc", netlog.Request{StartMs: 10, EndMs: 60, TransferSize: 3})
	assert.Equal(t, ChainSummary{DurationMs: 50, Length: 1, TransferSize: 3}, LongestChain(f))
}

func TestCountChains(t *testing.T) {
	assert.Equal(t, 2, CountChains(sampleForest()))
	assert.Equal(t, 0, CountChains(&netlog.Forest{}))

	lone := &netlog.Forest{}
	lone.Add(-1, "doc", netlog.Request{})
	assert.Equal(t, 0, CountChains(lone))
}

func TestLongestChain_FromDecodedMap(t *testing.T) {
	const chains = `{
	  "1": {"request": {"url": "https://example.com/", "startTime": 1, "endTime": 1.2, "transferSize": 4000},
	        "children": {
	          "2": {"request": {"url": "https://example.com/app.js", "startTime": 1.25, "endTime": 1.9, "transferSize": 900},
	                "children": {}},
	          "3": {"request": {"url": "https://example.com/s.css", "startTime": 1.25, "endTime": 1.4, "transferSize": 300},
	                "children": {}}
	        }}
	}`
	f, err := netlog.DecodeForest([]byte(chains))
	require.NoError(t, err)

	got := LongestChain(f)
	assert.InDelta(t, 900, got.DurationMs, 1e-6)
	assert.Equal(t, 2, got.Length)
	assert.Equal(t, 4900.0, got.TransferSize)
	assert.Equal(t, 2, CountChains(f))
}
