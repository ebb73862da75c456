package netlog

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/obsidianstack/pagescore/pkg/types"
)

// Request is the part of a record carried by a chain node.
type Request struct {
	URL          string  `json:"url"`
	StartMs      float64 `json:"startMs"`
	EndMs        float64 `json:"endMs"`
	TransferSize float64 `json:"transferSize"`
}

// Node is a chain forest node. Parent is -1 for roots.
type Node struct {
	ID       string
	Parent   int
	Request  Request
	Children []int
}

// Forest is an arena of chain nodes. Parents always precede their children
// in Nodes, and Children and Roots keep insertion order.
type Forest struct {
	Nodes []Node
	Roots []int
}

// Add appends a node under parent (-1 for a new root) and returns its index.
func (f *Forest) Add(parent int, id string, req Request) int {
	idx := len(f.Nodes)
	f.Nodes = append(f.Nodes, Node{ID: id, Parent: parent, Request: req})
	if parent < 0 {
		f.Roots = append(f.Roots, idx)
	} else {
		f.Nodes[parent].Children = append(f.Nodes[parent].Children, idx)
	}
	return idx
}

// Len returns the number of nodes.
func (f *Forest) Len() int { return len(f.Nodes) }

// MarshalJSON renders the forest as nested {id: {request, children}} maps.
func (f *Forest) MarshalJSON() ([]byte, error) {
	children := make([]map[string]any, len(f.Nodes))
	built := make([]map[string]any, len(f.Nodes))
	for i := len(f.Nodes) - 1; i >= 0; i-- {
		kids := children[i]
		if kids == nil {
			kids = map[string]any{}
		}
		built[i] = map[string]any{"request": f.Nodes[i].Request, "children": kids}
		if p := f.Nodes[i].Parent; p >= 0 {
			if children[p] == nil {
				children[p] = make(map[string]any)
			}
			children[p][f.Nodes[i].ID] = built[i]
		}
	}
	roots := make(map[string]any, len(f.Roots))
	for _, r := range f.Roots {
		roots[f.Nodes[r].ID] = built[r]
	}
	return json.Marshal(roots)
}

// DecodeForest reads a nested chain map
// {id: {request: {url, startTime, endTime, transferSize}, children: {...}}}
// with second-based times. Sibling order follows the document.
func DecodeForest(data []byte) (*Forest, error) {
	if !gjson.ValidBytes(data) {
		return nil, types.Errorf(types.KindMalformedTrace, "netlog: invalid chains JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, types.Errorf(types.KindMalformedTrace, "netlog: chains must be an object")
	}

	type pending struct {
		obj    gjson.Result
		parent int
	}
	f := &Forest{}
	stack := []pending{{obj: root, parent: -1}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		top.obj.ForEach(func(key, val gjson.Result) bool {
			if !val.IsObject() {
				return true
			}
			req := val.Get("request")
			idx := f.Add(top.parent, key.String(), Request{
				URL:          req.Get("url").String(),
				StartMs:      req.Get("startTime").Float() * 1000,
				EndMs:        req.Get("endTime").Float() * 1000,
				TransferSize: req.Get("transferSize").Float(),
			})
			if kids := val.Get("children"); kids.IsObject() {
				stack = append(stack, pending{obj: kids, parent: idx})
			}
			return true
		})
	}
	return f, nil
}

// IsCritical reports whether rec can block rendering. Priority is the signal;
// images and XHR/fetch requests are never critical.
func IsCritical(rec Record) bool {
	switch rec.ResourceType {
	case "Image", "XHR", "Fetch":
		return false
	}
	if strings.HasPrefix(rec.MimeType, "image/") {
		return false
	}
	switch rec.Priority {
	case "VeryHigh", "High", "Medium":
		return true
	}
	return false
}

// BuildForest links finished critical records to their initiators. A record
// is dropped when any ancestor is unknown, non-critical, or part of an
// initiator cycle.
func BuildForest(records []Record) *Forest {
	byID := make(map[string]Record, len(records))
	for _, rec := range records {
		if rec.Finished {
			byID[rec.RequestID] = rec
		}
	}

	f := &Forest{}
	nodeOf := make(map[string]int)
	for _, rec := range records {
		if !rec.Finished || !IsCritical(rec) {
			continue
		}

		var ancestors []string
		broken := false
		for pid := rec.InitiatorRequestID; pid != ""; {
			parent, ok := byID[pid]
			if !ok || !IsCritical(parent) || pid == rec.RequestID || contains(ancestors, pid) {
				broken = true
				break
			}
			ancestors = append(ancestors, pid)
			pid = parent.InitiatorRequestID
		}
		if broken {
			continue
		}

		parent := -1
		for i := len(ancestors) - 1; i >= 0; i-- {
			id := ancestors[i]
			idx, ok := nodeOf[id]
			if !ok {
				idx = f.Add(parent, id, requestOf(byID[id]))
				nodeOf[id] = idx
			}
			parent = idx
		}
		if _, ok := nodeOf[rec.RequestID]; ok {
			continue
		}
		nodeOf[rec.RequestID] = f.Add(parent, rec.RequestID, requestOf(rec))
	}
	return f
}

func requestOf(rec Record) Request {
	return Request{URL: rec.URL, StartMs: rec.StartMs, EndMs: rec.EndMs, TransferSize: rec.TransferSize}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
