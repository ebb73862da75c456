package netlog

import (
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/obsidianstack/pagescore/pkg/types"
)

// DevTools protocol methods consumed by FromDevtoolsLog.
const (
	methodRequestWillBeSent       = "Network.requestWillBeSent"
	methodResponseReceived        = "Network.responseReceived"
	methodLoadingFinished         = "Network.loadingFinished"
	methodLoadingFailed           = "Network.loadingFailed"
	methodResourceChangedPriority = "Network.resourceChangedPriority"
)

// FromDevtoolsLog rebuilds network records from a DevTools protocol log, a
// JSON array of {method, params} messages. Records are returned in request
// order. A redirect closes the previous hop, renames it
// "<requestId>:redirected.N" and makes it the initiator of the next hop.
// Other initiators are resolved by URL: the parser URL or the top stack
// frame's URL, matched against the earliest earlier request for that URL.
func FromDevtoolsLog(data []byte) ([]Record, error) {
	if !gjson.ValidBytes(data) {
		return nil, types.Errorf(types.KindMalformedTrace, "netlog: invalid devtools log JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsArray() {
		return nil, types.Errorf(types.KindMalformedTrace, "netlog: devtools log must be an array")
	}

	var (
		records      []*Record
		live         = make(map[string]*Record)
		initiatorURL = make(map[*Record]string)
		redirects    = make(map[string]int)
	)

	root.ForEach(func(_, msg gjson.Result) bool {
		params := msg.Get("params")
		id := params.Get("requestId").String()
		ts := params.Get("timestamp").Float() * 1000

		switch msg.Get("method").String() {
		case methodRequestWillBeSent:
			rec := &Record{
				RequestID:    id,
				URL:          params.Get("request.url").String(),
				StartMs:      ts,
				EndMs:        -1,
				ResourceType: params.Get("type").String(),
				Priority:     params.Get("request.initialPriority").String(),
			}
			rec.Scheme = SchemeOf(rec.URL)

			if prev, ok := live[id]; ok && params.Get("redirectResponse").Exists() {
				redirects[id]++
				prev.RequestID = id + ":redirected." + strconv.Itoa(redirects[id])
				prev.EndMs = ts
				prev.Finished = true
				prev.MimeType = params.Get("redirectResponse.mimeType").String()
				rec.InitiatorRequestID = prev.RequestID
			} else {
				initiatorURL[rec] = initiatorOf(params.Get("initiator"))
			}
			live[id] = rec
			records = append(records, rec)

		case methodResponseReceived:
			if rec, ok := live[id]; ok {
				rec.MimeType = params.Get("response.mimeType").String()
				if typ := params.Get("type").String(); typ != "" {
					rec.ResourceType = typ
				}
			}

		case methodLoadingFinished:
			if rec, ok := live[id]; ok {
				rec.EndMs = ts
				rec.Finished = true
				rec.TransferSize = params.Get("encodedDataLength").Float()
			}

		case methodLoadingFailed:
			if rec, ok := live[id]; ok {
				rec.EndMs = ts
				rec.Finished = true
				rec.Failed = true
			}

		case methodResourceChangedPriority:
			if rec, ok := live[id]; ok {
				rec.Priority = params.Get("newPriority").String()
			}
		}
		return true
	})

	firstByURL := make(map[string]*Record)
	for _, rec := range records {
		if u := initiatorURL[rec]; u != "" {
			if parent, ok := firstByURL[u]; ok && parent != rec {
				rec.InitiatorRequestID = parent.RequestID
			}
		}
		if _, ok := firstByURL[rec.URL]; !ok {
			firstByURL[rec.URL] = rec
		}
	}

	out := make([]Record, len(records))
	for i, rec := range records {
		out[i] = *rec
	}
	return out, nil
}

func initiatorOf(init gjson.Result) string {
	if u := init.Get("url").String(); u != "" {
		return u
	}
	return init.Get("stack.callFrames.0.url").String()
}
