package netlog

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/obsidianstack/pagescore/pkg/types"
)

// Record is one network request. Times are milliseconds; EndMs is -1 while
// the request is unfinished.
type Record struct {
	RequestID          string  `json:"requestId,omitempty"`
	URL                string  `json:"url"`
	StartMs            float64 `json:"startTime"`
	EndMs              float64 `json:"endTime"`
	Finished           bool    `json:"finished"`
	Failed             bool    `json:"failed,omitempty"`
	TransferSize       float64 `json:"transferSize"`
	Scheme             string  `json:"scheme"`
	ResourceType       string  `json:"resourceType,omitempty"`
	MimeType           string  `json:"mimeType,omitempty"`
	Priority           string  `json:"priority,omitempty"`
	InitiatorRequestID string  `json:"initiatorRequestId,omitempty"`
}

// SchemeOf returns the lowercase scheme of rawURL, or "" if it has none.
func SchemeOf(rawURL string) string {
	i := strings.IndexByte(rawURL, ':')
	if i <= 0 {
		return ""
	}
	scheme := rawURL[:i]
	for j, c := range scheme {
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z':
		case j > 0 && ('0' <= c && c <= '9' || c == '+' || c == '-' || c == '.'):
		default:
			return ""
		}
	}
	return strings.ToLower(scheme)
}

// DecodeRecords reads a JSON array of records with second-based times:
// {url, startTime, endTime, finished, transferSize, scheme}. endTime may be
// absent or -1 for unfinished requests. The scheme is derived from the URL
// when not given.
func DecodeRecords(data []byte) ([]Record, error) {
	if !gjson.ValidBytes(data) {
		return nil, types.Errorf(types.KindMalformedTrace, "netlog: invalid records JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsArray() {
		return nil, types.Errorf(types.KindMalformedTrace, "netlog: records must be an array")
	}

	var out []Record
	root.ForEach(func(_, v gjson.Result) bool {
		rec := Record{
			RequestID:          v.Get("requestId").String(),
			URL:                v.Get("url").String(),
			StartMs:            v.Get("startTime").Float() * 1000,
			EndMs:              -1,
			Finished:           v.Get("finished").Bool(),
			Failed:             v.Get("failed").Bool(),
			TransferSize:       v.Get("transferSize").Float(),
			Scheme:             strings.ToLower(v.Get("scheme").String()),
			ResourceType:       v.Get("resourceType").String(),
			MimeType:           v.Get("mimeType").String(),
			Priority:           v.Get("priority").String(),
			InitiatorRequestID: v.Get("initiatorRequestId").String(),
		}
		if end := v.Get("endTime"); end.Exists() && end.Float() >= 0 {
			rec.EndMs = end.Float() * 1000
		}
		if rec.Scheme == "" {
			rec.Scheme = SchemeOf(rec.URL)
		}
		out = append(out, rec)
		return true
	})
	return out, nil
}
